package luarules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisbranch/cardtable/internal/services/table/domain/event"
	"github.com/louisbranch/cardtable/internal/services/table/domain/projection"
	"github.com/louisbranch/cardtable/internal/services/table/domain/rules"
	"github.com/louisbranch/cardtable/internal/services/table/domain/state"
)

func seats() []state.Player {
	return []state.Player{{ID: "a", Name: "Ada"}, {ID: "b", Name: "Bo"}}
}

func play(t *testing.T, p rules.Plugin, s state.GameState, in rules.Intent, nextID *uint64) (state.GameState, rules.Result) {
	t.Helper()
	res := rules.Boundary{}.Validate(p, s, in)
	if !res.Valid {
		return s, res
	}
	applier := projection.Applier{CheckInvariants: true}
	for _, d := range res.EngineEvents {
		d, err := event.CoreRegistry().ValidateForAppend(d)
		require.NoError(t, err)
		*nextID++
		s, err = applier.Apply(s, event.Event{ID: *nextID, Type: d.Type, Actor: event.ActorEngine, PayloadJSON: d.PayloadJSON})
		require.NoError(t, err)
	}
	return s, res
}

func TestHighcardSetup(t *testing.T) {
	p, err := Highcard()
	require.NoError(t, err)
	assert.Equal(t, "highcard", p.ID())

	s, err := p.Setup(seats())
	require.NoError(t, err)
	assert.Len(t, s.Cards, 26)
	assert.Equal(t, "Q of hearts", s.Cards[24].Label)
	assert.True(t, s.Piles["deck"].Shuffle)
	assert.Len(t, s.Piles["deck"].CardIDs, 26)
	assert.Empty(t, s.Piles["table"].CardIDs)
	assert.Equal(t, state.VisibilityPublic, s.Piles["table"].Visibility)
	assert.Equal(t, "b", s.Piles["hand:b"].OwnerID)
	assert.Empty(t, s.CurrentPlayer)
	assert.JSONEq(t, `{"dealt":false}`, string(s.RulesState))
	require.NoError(t, s.CheckInvariants())

	_, err = p.Setup(seats()[:1])
	assert.Error(t, err)
}

func TestHighcardHints(t *testing.T) {
	p, err := Highcard()
	require.NoError(t, err)
	hints := p.ValidationHints()
	assert.Equal(t, []string{"table"}, hints.SharedPileIDs)
	require.NotNil(t, hints.IsPileAlwaysVisibleToRules)
	assert.True(t, hints.IsPileAlwaysVisibleToRules(state.Pile{ID: "deck"}))
	assert.False(t, hints.IsPileAlwaysVisibleToRules(state.Pile{ID: "hand:a"}))
}

func TestHighcardFullGame(t *testing.T) {
	p, err := Highcard()
	require.NoError(t, err)
	s, err := p.Setup(seats())
	require.NoError(t, err)
	var nextID uint64

	for _, seat := range []string{"a", "b"} {
		intents, err := rules.Boundary{}.ListLegalIntents(p, s, seat)
		require.NoError(t, err)
		require.Equal(t, []rules.Intent{{Type: rules.IntentAction, PlayerID: seat, Action: "deal"}}, intents)
	}

	s, res := play(t, p, s, rules.Intent{Type: rules.IntentAction, PlayerID: "b", Action: "deal"}, &nextID)
	require.True(t, res.Valid, res.Reason)
	assert.Equal(t, "a", s.CurrentPlayer)
	assert.Len(t, s.Piles["hand:a"].CardIDs, 3)
	assert.Len(t, s.Piles["hand:b"].CardIDs, 3)
	assert.Len(t, s.Piles["deck"].CardIDs, 20)
	assert.Empty(t, s.Actions)

	_, res = play(t, p, s, rules.Intent{Type: rules.IntentAction, PlayerID: "a", Action: "deal"}, &nextID)
	assert.False(t, res.Valid)
	assert.Equal(t, "Cards are already dealt", res.Reason)

	for turn := 0; turn < 6; turn++ {
		current := s.CurrentPlayer
		other := "b"
		if current == "b" {
			other = "a"
		}
		idle, err := rules.Boundary{}.ListLegalIntents(p, s, other)
		require.NoError(t, err)
		assert.Empty(t, idle)

		legal, err := rules.Boundary{}.ListLegalIntents(p, s, current)
		require.NoError(t, err)
		require.NotEmpty(t, legal)
		s, res = play(t, p, s, legal[0], &nextID)
		require.True(t, res.Valid, res.Reason)
	}

	assert.Len(t, s.Piles["table"].CardIDs, 6)
	assert.NotEmpty(t, s.Winner)
	assert.Equal(t, []state.Action{{ID: "restart", Label: "Play again"}}, s.Actions)

	var rs struct {
		BestValue  int    `json:"bestValue"`
		BestCardID int    `json:"bestCardId"`
		BestPlayer string `json:"bestPlayer"`
	}
	require.NoError(t, json.Unmarshal(s.RulesState, &rs))
	assert.Equal(t, s.Winner, rs.BestPlayer)
	for _, id := range s.Piles["table"].CardIDs {
		assert.LessOrEqual(t, value(s.Cards[id].Rank), rs.BestValue)
	}

	intents, err := rules.Boundary{}.ListLegalIntents(p, s, "b")
	require.NoError(t, err)
	assert.Equal(t, "restart", intents[0].Action)
}

func value(rank string) int {
	for i, r := range []string{"2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K", "A"} {
		if r == rank {
			return i + 1
		}
	}
	return 0
}

func TestHighcardRejectsPlayOutsideHand(t *testing.T) {
	p, err := Highcard()
	require.NoError(t, err)
	s, err := p.Setup(seats())
	require.NoError(t, err)
	var nextID uint64
	s, _ = play(t, p, s, rules.Intent{Type: rules.IntentAction, PlayerID: "a", Action: "deal"}, &nextID)

	card := s.Piles["hand:b"].CardIDs[0]
	_, res := play(t, p, s, rules.Intent{Type: rules.IntentMove, PlayerID: "a", FromPileID: "hand:b", ToPileID: "table", CardID: &card}, &nextID)
	assert.False(t, res.Valid)
	assert.Equal(t, "Play from your hand onto the table", res.Reason)
}

func TestHighcardAIContext(t *testing.T) {
	p, err := Highcard()
	require.NoError(t, err)
	s, err := p.Setup(seats())
	require.NoError(t, err)

	ctx := rules.Boundary{}.BuildAIContext(p, s, "a")
	assert.Contains(t, ctx.Recap, "highest card")
	assert.Empty(t, ctx.Facts)
}

func TestScriptErrorBecomesInternalRuleError(t *testing.T) {
	p, err := New("broken", `
function validate(state, intent)
  error("boom")
end
`)
	require.NoError(t, err)
	res := rules.Boundary{}.Validate(p, state.GameState{}, rules.Intent{Type: rules.IntentAction, PlayerID: "a"})
	assert.False(t, res.Valid)
	assert.Equal(t, rules.ReasonInternalRuleError, res.Reason)
}

func TestMissingFunction(t *testing.T) {
	p, err := New("partial", `x = 1`)
	require.NoError(t, err)
	_, err = p.ListLegalIntentsForPlayer(rules.ValidationState{}, "a")
	assert.ErrorContains(t, err, "does not define legal_intents")
	assert.Equal(t, rules.AIContext{}, p.BuildAIContext(rules.ValidationState{}, "a"))
}

func TestSyntaxErrorFailsNew(t *testing.T) {
	_, err := New("bad", `function (`)
	assert.Error(t, err)

	_, err = New(" ", `x = 1`)
	assert.ErrorIs(t, err, rules.ErrRulesIDRequired)
}

func TestSandbox(t *testing.T) {
	p, err := New("probe", `
function probe()
  return {
    io = io == nil,
    os = os == nil,
    dofile = dofile == nil,
    load = load == nil,
    require = require == nil,
    math = math ~= nil,
    helpers = cardtable ~= nil,
  }
end
`)
	require.NoError(t, err)
	var out map[string]bool
	require.NoError(t, p.call("probe", &out))
	for name, ok := range out {
		assert.True(t, ok, name)
	}
	assert.Len(t, out, 7)
}

func TestScriptStateDoesNotLeakBetweenCalls(t *testing.T) {
	p, err := New("counter", `
count = 0
function bump()
  count = count + 1
  return {count = count}
end
`)
	require.NoError(t, err)
	for range 2 {
		var out struct {
			Count int `json:"count"`
		}
		require.NoError(t, p.call("bump", &out))
		assert.Equal(t, 1, out.Count)
	}
}

func TestHelperMove(t *testing.T) {
	p, err := New("helper", `
function build()
  return cardtable.move("deck", "hand:a", {3, 1})
end
`)
	require.NoError(t, err)
	var d event.Draft
	require.NoError(t, p.call("build", &d))
	assert.Equal(t, event.TypeMoveCards, d.Type)
	assert.JSONEq(t, `{"fromPileId":"deck","toPileId":"hand:a","cardIds":[3,1]}`, string(d.PayloadJSON))
}
