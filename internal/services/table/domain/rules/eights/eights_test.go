package eights

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisbranch/cardtable/internal/services/table/domain/event"
	"github.com/louisbranch/cardtable/internal/services/table/domain/projection"
	"github.com/louisbranch/cardtable/internal/services/table/domain/rules"
	"github.com/louisbranch/cardtable/internal/services/table/domain/state"
)

func players() []state.Player {
	return []state.Player{{ID: "a", Name: "Ada"}, {ID: "b", Name: "Bo"}}
}

type table struct {
	t      *testing.T
	plugin *Plugin
	state  state.GameState
	nextID uint64
}

func newTable(t *testing.T) *table {
	t.Helper()
	p := New()
	s, err := p.Setup(players())
	require.NoError(t, err)
	return &table{t: t, plugin: p, state: s}
}

func (tb *table) submit(in rules.Intent) rules.Result {
	tb.t.Helper()
	res := rules.Boundary{}.Validate(tb.plugin, tb.state, in)
	if !res.Valid {
		return res
	}
	applier := projection.Applier{CheckInvariants: true}
	for _, d := range res.EngineEvents {
		tb.nextID++
		next, err := applier.Apply(tb.state, event.Event{ID: tb.nextID, Type: d.Type, Actor: event.ActorEngine, PayloadJSON: d.PayloadJSON})
		require.NoError(tb.t, err)
		tb.state = next
	}
	return res
}

func action(player, name string) rules.Intent {
	return rules.Intent{Type: rules.IntentAction, PlayerID: player, Action: name}
}

func TestSetup(t *testing.T) {
	s, err := New().Setup(players())
	require.NoError(t, err)
	assert.Len(t, s.Cards, 52)
	assert.Len(t, s.Piles[PileDeck].CardIDs, 52)
	assert.True(t, s.Piles[PileDeck].Shuffle)
	assert.Equal(t, "a", s.Piles[HandPileID("a")].OwnerID)
	assert.Equal(t, "Queen of Hearts", s.Cards[38].Label)
	assert.Empty(t, s.CurrentPlayer)
	require.NoError(t, s.CheckInvariants())

	_, err = New().Setup(players()[:1])
	assert.Error(t, err)
}

func TestDeal(t *testing.T) {
	tb := newTable(t)
	require.True(t, tb.submit(action("a", ActionDeal)).Valid)

	assert.Len(t, tb.state.Piles[HandPileID("a")].CardIDs, handSize)
	assert.Len(t, tb.state.Piles[HandPileID("b")].CardIDs, handSize)
	assert.Len(t, tb.state.Piles[PileDiscard].CardIDs, 1)
	assert.Len(t, tb.state.Piles[PileDeck].CardIDs, 52-2*handSize-1)
	assert.Equal(t, "a", tb.state.CurrentPlayer)
	assert.Empty(t, tb.state.Actions)
	assert.Equal(t, "Cards dealt", tb.state.Announcement)

	res := tb.submit(action("a", ActionDeal))
	assert.False(t, res.Valid)
}

func TestLegalIntentsFollowTurn(t *testing.T) {
	tb := newTable(t)
	for _, seat := range []string{"a", "b"} {
		vs := rules.BuildValidationState(tb.state, tb.plugin.ValidationHints(), seat, nil)
		intents, err := tb.plugin.ListLegalIntentsForPlayer(vs, seat)
		require.NoError(t, err)
		assert.Equal(t, []rules.Intent{{Type: rules.IntentAction, Action: ActionDeal}}, intents, seat)
	}

	tb.submit(action("b", ActionDeal))
	assert.Equal(t, "a", tb.state.CurrentPlayer)
	vs := rules.BuildValidationState(tb.state, tb.plugin.ValidationHints(), "b", nil)
	intents, err := tb.plugin.ListLegalIntentsForPlayer(vs, "b")
	require.NoError(t, err)
	assert.Empty(t, intents, "not b's turn")

	vs = rules.BuildValidationState(tb.state, tb.plugin.ValidationHints(), "a", nil)
	intents, err = tb.plugin.ListLegalIntentsForPlayer(vs, "a")
	require.NoError(t, err)
	require.NotEmpty(t, intents)
	assert.Equal(t, ActionDraw, intents[len(intents)-1].Action)
}

func TestEveryLegalIntentValidates(t *testing.T) {
	tb := newTable(t)
	for turn := 0; turn < 200 && tb.state.Winner == ""; turn++ {
		current := tb.state.CurrentPlayer
		if current == "" {
			current = "b"
		}
		vs := rules.BuildValidationState(tb.state, tb.plugin.ValidationHints(), current, nil)
		intents, err := tb.plugin.ListLegalIntentsForPlayer(vs, current)
		require.NoError(t, err)
		require.NotEmpty(t, intents, "turn %d", turn)

		in := intents[0]
		in.PlayerID = current
		res := tb.submit(in)
		require.True(t, res.Valid, "turn %d: %s", turn, res.Reason)
	}
	assert.NotEmpty(t, tb.state.Winner)
	assert.Equal(t, rules.ActionRestart, tb.state.Actions[0].ID)
}

func TestPlayRejectsMismatchedCard(t *testing.T) {
	tb := newTable(t)
	tb.submit(action("a", ActionDeal))

	discardTop, _ := tb.state.Piles[PileDiscard].Top()
	top := tb.state.Cards[discardTop]
	var bad int
	for _, id := range tb.state.Piles[HandPileID("a")].CardIDs {
		c := tb.state.Cards[id]
		if c.Rank != "8" && c.Rank != top.Rank && c.Suit != top.Suit {
			bad = id
			break
		}
	}
	if bad == 0 {
		t.Skip("dealt hand has no mismatching card")
	}
	res := tb.submit(rules.Intent{Type: rules.IntentMove, PlayerID: "a", FromPileID: HandPileID("a"), ToPileID: PileDiscard, CardID: &bad})
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "match")
}

func TestPlayedByLookupOnlyTracksLastPlay(t *testing.T) {
	tb := newTable(t)
	tb.submit(action("a", ActionDeal))
	lookup := tb.plugin.ValidationHints().BuildPlayedByLookup(tb.state)
	assert.Empty(t, lookup)
}

func TestAIContext(t *testing.T) {
	tb := newTable(t)
	tb.submit(action("a", ActionDeal))
	vs := rules.BuildValidationState(tb.state, tb.plugin.ValidationHints(), "a", nil)
	ctx := tb.plugin.BuildAIContext(vs, "a")
	assert.NotEmpty(t, ctx.Recap)
	assert.Contains(t, ctx.Facts, "You hold 5 cards.")
	assert.Contains(t, ctx.Facts, "Bo holds 5 cards.")
}
