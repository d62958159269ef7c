package gamestore

import (
	"context"
	"errors"
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisbranch/cardtable/internal/services/table/domain/event"
	"github.com/louisbranch/cardtable/internal/services/table/domain/rules"
	"github.com/louisbranch/cardtable/internal/services/table/domain/rules/eights"
	"github.com/louisbranch/cardtable/internal/services/table/domain/state"
)

func seats() []state.Player {
	return []state.Player{{ID: "a", Name: "Ada"}, {ID: "b", Name: "Bo"}}
}

func newStore(t *testing.T, cfg Config, opts ...Option) *Store {
	t.Helper()
	registry, err := rules.NewRegistry(eights.New())
	require.NoError(t, err)
	cfg.CheckInvariants = true
	return New(cfg, registry, opts...)
}

func create(t *testing.T, s *Store, gameID, seed string) state.GameState {
	t.Helper()
	initial, err := s.InitGame(context.Background(), CreateParams{GameID: gameID, RulesID: eights.ID, Players: seats(), Seed: seed})
	require.NoError(t, err)
	return initial
}

func deal(t *testing.T, s *Store, gameID string) []event.Event {
	t.Helper()
	var committed []event.Event
	err := s.Transact(context.Background(), gameID, func(tx *Tx) error {
		in := rules.Intent{Type: rules.IntentAction, PlayerID: "a", Action: eights.ActionDeal}
		res := rules.Boundary{}.Validate(tx.Plugin(), tx.State(), in)
		require.True(t, res.Valid, res.Reason)
		var err error
		committed, err = tx.Append(event.ActorEngine, res.EngineEvents)
		return err
	})
	require.NoError(t, err)
	return committed
}

func sortedHand(s state.GameState, playerID string) []int {
	return slices.Sorted(slices.Values(s.Piles[eights.HandPileID(playerID)].CardIDs))
}

// handFaces lists the rank and suit of every card in a seat's hand.
func handFaces(s state.GameState, playerID string) []string {
	var out []string
	for _, id := range s.Piles[eights.HandPileID(playerID)].CardIDs {
		c := s.Cards[id]
		out = append(out, c.Rank+" of "+c.Suit)
	}
	slices.Sort(out)
	return out
}

// reversedPiles is eights with its piles inserted in reverse key order.
type reversedPiles struct {
	*eights.Plugin
}

func (reversedPiles) ID() string { return "eights-reversed" }

func (p reversedPiles) Setup(players []state.Player) (state.GameState, error) {
	s, err := p.Plugin.Setup(players)
	if err != nil {
		return state.GameState{}, err
	}
	keys := slices.Sorted(maps.Keys(s.Piles))
	slices.Reverse(keys)
	piles := make(map[string]state.Pile, len(keys))
	for _, k := range keys {
		piles[k] = s.Piles[k]
	}
	s.Piles = piles
	return s, nil
}

func TestInitGameShufflesAndRecordsSeed(t *testing.T) {
	s := newStore(t, Config{})
	initial := create(t, s, "g1", "seed-1")

	assert.Equal(t, "g1", initial.GameID)
	assert.Equal(t, eights.ID, initial.RulesID)
	assert.Equal(t, "seed-1", initial.Seed)
	assert.Equal(t, uint64(0), initial.Version)
	assert.Len(t, initial.Piles[eights.PileDeck].CardIDs, 52)
	assert.False(t, slices.IsSorted(initial.Piles[eights.PileDeck].CardIDs))
	require.NoError(t, initial.CheckInvariants())

	snap, err := s.Snapshot("g1")
	require.NoError(t, err)
	assert.NotEmpty(t, snap.Salt)
	assert.Equal(t, eights.ID, snap.Plugin.ID())
	assert.Zero(t, snap.EventCount)
}

func TestInitGameGeneratesIDAndSeed(t *testing.T) {
	s := newStore(t, Config{},
		WithIDSource(func() (string, error) { return "generated", nil }),
		WithSeedSource(func() (string, error) { return "drawn", nil }),
	)
	initial, err := s.InitGame(context.Background(), CreateParams{RulesID: eights.ID, Players: seats()})
	require.NoError(t, err)
	assert.Equal(t, "generated", initial.GameID)
	assert.Equal(t, "drawn", initial.Seed)
}

func TestInitGameRejects(t *testing.T) {
	s := newStore(t, Config{MaxActiveGames: 1})
	create(t, s, "g1", "x")

	tests := []struct {
		name   string
		params CreateParams
		want   error
	}{
		{name: "cap", params: CreateParams{GameID: "g2", RulesID: eights.ID, Players: seats()}, want: ErrTooManyGames},
		{name: "duplicate id", params: CreateParams{GameID: "g1", RulesID: eights.ID, Players: seats()}, want: ErrGameExists},
		{name: "unknown rules", params: CreateParams{GameID: "g3", RulesID: "poker", Players: seats()}, want: rules.ErrRulesNotFound},
		{name: "no players", params: CreateParams{GameID: "g3", RulesID: eights.ID}, want: ErrInvalidSetup},
		{name: "duplicate players", params: CreateParams{GameID: "g3", RulesID: eights.ID, Players: []state.Player{{ID: "a"}, {ID: "a"}}}, want: ErrInvalidSetup},
		{name: "bad runtime", params: CreateParams{GameID: "g3", RulesID: eights.ID, Players: []state.Player{{ID: "a"}, {ID: "b", AIRuntime: "cloud"}}}, want: ErrInvalidSetup},
		{name: "plugin refuses", params: CreateParams{GameID: "g3", RulesID: eights.ID, Players: []state.Player{{ID: "a"}}}, want: ErrInvalidSetup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.InitGame(context.Background(), tt.params)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 1, s.ActiveGames())
}

func TestDealSameSeedGivesSameHands(t *testing.T) {
	s := newStore(t, Config{})
	create(t, s, "g1", "DEAL-SAME-SEED")
	create(t, s, "g2", "DEAL-SAME-SEED")
	create(t, s, "g3", "other")
	deal(t, s, "g1")
	deal(t, s, "g2")
	deal(t, s, "g3")

	one, err := s.State("g1")
	require.NoError(t, err)
	two, err := s.State("g2")
	require.NoError(t, err)
	three, err := s.State("g3")
	require.NoError(t, err)

	for _, seat := range []string{"a", "b"} {
		assert.Equal(t, sortedHand(one, seat), sortedHand(two, seat))
	}
	assert.NotEqual(t, sortedHand(one, "a"), sortedHand(three, "a"))
}

func TestDealSameSeedIgnoresPileOrder(t *testing.T) {
	registry, err := rules.NewRegistry(eights.New(), reversedPiles{eights.New()})
	require.NoError(t, err)
	s := New(Config{CheckInvariants: true}, registry)
	for gameID, rulesID := range map[string]string{"plain": eights.ID, "reversed": "eights-reversed"} {
		_, err := s.InitGame(context.Background(), CreateParams{GameID: gameID, RulesID: rulesID, Players: seats(), Seed: "DEAL-SAME-SEED"})
		require.NoError(t, err)
		deal(t, s, gameID)
	}

	plain, err := s.State("plain")
	require.NoError(t, err)
	reversed, err := s.State("reversed")
	require.NoError(t, err)
	for _, seat := range []string{"a", "b"} {
		faces := handFaces(plain, seat)
		assert.Len(t, faces, 5)
		assert.Equal(t, faces, handFaces(reversed, seat), seat)
	}
	assert.Equal(t, plain.Piles[eights.PileDiscard].CardIDs, reversed.Piles[eights.PileDiscard].CardIDs)
}

func TestAppendCommitsAndReplays(t *testing.T) {
	s := newStore(t, Config{})
	create(t, s, "g1", "seed")
	committed := deal(t, s, "g1")
	require.NotEmpty(t, committed)

	for i, evt := range committed {
		assert.Equal(t, uint64(i+1), evt.ID)
		assert.Equal(t, "g1", evt.GameID)
		assert.Equal(t, event.ActorEngine, evt.Actor)
	}

	current, err := s.State("g1")
	require.NoError(t, err)
	assert.Equal(t, committed[len(committed)-1].ID, current.Version)

	replayed, err := s.Replay("g1")
	require.NoError(t, err)
	assert.Equal(t, current, replayed)

	events, err := s.Events("g1")
	require.NoError(t, err)
	assert.Equal(t, committed, events)
}

func TestAppendIsAtomic(t *testing.T) {
	s := newStore(t, Config{})
	initial := create(t, s, "g1", "seed")

	top, _ := initial.Piles[eights.PileDeck].Top()
	err := s.Transact(context.Background(), "g1", func(tx *Tx) error {
		_, err := tx.Append("a", []event.Draft{
			event.MoveCards(eights.PileDeck, eights.HandPileID("a"), top),
			event.MoveCards("nowhere", eights.HandPileID("a"), top),
		})
		return err
	})
	require.Error(t, err)

	current, err := s.State("g1")
	require.NoError(t, err)
	assert.Equal(t, initial, current)

	err = s.Transact(context.Background(), "g1", func(tx *Tx) error {
		_, err := tx.Append(event.ActorEngine, []event.Draft{{Type: "teleport"}})
		return err
	})
	assert.ErrorIs(t, err, event.ErrTypeUnknown)
}

func TestResetRestoresInitialDeal(t *testing.T) {
	s := newStore(t, Config{})
	initial := create(t, s, "g1", "seed")
	first := deal(t, s, "g1")

	require.NoError(t, s.ResetGame(context.Background(), "g1"))
	current, err := s.State("g1")
	require.NoError(t, err)
	assert.Equal(t, initial.Piles, current.Piles)
	events, err := s.Events("g1")
	require.NoError(t, err)
	assert.Empty(t, events)

	lastID := first[len(first)-1].ID
	assert.Equal(t, lastID, current.Version)
	replayed, err := s.Replay("g1")
	require.NoError(t, err)
	assert.Equal(t, current.Version, replayed.Version)
	assert.Equal(t, current.Piles, replayed.Piles)

	second := deal(t, s, "g1")
	assert.Greater(t, second[0].ID, lastID)

	replayed, err = s.Replay("g1")
	require.NoError(t, err)
	current, err = s.State("g1")
	require.NoError(t, err)
	assert.Equal(t, current.Piles, replayed.Piles)
	assert.Equal(t, second[len(second)-1].ID, replayed.Version)
	assert.Equal(t, current.Version, replayed.Version)
}

func TestResetWithSeedReshuffles(t *testing.T) {
	s := newStore(t, Config{})
	initial := create(t, s, "g1", "seed")
	deal(t, s, "g1")

	require.NoError(t, s.ResetGameWithSeed(context.Background(), "g1", "another"))
	current, err := s.State("g1")
	require.NoError(t, err)
	assert.Equal(t, "another", current.Seed)
	assert.NotEqual(t, initial.Piles[eights.PileDeck].CardIDs, current.Piles[eights.PileDeck].CardIDs)
	assert.ElementsMatch(t, initial.Piles[eights.PileDeck].CardIDs, current.Piles[eights.PileDeck].CardIDs)

	require.NoError(t, s.ResetGameWithSeed(context.Background(), "g1", "seed"))
	current, err = s.State("g1")
	require.NoError(t, err)
	assert.Equal(t, initial.Piles, current.Piles)
}

func TestCloseGame(t *testing.T) {
	s := newStore(t, Config{})
	create(t, s, "g1", "seed")
	require.NoError(t, s.CloseGame("g1"))
	assert.ErrorIs(t, s.CloseGame("g1"), ErrGameNotFound)

	_, err := s.State("g1")
	assert.ErrorIs(t, err, ErrGameNotFound)
	err = s.Transact(context.Background(), "g1", func(*Tx) error { return nil })
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestSweepEvictsFinishedGamesAfterTTL(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newStore(t, Config{FinishedGameTTL: 10 * time.Minute}, WithClock(func() time.Time { return now }))
	create(t, s, "done", "seed")
	create(t, s, "live", "seed")

	err := s.Transact(context.Background(), "done", func(tx *Tx) error {
		_, err := tx.Append(event.ActorEngine, []event.Draft{event.SetWinner("a")})
		return err
	})
	require.NoError(t, err)

	assert.Empty(t, s.Sweep(now.Add(9*time.Minute)))
	assert.Equal(t, []string{"done"}, s.Sweep(now.Add(10*time.Minute)))
	assert.Equal(t, 1, s.ActiveGames())
	_, err = s.State("live")
	assert.NoError(t, err)
}

func TestResetClearsFinishedMark(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newStore(t, Config{FinishedGameTTL: time.Minute}, WithClock(func() time.Time { return now }))
	create(t, s, "g1", "seed")
	err := s.Transact(context.Background(), "g1", func(tx *Tx) error {
		_, err := tx.Append(event.ActorEngine, []event.Draft{event.SetWinner("b")})
		return err
	})
	require.NoError(t, err)
	require.NoError(t, s.ResetGame(context.Background(), "g1"))
	assert.Empty(t, s.Sweep(now.Add(time.Hour)))
}

func TestRunStopsWithContext(t *testing.T) {
	s := newStore(t, Config{SweepInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestTransactPropagatesCallbackError(t *testing.T) {
	s := newStore(t, Config{})
	create(t, s, "g1", "seed")
	boom := errors.New("boom")
	err := s.Transact(context.Background(), "g1", func(*Tx) error { return boom })
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Transact(ctx, "g1", func(*Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
