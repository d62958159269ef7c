// Package gamestore keeps live games in memory: the frozen setup, the
// shuffled initial snapshot, the append-only event log and the current
// projection.
//
// Every read-validate-commit sequence for a game runs under that game's
// lock through Transact, so intents for one game are adjudicated strictly
// in commit order while different games proceed independently.
package gamestore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/louisbranch/cardtable/internal/platform/id"
	"github.com/louisbranch/cardtable/internal/random"
	"github.com/louisbranch/cardtable/internal/services/table/domain/event"
	"github.com/louisbranch/cardtable/internal/services/table/domain/projection"
	"github.com/louisbranch/cardtable/internal/services/table/domain/rules"
	"github.com/louisbranch/cardtable/internal/services/table/domain/shuffle"
	"github.com/louisbranch/cardtable/internal/services/table/domain/state"
)

var (
	// ErrGameNotFound indicates an unknown or closed game.
	ErrGameNotFound = errors.New("game not found")
	// ErrGameExists indicates a duplicate game id.
	ErrGameExists = errors.New("game already exists")
	// ErrTooManyGames indicates the active game cap is reached.
	ErrTooManyGames = errors.New("too many active games")
	// ErrInvalidSetup indicates bad seats or a broken plugin layout.
	ErrInvalidSetup = errors.New("invalid game setup")
)

// Config bounds the store.
type Config struct {
	// MaxActiveGames caps live games; zero means unlimited.
	MaxActiveGames int
	// FinishedGameTTL is how long a game with a winner survives sweeps.
	FinishedGameTTL time.Duration
	// SweepInterval drives Run.
	SweepInterval time.Duration
	// CheckInvariants enables conservation checks after every event.
	CheckInvariants bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSeedSource overrides how seeds are drawn for games created or
// restarted without one.
func WithSeedSource(newSeed func() (string, error)) Option {
	return func(s *Store) {
		if newSeed != nil {
			s.newSeed = newSeed
		}
	}
}

// WithSaltSource overrides how per-game view salts are drawn.
func WithSaltSource(newSalt func() (string, error)) Option {
	return func(s *Store) {
		if newSalt != nil {
			s.newSalt = newSalt
		}
	}
}

// WithIDSource overrides how game ids are generated.
func WithIDSource(newID func() (string, error)) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// Store holds every live game.
type Store struct {
	cfg     Config
	rules   *rules.Registry
	events  *event.Registry
	applier projection.Applier
	logger  *zap.Logger
	now     func() time.Time
	newSeed func() (string, error)
	newSalt func() (string, error)
	newID   func() (string, error)
	mu      sync.RWMutex
	games   map[string]*game
}

type game struct {
	mu         sync.Mutex
	plugin     rules.Plugin
	salt       string
	setup      state.GameState
	initial    state.GameState
	current    state.GameState
	log        []event.Event
	lastID     uint64
	finishedAt time.Time
	closed     bool
}

// New creates an empty store over the given rules registry.
func New(cfg Config, registry *rules.Registry, opts ...Option) *Store {
	s := &Store{
		cfg:     cfg,
		rules:   registry,
		events:  event.CoreRegistry(),
		logger:  zap.NewNop(),
		now:     time.Now,
		newSeed: random.NewSeed,
		newSalt: random.NewSalt,
		newID:   id.NewID,
		games:   map[string]*game{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.applier = projection.Applier{Logger: s.logger, CheckInvariants: cfg.CheckInvariants}
	return s
}

// Rules returns the registry games are created from.
func (s *Store) Rules() *rules.Registry {
	return s.rules
}

// CreateParams describes a new game.
type CreateParams struct {
	// GameID is generated when empty.
	GameID  string
	RulesID string
	Players []state.Player
	// Seed is drawn at random when empty.
	Seed string
}

// InitGame sets up, shuffles and registers a new game.
func (s *Store) InitGame(ctx context.Context, p CreateParams) (state.GameState, error) {
	if err := ctx.Err(); err != nil {
		return state.GameState{}, err
	}
	if err := validatePlayers(p.Players); err != nil {
		return state.GameState{}, err
	}
	plugin, err := s.rules.Get(p.RulesID)
	if err != nil {
		return state.GameState{}, err
	}
	gameID := strings.TrimSpace(p.GameID)
	if gameID == "" {
		if gameID, err = s.newID(); err != nil {
			return state.GameState{}, fmt.Errorf("generate game id: %w", err)
		}
	}
	salt, err := s.newSalt()
	if err != nil {
		return state.GameState{}, fmt.Errorf("generate salt: %w", err)
	}
	seed := p.Seed
	if strings.TrimSpace(seed) == "" {
		if seed, err = s.newSeed(); err != nil {
			return state.GameState{}, fmt.Errorf("generate seed: %w", err)
		}
	}

	setup, err := runSetup(plugin, slices.Clone(p.Players))
	if err != nil {
		return state.GameState{}, fmt.Errorf("%w: %v", ErrInvalidSetup, err)
	}
	setup.GameID = gameID
	setup.RulesID = plugin.ID()
	setup.Players = slices.Clone(p.Players)
	setup.Version = 0
	if err := setup.CheckInvariants(); err != nil {
		return state.GameState{}, fmt.Errorf("%w: %v", ErrInvalidSetup, err)
	}
	if _, ok := setup.Player(setup.CurrentPlayer); setup.CurrentPlayer != "" && !ok {
		return state.GameState{}, fmt.Errorf("%w: current player %q is not seated", ErrInvalidSetup, setup.CurrentPlayer)
	}

	initial := Deal(setup, seed)
	g := &game{plugin: plugin, salt: salt, setup: setup, initial: initial, current: initial}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.games[gameID]; exists {
		return state.GameState{}, fmt.Errorf("%w: %s", ErrGameExists, gameID)
	}
	if s.cfg.MaxActiveGames > 0 && len(s.games) >= s.cfg.MaxActiveGames {
		return state.GameState{}, ErrTooManyGames
	}
	s.games[gameID] = g
	s.logger.Info("game created",
		zap.String("game_id", gameID),
		zap.String("rules_id", plugin.ID()),
		zap.Int("players", len(p.Players)),
	)
	return initial, nil
}

func validatePlayers(players []state.Player) error {
	if len(players) == 0 {
		return fmt.Errorf("%w: at least one player is required", ErrInvalidSetup)
	}
	seen := make(map[string]struct{}, len(players))
	for _, p := range players {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("%w: player id is required", ErrInvalidSetup)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: duplicate player %q", ErrInvalidSetup, p.ID)
		}
		seen[p.ID] = struct{}{}
		switch p.AIRuntime {
		case state.AIRuntimeNone, state.AIRuntimeServer, state.AIRuntimeClient:
		default:
			return fmt.Errorf("%w: player %q has unknown ai runtime %q", ErrInvalidSetup, p.ID, p.AIRuntime)
		}
	}
	return nil
}

func runSetup(plugin rules.Plugin, players []state.Player) (s state.GameState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rules %s setup panicked: %v", plugin.ID(), r)
		}
	}()
	return plugin.Setup(players)
}

// Deal shuffles every pile of setup marked for shuffling, grouped piles
// together, and records the seed.
func Deal(setup state.GameState, seed string) state.GameState {
	var targets []shuffle.Target
	for _, pileID := range setup.PileIDs() {
		p := setup.Piles[pileID]
		if !p.Shuffle && p.ShuffleGroup == "" {
			continue
		}
		targets = append(targets, shuffle.Target{PileID: p.ID, Group: p.ShuffleGroup, CardIDs: p.CardIDs})
	}
	dealt := setup
	dealt.Seed = seed
	if len(targets) == 0 {
		return dealt
	}
	layout := shuffle.Layout(seed, targets)
	piles := make([]state.Pile, 0, len(layout))
	for _, pileID := range slices.Sorted(maps.Keys(layout)) {
		p := setup.Piles[pileID]
		p.CardIDs = layout[pileID]
		piles = append(piles, p)
	}
	return dealt.WithPiles(piles...)
}

func (s *Store) lookup(gameID string) (*game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[gameID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}
	return g, nil
}

// Snapshot is a consistent read of one game.
type Snapshot struct {
	State      state.GameState
	Salt       string
	Plugin     rules.Plugin
	EventCount int
}

// Snapshot returns the current state with the game's salt and plugin.
func (s *Store) Snapshot(gameID string) (Snapshot, error) {
	g, err := s.lookup(gameID)
	if err != nil {
		return Snapshot{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}
	return Snapshot{State: g.current, Salt: g.salt, Plugin: g.plugin, EventCount: len(g.log)}, nil
}

// State returns the current projection.
func (s *Store) State(gameID string) (state.GameState, error) {
	snap, err := s.Snapshot(gameID)
	return snap.State, err
}

// Events returns a copy of the event log since the last reset.
func (s *Store) Events(gameID string) ([]event.Event, error) {
	g, err := s.lookup(gameID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.log), nil
}

// Replay folds the log over the initial snapshot. It matches State unless
// the projection is broken. Version is the last event id, which survives a
// reset even though the log does not.
func (s *Store) Replay(gameID string) (state.GameState, error) {
	g, err := s.lookup(gameID)
	if err != nil {
		return state.GameState{}, err
	}
	g.mu.Lock()
	initial, log, version := g.initial, slices.Clone(g.log), g.lastID
	g.mu.Unlock()
	replayed, err := s.applier.Project(initial, log)
	if err != nil {
		return state.GameState{}, err
	}
	replayed.Version = version
	return replayed, nil
}

// ActiveGames counts live games.
func (s *Store) ActiveGames() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.games)
}

// Transact runs fn with exclusive access to one game.
func (s *Store) Transact(ctx context.Context, gameID string, fn func(*Tx) error) error {
	g, err := s.lookup(gameID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&Tx{store: s, game: g, gameID: gameID})
}

// ResetGame clears the log and restores the initial deal.
func (s *Store) ResetGame(ctx context.Context, gameID string) error {
	return s.Transact(ctx, gameID, func(tx *Tx) error {
		tx.Reset()
		return nil
	})
}

// ResetGameWithSeed clears the log and deals again with seed, or with a
// fresh random seed when seed is empty.
func (s *Store) ResetGameWithSeed(ctx context.Context, gameID, seed string) error {
	return s.Transact(ctx, gameID, func(tx *Tx) error {
		return tx.ResetWithSeed(seed)
	})
}

// CloseGame removes a game. Transactions already waiting on it fail with
// ErrGameNotFound.
func (s *Store) CloseGame(gameID string) error {
	s.mu.Lock()
	g, ok := s.games[gameID]
	delete(s.games, gameID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	s.logger.Info("game closed", zap.String("game_id", gameID))
	return nil
}

// Sweep closes games whose winner was declared at least FinishedGameTTL
// before now and returns their ids in sorted order.
func (s *Store) Sweep(now time.Time) []string {
	s.mu.RLock()
	var expired []string
	for gameID, g := range s.games {
		g.mu.Lock()
		if !g.finishedAt.IsZero() && now.Sub(g.finishedAt) >= s.cfg.FinishedGameTTL {
			expired = append(expired, gameID)
		}
		g.mu.Unlock()
	}
	s.mu.RUnlock()

	slices.Sort(expired)
	for _, gameID := range expired {
		if err := s.CloseGame(gameID); err == nil {
			s.logger.Info("finished game swept", zap.String("game_id", gameID))
		}
	}
	return expired
}

// Run sweeps on SweepInterval until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}

// Tx is exclusive access to one game inside Transact. It must not be used
// after the callback returns.
type Tx struct {
	store  *Store
	game   *game
	gameID string
}

// GameID returns the game being accessed.
func (tx *Tx) GameID() string { return tx.gameID }

// State returns the current projection.
func (tx *Tx) State() state.GameState { return tx.game.current }

// Salt returns the game's view salt.
func (tx *Tx) Salt() string { return tx.game.salt }

// Plugin returns the game's rules.
func (tx *Tx) Plugin() rules.Plugin { return tx.game.plugin }

// EventCount returns the number of events since the last reset.
func (tx *Tx) EventCount() int { return len(tx.game.log) }

// Append validates, applies and commits drafts as one unit. On any error
// nothing is committed.
func (tx *Tx) Append(actor string, drafts []event.Draft) ([]event.Event, error) {
	g := tx.game
	working := g.current
	nextID := g.lastID
	now := tx.store.now().UTC()
	committed := make([]event.Event, 0, len(drafts))
	finishedAt := g.finishedAt

	for _, d := range drafts {
		valid, err := tx.store.events.ValidateForAppend(d)
		if err != nil {
			return nil, err
		}
		nextID++
		evt := event.Event{
			ID:          nextID,
			GameID:      tx.gameID,
			Type:        valid.Type,
			Actor:       actor,
			Timestamp:   now,
			PayloadJSON: valid.PayloadJSON,
		}
		next, err := tx.store.applier.Apply(working, evt)
		if err != nil {
			return nil, fmt.Errorf("apply %s: %w", evt.Type, err)
		}
		if evt.Type == event.TypeSetWinner && finishedAt.IsZero() {
			finishedAt = now
		}
		working = next
		committed = append(committed, evt)
	}

	g.current = working
	g.log = append(g.log, committed...)
	g.lastID = nextID
	g.finishedAt = finishedAt
	return committed, nil
}

// Reset clears the log and restores the initial deal. Event ids keep
// increasing across resets.
func (tx *Tx) Reset() {
	g := tx.game
	g.current = g.initial
	g.current.Version = g.lastID
	g.log = nil
	g.finishedAt = time.Time{}
	tx.store.logger.Info("game reset", zap.String("game_id", tx.gameID))
}

// ResetWithSeed reshuffles the frozen setup with seed, drawing one when
// seed is empty, and clears the log.
func (tx *Tx) ResetWithSeed(seed string) error {
	if strings.TrimSpace(seed) == "" {
		var err error
		if seed, err = tx.store.newSeed(); err != nil {
			return fmt.Errorf("generate seed: %w", err)
		}
	}
	g := tx.game
	g.initial = Deal(g.setup, seed)
	tx.Reset()
	return nil
}
