// Package autoplay drives server-side AI seats.
//
// At most one turn runs per game. A reschedule request that arrives while a
// turn is in flight is parked (later requests overwrite earlier ones) and
// drained when the turn finishes. The policy races the turn deadline; when
// the deadline wins a uniformly random candidate is played and the late
// policy answer is only logged.
package autoplay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/louisbranch/cardtable/internal/platform/otel"
	"github.com/louisbranch/cardtable/internal/services/table/domain/event"
	"github.com/louisbranch/cardtable/internal/services/table/domain/rules"
	"github.com/louisbranch/cardtable/internal/services/table/domain/state"
	"github.com/louisbranch/cardtable/internal/services/table/domain/visibility"
	"github.com/louisbranch/cardtable/internal/services/table/gamestore"
	"github.com/louisbranch/cardtable/internal/services/table/intent"
	"github.com/louisbranch/cardtable/internal/services/table/llmpolicy"
)

// Fatal-error messages written when an AI seat blocks the game.
const (
	MessageNoLegalMoves = "AI has no legal moves"
	MessagePolicyFailed = "AI policy failed"
	MessageUnexpected   = "AI turn failed unexpectedly"
)

// Config tunes AI turns.
type Config struct {
	Enabled bool
	// TurnTimeout bounds the policy call.
	TurnTimeout time.Duration
	// MinThinkTime pads fast decisions so AI turns are observable.
	MinThinkTime time.Duration
}

// Policy picks one candidate.
type Policy interface {
	Choose(ctx context.Context, req llmpolicy.Request) (llmpolicy.Decision, error)
}

// Submitter runs intents through the intent pipeline.
type Submitter interface {
	Submit(ctx context.Context, gameID string, in rules.Intent, broadcast intent.BroadcastFunc) intent.Result
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRandom replaces the source used to pick a candidate on timeout.
// intn must return a value in [0, n).
func WithRandom(intn func(n int) int) Option {
	return func(s *Scheduler) {
		if intn != nil {
			s.intn = intn
		}
	}
}

// Scheduler runs AI turns.
type Scheduler struct {
	cfg       Config
	store     *gamestore.Store
	submitter Submitter
	policy    Policy
	boundary  rules.Boundary
	logger    *zap.Logger
	intn      func(int) int
	sleep     func(context.Context, time.Duration) error

	mu       sync.Mutex
	inflight map[string]struct{}
	pending  map[string]intent.BroadcastFunc
	closed   bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a scheduler. Call Close to stop it.
func New(cfg Config, store *gamestore.Store, submitter Submitter, policy Policy, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:       cfg,
		store:     store,
		submitter: submitter,
		policy:    policy,
		logger:    zap.NewNop(),
		intn:      rand.IntN,
		sleep:     sleepContext,
		inflight:  map[string]struct{}{},
		pending:   map[string]intent.BroadcastFunc{},
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.boundary = rules.Boundary{Logger: s.logger}
	return s
}

// MaybeScheduleAITurn starts a turn for gameID when its current seat is a
// server AI. It is safe to call any number of times.
func (s *Scheduler) MaybeScheduleAITurn(gameID string, broadcast intent.BroadcastFunc) {
	if !s.cfg.Enabled {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, busy := s.inflight[gameID]; busy {
		s.pending[gameID] = broadcast
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	seat, ok := s.eligibleSeat(gameID)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, busy := s.inflight[gameID]; busy {
		s.pending[gameID] = broadcast
		s.mu.Unlock()
		return
	}
	s.inflight[gameID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.finish(gameID)
		s.run(s.ctx, gameID, seat, broadcast)
	}()
}

// ForceRunAITurnOnce runs one turn for playerID right away, whatever the
// seat's runtime. It is meant for debugging tools.
func (s *Scheduler) ForceRunAITurnOnce(ctx context.Context, gameID, playerID string, broadcast intent.BroadcastFunc) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrDisabled
	}
	if _, busy := s.inflight[gameID]; busy {
		s.mu.Unlock()
		return ErrTurnInFlight
	}
	s.inflight[gameID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.finish(gameID)

	return s.run(ctx, gameID, playerID, broadcast)
}

// Close stops scheduling, abandons in-flight policy calls and waits for
// running turns to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// finish releases the game and drains one parked reschedule.
func (s *Scheduler) finish(gameID string) {
	s.mu.Lock()
	delete(s.inflight, gameID)
	next, parked := s.pending[gameID]
	delete(s.pending, gameID)
	s.mu.Unlock()

	if parked {
		s.MaybeScheduleAITurn(gameID, next)
	}
	s.wg.Done()
}

func (s *Scheduler) eligibleSeat(gameID string) (string, bool) {
	snap, err := s.store.Snapshot(gameID)
	if err != nil {
		return "", false
	}
	st := snap.State
	if st.Over() || st.FatalError != "" {
		return "", false
	}
	if snap.EventCount == 0 && !st.AllAutomated() {
		return "", false
	}
	if st.CurrentPlayer == "" {
		return bootstrapSeat(st)
	}
	seat, ok := st.Player(st.CurrentPlayer)
	if !ok || seat.AIRuntime != state.AIRuntimeServer {
		return "", false
	}
	return seat.ID, true
}

// bootstrapSeat picks who opens a game that has no current player yet. Only
// an all-automated table is opened by a bot; otherwise a human deals.
func bootstrapSeat(st state.GameState) (string, bool) {
	if !st.AllAutomated() {
		return "", false
	}
	for _, p := range st.Players {
		if p.AIRuntime == state.AIRuntimeServer {
			return p.ID, true
		}
	}
	return "", false
}

// run executes one turn and turns failures into logs or a fatal event.
func (s *Scheduler) run(ctx context.Context, gameID, playerID string, broadcast intent.BroadcastFunc) (err error) {
	logger := s.logger.With(zap.String("game_id", gameID), zap.String("player_id", playerID))
	defer func() {
		if r := recover(); r != nil {
			err = &AIError{Kind: KindUnexpected, GameID: gameID, PlayerID: playerID, Err: fmt.Errorf("panic: %v", r)}
		}
		var aiErr *AIError
		if !errors.As(err, &aiErr) {
			return
		}
		switch {
		case aiErr.Fatal():
			logger.Error("ai turn halted the game", zap.String("kind", string(aiErr.Kind)), zap.Error(err))
			s.halt(gameID, playerID, fatalMessage(aiErr), broadcast)
		case aiErr.Kind == KindValidation:
			logger.Warn("ai intent rejected", zap.String("reason", aiErr.Reason))
		default:
			logger.Warn("ai turn degraded", zap.String("kind", string(aiErr.Kind)), zap.Error(err))
		}
	}()
	return s.turn(ctx, gameID, playerID, broadcast, logger)
}

func fatalMessage(err *AIError) string {
	switch {
	case errors.Is(err, ErrNoLegalMoves):
		return MessageNoLegalMoves
	case err.Kind == KindPolicy:
		return MessagePolicyFailed
	default:
		return MessageUnexpected
	}
}

type policyResult struct {
	decision llmpolicy.Decision
	err      error
}

func (s *Scheduler) turn(ctx context.Context, gameID, playerID string, broadcast intent.BroadcastFunc, logger *zap.Logger) error {
	ctx, span := otel.Tracer("autoplay").Start(ctx, "autoplay.turn")
	defer span.End()
	span.SetAttributes(attribute.String("game.id", gameID), attribute.String("player.id", playerID))

	unexpected := func(err error) error {
		return &AIError{Kind: KindUnexpected, GameID: gameID, PlayerID: playerID, Err: err}
	}

	snap, err := s.store.Snapshot(gameID)
	if err != nil {
		if errors.Is(err, gamestore.ErrGameNotFound) {
			return nil
		}
		return unexpected(err)
	}
	view := visibility.BuildView(snap.State, snap.Salt, playerID)
	intents, err := s.legalIntents(snap, view, playerID)
	if err != nil {
		return unexpected(err)
	}
	candidates := buildCandidates(view, intents)
	if len(candidates) == 0 {
		return unexpected(ErrNoLegalMoves)
	}

	req := llmpolicy.Request{
		GameID:     gameID,
		PlayerID:   playerID,
		View:       view,
		Context:    s.boundary.BuildAIContext(snap.Plugin, snap.State, playerID),
		Candidates: candidates,
	}

	started := time.Now()
	results := make(chan policyResult, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		d, err := s.policy.Choose(s.ctx, req)
		results <- policyResult{decision: d, err: err}
	}()

	var deadline <-chan time.Time
	if s.cfg.TurnTimeout > 0 {
		timer := time.NewTimer(s.cfg.TurnTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var (
		chosen   llmpolicy.Candidate
		timedOut bool
	)
	select {
	case res := <-results:
		if res.err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return &AIError{Kind: KindPolicy, GameID: gameID, PlayerID: playerID, Err: res.err}
		}
		chosen = res.decision.Candidate
		span.SetAttributes(attribute.Int("policy.attempts", res.decision.Attempts), attribute.Bool("policy.fallback", res.decision.Fallback))
		if wait := s.cfg.MinThinkTime - time.Since(started); wait > 0 {
			if err := s.sleep(ctx, wait); err != nil {
				return nil
			}
		}
	case <-deadline:
		chosen = candidates[s.intn(len(candidates))]
		timedOut = true
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			late := <-results
			logger.Info("late policy result ignored",
				zap.String("candidate", late.decision.Candidate.ID),
				zap.Error(late.err),
			)
		}()
	case <-ctx.Done():
		return nil
	}

	in := chosen.Intent
	in.PlayerID = playerID
	res := s.submitter.Submit(ctx, gameID, in, broadcast)
	if !res.Success {
		return &AIError{Kind: KindValidation, GameID: gameID, PlayerID: playerID, Reason: res.Reason}
	}
	if timedOut {
		return &AIError{
			Kind:     KindTimeout,
			GameID:   gameID,
			PlayerID: playerID,
			Err:      fmt.Errorf("no decision within %s, played random candidate %s", s.cfg.TurnTimeout, chosen.ID),
		}
	}
	logger.Debug("ai turn played", zap.String("candidate", chosen.ID))
	return nil
}

// halt records a fatal-error event and broadcasts it.
func (s *Scheduler) halt(gameID, playerID, message string, broadcast intent.BroadcastFunc) {
	var committed []event.Event
	err := s.store.Transact(context.Background(), gameID, func(tx *gamestore.Tx) error {
		var err error
		committed, err = tx.Append(event.ActorEngine, []event.Draft{event.FatalError(message, playerID)})
		return err
	})
	if err != nil {
		s.logger.Error("record ai failure", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	if broadcast != nil {
		broadcast(gameID, committed, &intent.LastAction{PlayerID: playerID, Summary: message})
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
