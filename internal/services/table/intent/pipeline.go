// Package intent adjudicates player intents: it translates view ids,
// runs structural pre-checks, asks the rules, commits the resulting engine
// events and then notifies listeners and the AI scheduler.
package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/louisbranch/cardtable/internal/platform/otel"
	"github.com/louisbranch/cardtable/internal/services/table/domain/event"
	"github.com/louisbranch/cardtable/internal/services/table/domain/rules"
	"github.com/louisbranch/cardtable/internal/services/table/domain/state"
	"github.com/louisbranch/cardtable/internal/services/table/domain/visibility"
	"github.com/louisbranch/cardtable/internal/services/table/gamestore"
)

// Rejection reasons produced before the rules are consulted.
const (
	ReasonGameNotFound     = "Game not found"
	ReasonUnknownPlayer    = "Player is not seated at this table"
	ReasonAutomatedRestart = "Automated seats cannot restart a table with human players"
	ReasonMalformed        = "Malformed intent"
	ReasonUnknownCard      = "Unknown card"
	ReasonGameOver         = "The game is over"
	ReasonGameHalted       = "The game was halted by an error"
	ReasonNotYourTurn      = "It is not your turn"
	ReasonCardSelection    = "Name exactly one of cardId or cardIds"
	ReasonSamePile         = "Cards are already in that pile"
	ReasonUnknownPile      = "Unknown pile"
	ReasonCardNotInPile    = "Card is not in the source pile"
	ReasonCommitFailed     = "The move could not be applied"
)

// LastAction summarizes the intent that produced a broadcast.
type LastAction struct {
	PlayerID string       `json:"playerId"`
	Intent   rules.Intent `json:"-"`
	Summary  string       `json:"summary"`
}

// BroadcastFunc publishes committed events. events is empty after a reset.
type BroadcastFunc func(gameID string, events []event.Event, last *LastAction)

// Scheduler is notified after every commit so automated seats can act.
type Scheduler interface {
	MaybeScheduleAITurn(gameID string, broadcast BroadcastFunc)
}

// Result is the outcome of one submission.
type Result struct {
	Success bool          `json:"success"`
	Reason  string        `json:"reason,omitempty"`
	Events  []event.Event `json:"events,omitempty"`
}

func reject(reason string) Result {
	return Result{Reason: reason}
}

// Pipeline submits intents against a store.
type Pipeline struct {
	store     *gamestore.Store
	boundary  rules.Boundary
	events    *event.Registry
	scheduler Scheduler
	logger    *zap.Logger
}

// NewPipeline creates a pipeline. A nil logger discards logs.
func NewPipeline(store *gamestore.Store, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:    store,
		boundary: rules.Boundary{Logger: logger},
		events:   event.CoreRegistry(),
		logger:   logger,
	}
}

// SetScheduler installs the AI scheduler. The scheduler in turn submits
// through the pipeline, so it is wired after construction.
func (p *Pipeline) SetScheduler(s Scheduler) {
	p.scheduler = s
}

// Submit runs in (card ids in the acting player's view space) through the
// pipeline. Rejections are reported in the Result, never as errors.
func (p *Pipeline) Submit(ctx context.Context, gameID string, in rules.Intent, broadcast BroadcastFunc) Result {
	ctx, span := otel.Tracer("intent").Start(ctx, "intent.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("game.id", gameID),
		attribute.String("intent.type", string(in.Type)),
		attribute.String("intent.player", in.PlayerID),
	)

	var (
		res  Result
		last *LastAction
	)
	err := p.store.Transact(ctx, gameID, func(tx *gamestore.Tx) error {
		res, last = p.adjudicate(tx, in)
		return nil
	})
	if err != nil {
		if errors.Is(err, gamestore.ErrGameNotFound) {
			res = reject(ReasonGameNotFound)
		} else {
			span.RecordError(err)
			p.logger.Error("intent transaction failed", zap.String("game_id", gameID), zap.Error(err))
			res = reject(ReasonCommitFailed)
		}
	}
	span.SetAttributes(attribute.Bool("intent.success", res.Success))
	if !res.Success {
		span.SetStatus(codes.Error, res.Reason)
		p.logger.Debug("intent rejected",
			zap.String("game_id", gameID),
			zap.String("player_id", in.PlayerID),
			zap.String("reason", res.Reason),
		)
		return res
	}

	// Every accepted intent is announced, even when a restart or dropped
	// engine events left nothing to append.
	if broadcast != nil {
		broadcast(gameID, res.Events, last)
	}
	if p.scheduler != nil {
		p.scheduler.MaybeScheduleAITurn(gameID, broadcast)
	}
	return res
}

func (p *Pipeline) adjudicate(tx *gamestore.Tx, in rules.Intent) (Result, *LastAction) {
	s := tx.State()
	player, seated := s.Player(in.PlayerID)
	if !seated {
		return reject(ReasonUnknownPlayer), nil
	}
	restart := in.Type == rules.IntentAction && in.Action == rules.ActionRestart
	if restart && player.Automated() && !s.AllAutomated() {
		return reject(ReasonAutomatedRestart), nil
	}

	engineIn, ok := p.translate(tx, in)
	if !ok {
		return reject(ReasonUnknownCard), nil
	}
	if reason := precheck(s, engineIn, restart); reason != "" {
		return reject(reason), nil
	}

	if restart {
		if err := tx.ResetWithSeed(""); err != nil {
			p.logger.Error("restart failed", zap.String("game_id", tx.GameID()), zap.Error(err))
			return reject(ReasonCommitFailed), nil
		}
		last := &LastAction{PlayerID: player.ID, Intent: engineIn, Summary: displayName(player) + " restarted the game"}
		return Result{Success: true}, last
	}

	verdict := p.boundary.Validate(tx.Plugin(), s, engineIn)
	if !verdict.Valid {
		return reject(verdict.Reason), nil
	}

	drafts := make([]event.Draft, 0, len(verdict.EngineEvents))
	for _, d := range verdict.EngineEvents {
		valid, err := p.events.ValidateForAppend(d)
		if err != nil {
			p.logger.Warn("dropping malformed engine event",
				zap.String("game_id", tx.GameID()),
				zap.String("rules_id", s.RulesID),
				zap.String("event_type", string(d.Type)),
				zap.Error(err),
			)
			continue
		}
		drafts = append(drafts, valid)
	}
	committed, err := tx.Append(event.ActorEngine, drafts)
	if err != nil {
		p.logger.Error("commit failed",
			zap.String("game_id", tx.GameID()),
			zap.String("player_id", in.PlayerID),
			zap.Error(err),
		)
		return reject(ReasonCommitFailed), nil
	}
	last := &LastAction{PlayerID: player.ID, Intent: engineIn, Summary: summarize(s, player, engineIn)}
	return Result{Success: true, Events: committed}, last
}

func (p *Pipeline) translate(tx *gamestore.Tx, in rules.Intent) (rules.Intent, bool) {
	s := tx.State()
	ok := true
	out := in.MapCardIDs(func(viewID int) int {
		engineID, found := visibility.ResolveEngineCardID(s, tx.Salt(), in.PlayerID, viewID)
		if !found {
			ok = false
		}
		return engineID
	})
	return out, ok
}

func precheck(s state.GameState, in rules.Intent, restart bool) string {
	switch in.Type {
	case rules.IntentAction:
		if strings.TrimSpace(in.Action) == "" {
			return ReasonMalformed
		}
	case rules.IntentMove:
	default:
		return ReasonMalformed
	}
	if restart {
		return ""
	}
	if s.FatalError != "" {
		return ReasonGameHalted
	}
	if s.Over() {
		return ReasonGameOver
	}
	if s.CurrentPlayer != "" && s.CurrentPlayer != in.PlayerID {
		return ReasonNotYourTurn
	}
	if in.Type != rules.IntentMove {
		return ""
	}

	if (in.CardID == nil) == (len(in.CardIDs) == 0) {
		return ReasonCardSelection
	}
	from, ok := s.Piles[in.FromPileID]
	if !ok {
		return ReasonUnknownPile
	}
	if _, ok := s.Piles[in.ToPileID]; !ok {
		return ReasonUnknownPile
	}
	if in.FromPileID == in.ToPileID {
		return ReasonSamePile
	}
	for _, id := range in.MovedCardIDs() {
		if !from.Contains(id) {
			return ReasonCardNotInPile
		}
	}
	return ""
}

func displayName(p state.Player) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// summarize describes in for every viewer. Card labels are only named when
// they land face up in a public pile.
func summarize(before state.GameState, player state.Player, in rules.Intent) string {
	name := displayName(player)
	if in.Type == rules.IntentAction {
		return fmt.Sprintf("%s chose %s", name, in.Action)
	}
	ids := in.MovedCardIDs()
	to := before.Piles[in.ToPileID]
	if to.Visibility == state.VisibilityPublic && len(ids) == 1 {
		card := before.Cards[ids[0]]
		label := card.Label
		if label == "" {
			label = card.Rank + " of " + card.Suit
		}
		return fmt.Sprintf("%s played %s to %s", name, label, in.ToPileID)
	}
	if len(ids) == 1 {
		return fmt.Sprintf("%s moved a card to %s", name, in.ToPileID)
	}
	return fmt.Sprintf("%s moved %d cards to %s", name, len(ids), in.ToPileID)
}
