// Package projection folds engine events into game state.
package projection

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/louisbranch/cardtable/internal/services/table/domain/event"
	"github.com/louisbranch/cardtable/internal/services/table/domain/state"
)

var (
	// ErrStaleMove indicates a player-authored move whose cards are no longer
	// in the declared source pile.
	ErrStaleMove = errors.New("move-cards references cards not in the source pile")
	// ErrUnknownPile indicates an event naming a pile that does not exist.
	ErrUnknownPile = errors.New("pile does not exist")
	// ErrEventOrder indicates events folded out of id order.
	ErrEventOrder = errors.New("event ids must increase")
)

// Applier applies engine events to game state.
type Applier struct {
	Logger *zap.Logger
	// CheckInvariants runs conservation checks after every event. With a
	// development logger a violation panics.
	CheckInvariants bool
}

func (a Applier) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// Project folds events over the initial snapshot.
func (a Applier) Project(initial state.GameState, events []event.Event) (state.GameState, error) {
	current := initial
	for _, evt := range events {
		if evt.ID <= current.Version {
			return current, fmt.Errorf("%w: %d after %d", ErrEventOrder, evt.ID, current.Version)
		}
		next, err := a.Apply(current, evt)
		if err != nil {
			return current, err
		}
		current = next
	}
	return current, nil
}

// Apply returns the state that results from one event. Unknown event types
// only advance the version.
func (a Applier) Apply(s state.GameState, evt event.Event) (state.GameState, error) {
	next, err := a.fold(s, evt)
	if err != nil {
		return s, err
	}
	next.Version = evt.ID
	if a.CheckInvariants {
		if err := next.CheckInvariants(); err != nil {
			a.logger().DPanic("state invariant violated",
				zap.String("game_id", evt.GameID),
				zap.Uint64("event_id", evt.ID),
				zap.String("event_type", string(evt.Type)),
				zap.Error(err),
			)
			return s, err
		}
	}
	return next, nil
}

func (a Applier) fold(s state.GameState, evt event.Event) (state.GameState, error) {
	switch evt.Type {
	case event.TypeMoveCards:
		p, err := event.Decode[event.MoveCardsPayload](evt.PayloadJSON)
		if err != nil {
			return s, decodeErr(evt, err)
		}
		return a.moveCards(s, evt, p)
	case event.TypeSetCurrentPlayer:
		p, err := event.Decode[event.PlayerPayload](evt.PayloadJSON)
		if err != nil {
			return s, decodeErr(evt, err)
		}
		s.CurrentPlayer = p.PlayerID
	case event.TypeSetWinner:
		p, err := event.Decode[event.PlayerPayload](evt.PayloadJSON)
		if err != nil {
			return s, decodeErr(evt, err)
		}
		s.Winner = p.PlayerID
	case event.TypeSetRulesState:
		p, err := event.Decode[event.SetRulesStatePayload](evt.PayloadJSON)
		if err != nil {
			return s, decodeErr(evt, err)
		}
		s.RulesState = p.RulesState
	case event.TypeSetActions:
		p, err := event.Decode[event.SetActionsPayload](evt.PayloadJSON)
		if err != nil {
			return s, decodeErr(evt, err)
		}
		s.Actions = p.Actions
	case event.TypeSetScoreboards:
		p, err := event.Decode[event.SetScoreboardsPayload](evt.PayloadJSON)
		if err != nil {
			return s, decodeErr(evt, err)
		}
		s.Scoreboards = p.Scoreboards
	case event.TypeSetPileVisibility:
		p, err := event.Decode[event.SetPileVisibilityPayload](evt.PayloadJSON)
		if err != nil {
			return s, decodeErr(evt, err)
		}
		pile, ok := s.Piles[p.PileID]
		if !ok {
			return a.missingPile(s, evt, p.PileID)
		}
		pile.Visibility = p.Visibility
		return s.WithPiles(pile), nil
	case event.TypeSetCardVisuals:
		p, err := event.Decode[event.SetCardVisualsPayload](evt.PayloadJSON)
		if err != nil {
			return s, decodeErr(evt, err)
		}
		visuals := maps.Clone(s.CardVisuals)
		if visuals == nil {
			visuals = make(map[int]state.CardVisual, len(p.Visuals))
		}
		maps.Copy(visuals, p.Visuals)
		s.CardVisuals = visuals
	case event.TypeSetPileProperties:
		p, err := event.Decode[event.SetPilePropertiesPayload](evt.PayloadJSON)
		if err != nil {
			return s, decodeErr(evt, err)
		}
		if _, ok := s.Piles[p.PileID]; !ok {
			return a.missingPile(s, evt, p.PileID)
		}
		props := maps.Clone(s.PileProperties)
		if props == nil {
			props = make(map[string]map[string]string, 1)
		}
		props[p.PileID] = maps.Clone(p.Properties)
		s.PileProperties = props
	case event.TypeFatalError:
		p, err := event.Decode[event.MessagePayload](evt.PayloadJSON)
		if err != nil {
			return s, decodeErr(evt, err)
		}
		s.FatalError = p.Message
	case event.TypeAnnounce:
		p, err := event.Decode[event.MessagePayload](evt.PayloadJSON)
		if err != nil {
			return s, decodeErr(evt, err)
		}
		s.Announcement = p.Message
	default:
		a.logger().Debug("skipping unknown event type",
			zap.String("game_id", evt.GameID),
			zap.String("event_type", string(evt.Type)),
		)
	}
	return s, nil
}

// moveCards treats the payload ids as a set. The moved cards keep their
// order from the source pile and land on top of the destination.
func (a Applier) moveCards(s state.GameState, evt event.Event, p event.MoveCardsPayload) (state.GameState, error) {
	from, ok := s.Piles[p.FromPileID]
	if !ok {
		return a.missingPile(s, evt, p.FromPileID)
	}
	to, ok := s.Piles[p.ToPileID]
	if !ok {
		return a.missingPile(s, evt, p.ToPileID)
	}

	wanted := make(map[int]struct{}, len(p.CardIDs))
	for _, id := range p.CardIDs {
		wanted[id] = struct{}{}
	}
	moved := make([]int, 0, len(wanted))
	kept := make([]int, 0, len(from.CardIDs))
	for _, id := range from.CardIDs {
		if _, ok := wanted[id]; ok {
			moved = append(moved, id)
			continue
		}
		kept = append(kept, id)
	}

	if len(moved) != len(wanted) {
		if evt.EngineAuthored() {
			a.logger().Warn("ignoring stale engine move",
				zap.String("game_id", evt.GameID),
				zap.Uint64("event_id", evt.ID),
				zap.String("from_pile", p.FromPileID),
				zap.Ints("card_ids", p.CardIDs),
			)
			return s, nil
		}
		return s, fmt.Errorf("%w: event %d from %s", ErrStaleMove, evt.ID, p.FromPileID)
	}

	if p.FromPileID == p.ToPileID {
		from.CardIDs = append(kept, moved...)
		return s.WithPiles(from), nil
	}

	from.CardIDs = kept
	to.CardIDs = append(slices.Clip(slices.Clone(to.CardIDs)), moved...)
	return s.WithPiles(from, to), nil
}

func (a Applier) missingPile(s state.GameState, evt event.Event, pileID string) (state.GameState, error) {
	if evt.EngineAuthored() {
		a.logger().Warn("ignoring engine event for unknown pile",
			zap.String("game_id", evt.GameID),
			zap.Uint64("event_id", evt.ID),
			zap.String("pile_id", pileID),
		)
		return s, nil
	}
	return s, fmt.Errorf("%w: %s", ErrUnknownPile, pileID)
}

func decodeErr(evt event.Event, err error) error {
	return fmt.Errorf("decode %s event %d: %w", evt.Type, evt.ID, err)
}
