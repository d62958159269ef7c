package rules

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/louisbranch/cardtable/internal/services/table/domain/state"
)

// BuildValidationState redacts s for an intent by actingPlayer.
//
// A pile is exposed in full when the acting player owns it, it is public,
// the plugin declares it shared or always visible, or the intent moves cards
// out of or into it. Other unowned piles expose only their top card, and
// other seats' hidden piles only their size.
func BuildValidationState(s state.GameState, hints Hints, actingPlayer string, in *Intent) ValidationState {
	vs := ValidationState{
		GameID:         s.GameID,
		RulesID:        s.RulesID,
		ActingPlayer:   actingPlayer,
		Players:        s.Players,
		CurrentPlayer:  s.CurrentPlayer,
		Winner:         s.Winner,
		RulesState:     s.RulesState,
		Actions:        s.Actions,
		Piles:          make(map[string]PileState, len(s.Piles)),
		Cards:          map[int]state.Card{},
		PileProperties: s.PileProperties,
	}

	for _, pileID := range s.PileIDs() {
		p := s.Piles[pileID]
		ps := PileState{
			ID:           p.ID,
			OwnerID:      p.OwnerID,
			Visibility:   p.Visibility,
			ShuffleGroup: p.ShuffleGroup,
			Size:         len(p.CardIDs),
		}
		switch exposure(p, hints, actingPlayer, in) {
		case ExposureFull:
			ps.Exposure = ExposureFull
			ps.CardIDs = slices.Clone(p.CardIDs)
			for _, id := range p.CardIDs {
				vs.Cards[id] = s.Cards[id]
			}
		case ExposureTop:
			ps.Exposure = ExposureTop
			if top, ok := p.Top(); ok {
				card := s.Cards[top]
				ps.TopCard = &card
			}
		default:
			ps.Exposure = ExposureCount
		}
		vs.Piles[p.ID] = ps
	}

	if hints.BuildPlayedByLookup != nil {
		for cardID, playerID := range hints.BuildPlayedByLookup(s) {
			if _, exposed := vs.Cards[cardID]; !exposed {
				continue
			}
			if vs.PlayedBy == nil {
				vs.PlayedBy = map[int]string{}
			}
			vs.PlayedBy[cardID] = playerID
		}
	}
	return vs
}

func exposure(p state.Pile, hints Hints, actingPlayer string, in *Intent) Exposure {
	switch {
	case p.OwnerID != "" && p.OwnerID == actingPlayer:
		return ExposureFull
	case p.Visibility == state.VisibilityPublic:
		return ExposureFull
	case slices.Contains(hints.SharedPileIDs, p.ID):
		return ExposureFull
	case hints.IsPileAlwaysVisibleToRules != nil && hints.IsPileAlwaysVisibleToRules(p):
		return ExposureFull
	case in != nil && in.Type == IntentMove && (p.ID == in.FromPileID || p.ID == in.ToPileID):
		return ExposureFull
	case p.OwnerID == "":
		return ExposureTop
	default:
		return ExposureCount
	}
}

// HintsFor returns the plugin's hints, or none.
func HintsFor(p Plugin) Hints {
	if hp, ok := p.(HintsProvider); ok {
		return hp.ValidationHints()
	}
	return Hints{}
}

// Boundary invokes plugins against redacted state and contains their
// failures.
type Boundary struct {
	Logger *zap.Logger
}

func (b Boundary) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

// Validate asks plugin to adjudicate in. Plugin errors and panics become a
// rejection with ReasonInternalRuleError.
func (b Boundary) Validate(plugin Plugin, s state.GameState, in Intent) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			b.logger().Error("rules plugin panicked",
				zap.String("game_id", s.GameID),
				zap.String("rules_id", plugin.ID()),
				zap.Any("panic", r),
			)
			result = Reject(ReasonInternalRuleError)
		}
	}()

	vs := BuildValidationState(s, HintsFor(plugin), in.PlayerID, &in)
	res, err := plugin.Validate(vs, in)
	if err != nil {
		b.logger().Error("rules plugin failed",
			zap.String("game_id", s.GameID),
			zap.String("rules_id", plugin.ID()),
			zap.Error(err),
		)
		return Reject(ReasonInternalRuleError)
	}
	if !res.Valid {
		res.EngineEvents = nil
	}
	return res
}

// ListLegalIntents asks plugin for the intents playerID may submit.
func (b Boundary) ListLegalIntents(plugin Plugin, s state.GameState, playerID string) (intents []Intent, err error) {
	defer func() {
		if r := recover(); r != nil {
			intents, err = nil, fmt.Errorf("rules plugin %s panicked: %v", plugin.ID(), r)
		}
	}()
	vs := BuildValidationState(s, HintsFor(plugin), playerID, nil)
	intents, err = plugin.ListLegalIntentsForPlayer(vs, playerID)
	if err != nil {
		return nil, fmt.Errorf("list legal intents: %w", err)
	}
	for i := range intents {
		intents[i].PlayerID = playerID
	}
	return intents, nil
}

// BuildAIContext returns the plugin's AI context for playerID, if any.
func (b Boundary) BuildAIContext(plugin Plugin, s state.GameState, playerID string) (ctx AIContext) {
	builder, ok := plugin.(AIContextBuilder)
	if !ok {
		return AIContext{}
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger().Warn("rules plugin panicked building ai context",
				zap.String("game_id", s.GameID),
				zap.Any("panic", r),
			)
			ctx = AIContext{}
		}
	}()
	return builder.BuildAIContext(BuildValidationState(s, HintsFor(plugin), playerID, nil), playerID)
}
