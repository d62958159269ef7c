// Package rules defines the contract between the table engine and per-game
// rule plugins, and the boundary that enforces it.
//
// Plugins never see GameState. The boundary hands them a ValidationState
// that only contains what the acting player is entitled to, plus whatever
// the plugin explicitly declares through ValidationHints. Plugins answer
// with engine event drafts; they cannot mutate anything directly.
package rules

import (
	"encoding/json"

	"github.com/louisbranch/cardtable/internal/services/table/domain/event"
	"github.com/louisbranch/cardtable/internal/services/table/domain/state"
	"github.com/louisbranch/cardtable/internal/services/table/domain/visibility"
)

// IntentType distinguishes actions from card moves.
type IntentType string

const (
	IntentAction IntentType = "action"
	IntentMove   IntentType = "move"
)

// ActionRestart restarts the table with a fresh shuffle. The intent
// pipeline handles it without consulting the plugin.
const ActionRestart = "restart"

// ReasonInternalRuleError is returned when a plugin fails instead of
// answering.
const ReasonInternalRuleError = "Internal Rule Error"

// Intent is an unvalidated request to act or move cards.
type Intent struct {
	Type       IntentType `json:"type"`
	PlayerID   string     `json:"playerId"`
	Action     string     `json:"action,omitempty"`
	FromPileID string     `json:"fromPileId,omitempty"`
	ToPileID   string     `json:"toPileId,omitempty"`
	CardID     *int       `json:"cardId,omitempty"`
	CardIDs    []int      `json:"cardIds,omitempty"`
}

// MovedCardIDs returns the cards a move intent names.
func (in Intent) MovedCardIDs() []int {
	if in.CardID != nil {
		return []int{*in.CardID}
	}
	return in.CardIDs
}

// MapCardIDs returns a copy of in with every card id passed through fn.
func (in Intent) MapCardIDs(fn func(int) int) Intent {
	if in.CardID != nil {
		id := fn(*in.CardID)
		in.CardID = &id
	}
	if in.CardIDs != nil {
		ids := make([]int, len(in.CardIDs))
		for i, id := range in.CardIDs {
			ids[i] = fn(id)
		}
		in.CardIDs = ids
	}
	return in
}

// Exposure records how much of a pile the plugin may see.
type Exposure string

const (
	ExposureFull  Exposure = "full"
	ExposureTop   Exposure = "top"
	ExposureCount Exposure = "count"
)

// PileState is a pile as exposed to rules.
type PileState struct {
	ID           string           `json:"id"`
	OwnerID      string           `json:"ownerId,omitempty"`
	Visibility   state.Visibility `json:"visibility"`
	ShuffleGroup string           `json:"shuffleGroup,omitempty"`
	Exposure     Exposure         `json:"exposure"`
	Size         int              `json:"size"`
	CardIDs      []int            `json:"cardIds,omitempty"`
	TopCard      *state.Card      `json:"topCard,omitempty"`
}

// ValidationState is the redacted state handed to plugins.
type ValidationState struct {
	GameID         string                       `json:"gameId"`
	RulesID        string                       `json:"rulesId"`
	ActingPlayer   string                       `json:"actingPlayer"`
	Players        []state.Player               `json:"players"`
	CurrentPlayer  string                       `json:"currentPlayer,omitempty"`
	Winner         string                       `json:"winner,omitempty"`
	RulesState     json.RawMessage              `json:"rulesState,omitempty"`
	Actions        []state.Action               `json:"actions,omitempty"`
	Piles          map[string]PileState         `json:"piles"`
	Cards          map[int]state.Card           `json:"cards"`
	PileProperties map[string]map[string]string `json:"pileProperties,omitempty"`
	PlayedBy       map[int]string               `json:"playedBy,omitempty"`
}

// Result is a plugin verdict.
type Result struct {
	Valid        bool          `json:"valid"`
	Reason       string        `json:"reason,omitempty"`
	EngineEvents []event.Draft `json:"engineEvents,omitempty"`
}

// Accept builds a valid result.
func Accept(events ...event.Draft) Result {
	return Result{Valid: true, EngineEvents: events}
}

// Reject builds an invalid result.
func Reject(reason string) Result {
	return Result{Valid: false, Reason: reason}
}

// Plugin is the contract every ruleset implements.
//
// Setup returns the unshuffled starting layout; the store shuffles piles
// marked for it. Validate must be a pure function of its inputs.
type Plugin interface {
	ID() string
	Setup(players []state.Player) (state.GameState, error)
	Validate(vs ValidationState, in Intent) (Result, error)
	ListLegalIntentsForPlayer(vs ValidationState, playerID string) ([]Intent, error)
}

// ViewLister lists legal intents directly in a viewer's id space.
type ViewLister interface {
	ListLegalIntentsForView(v visibility.View, playerID string) ([]Intent, error)
}

// AIContext is the plugin-written recap handed to an AI seat.
type AIContext struct {
	Recap string   `json:"recap,omitempty"`
	Facts []string `json:"facts,omitempty"`
}

// AIContextBuilder supplies AI context for a seat.
type AIContextBuilder interface {
	BuildAIContext(vs ValidationState, playerID string) AIContext
}

// Hints widen what the boundary exposes to a plugin.
type Hints struct {
	// SharedPileIDs are always exposed in full.
	SharedPileIDs []string
	// IsPileAlwaysVisibleToRules exposes matching piles in full.
	IsPileAlwaysVisibleToRules func(p state.Pile) bool
	// BuildPlayedByLookup maps card ids to the player who played them.
	BuildPlayedByLookup func(s state.GameState) map[int]string
}

// HintsProvider declares validation hints.
type HintsProvider interface {
	ValidationHints() Hints
}
