package event

import (
	"encoding/json"
	"time"

	"github.com/louisbranch/cardtable/internal/services/table/domain/state"
)

// Type identifies an engine event kind.
type Type string

const (
	TypeMoveCards         Type = "move-cards"
	TypeSetCurrentPlayer  Type = "set-current-player"
	TypeSetWinner         Type = "set-winner"
	TypeSetRulesState     Type = "set-rules-state"
	TypeSetActions        Type = "set-actions"
	TypeSetScoreboards    Type = "set-scoreboards"
	TypeSetPileVisibility Type = "set-pile-visibility"
	TypeSetCardVisuals    Type = "set-card-visuals"
	TypeSetPileProperties Type = "set-pile-properties"
	TypeFatalError        Type = "fatal-error"
	TypeAnnounce          Type = "announce"
)

// ActorEngine authors events emitted by rules or the server itself.
const ActorEngine = "engine"

// Event is a committed entry in a game's log.
type Event struct {
	ID          uint64          `json:"id"`
	GameID      string          `json:"gameId"`
	Type        Type            `json:"type"`
	Actor       string          `json:"actor"`
	Timestamp   time.Time       `json:"timestamp"`
	PayloadJSON json.RawMessage `json:"payload"`
}

// EngineAuthored reports whether the event came from rules or the server
// rather than directly from a player.
func (e Event) EngineAuthored() bool {
	return e.Actor == "" || e.Actor == ActorEngine
}

// Draft is an event proposed by rules, not yet validated or committed.
type Draft struct {
	Type        Type            `json:"type"`
	PayloadJSON json.RawMessage `json:"payload"`
}

// MoveCardsPayload moves a set of cards between piles.
type MoveCardsPayload struct {
	FromPileID string `json:"fromPileId"`
	ToPileID   string `json:"toPileId"`
	CardIDs    []int  `json:"cardIds"`
}

// PlayerPayload names a seat for set-current-player and set-winner.
type PlayerPayload struct {
	PlayerID string `json:"playerId"`
}

// SetRulesStatePayload replaces the plugin-owned rules state.
type SetRulesStatePayload struct {
	RulesState json.RawMessage `json:"rulesState"`
}

// SetActionsPayload replaces the offered actions.
type SetActionsPayload struct {
	Actions []state.Action `json:"actions"`
}

// SetScoreboardsPayload replaces the scoreboards.
type SetScoreboardsPayload struct {
	Scoreboards []state.Scoreboard `json:"scoreboards"`
}

// SetPileVisibilityPayload changes who can see a pile.
type SetPileVisibilityPayload struct {
	PileID     string           `json:"pileId"`
	Visibility state.Visibility `json:"visibility"`
}

// SetCardVisualsPayload merges presentation state by card id.
type SetCardVisualsPayload struct {
	Visuals map[int]state.CardVisual `json:"visuals"`
}

// SetPilePropertiesPayload replaces the free-form properties of a pile.
type SetPilePropertiesPayload struct {
	PileID     string            `json:"pileId"`
	Properties map[string]string `json:"properties"`
}

// MessagePayload carries text for fatal-error and announce.
type MessagePayload struct {
	Message  string `json:"message"`
	PlayerID string `json:"playerId,omitempty"`
}

// Decode strictly decodes an event payload.
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	err := decodeStrict(raw, &out)
	return out, err
}

func newDraft(t Type, payload any) Draft {
	data, err := json.Marshal(payload)
	if err != nil {
		// payload types above always marshal
		panic(err)
	}
	return Draft{Type: t, PayloadJSON: data}
}

// MoveCards drafts a move-cards event.
func MoveCards(from, to string, cardIDs ...int) Draft {
	return newDraft(TypeMoveCards, MoveCardsPayload{FromPileID: from, ToPileID: to, CardIDs: cardIDs})
}

// SetCurrentPlayer drafts a set-current-player event.
func SetCurrentPlayer(playerID string) Draft {
	return newDraft(TypeSetCurrentPlayer, PlayerPayload{PlayerID: playerID})
}

// SetWinner drafts a set-winner event.
func SetWinner(playerID string) Draft {
	return newDraft(TypeSetWinner, PlayerPayload{PlayerID: playerID})
}

// SetRulesState drafts a set-rules-state event from any JSON-encodable value.
func SetRulesState(rulesState any) (Draft, error) {
	raw, err := json.Marshal(rulesState)
	if err != nil {
		return Draft{}, err
	}
	return newDraft(TypeSetRulesState, SetRulesStatePayload{RulesState: raw}), nil
}

// SetActions drafts a set-actions event.
func SetActions(actions ...state.Action) Draft {
	if actions == nil {
		actions = []state.Action{}
	}
	return newDraft(TypeSetActions, SetActionsPayload{Actions: actions})
}

// SetScoreboards drafts a set-scoreboards event.
func SetScoreboards(boards ...state.Scoreboard) Draft {
	if boards == nil {
		boards = []state.Scoreboard{}
	}
	return newDraft(TypeSetScoreboards, SetScoreboardsPayload{Scoreboards: boards})
}

// SetPileVisibility drafts a set-pile-visibility event.
func SetPileVisibility(pileID string, v state.Visibility) Draft {
	return newDraft(TypeSetPileVisibility, SetPileVisibilityPayload{PileID: pileID, Visibility: v})
}

// SetCardVisuals drafts a set-card-visuals event.
func SetCardVisuals(visuals map[int]state.CardVisual) Draft {
	return newDraft(TypeSetCardVisuals, SetCardVisualsPayload{Visuals: visuals})
}

// SetPileProperties drafts a set-pile-properties event.
func SetPileProperties(pileID string, props map[string]string) Draft {
	return newDraft(TypeSetPileProperties, SetPilePropertiesPayload{PileID: pileID, Properties: props})
}

// FatalError drafts a fatal-error event.
func FatalError(message, playerID string) Draft {
	return newDraft(TypeFatalError, MessagePayload{Message: message, PlayerID: playerID})
}

// Announce drafts an announce event.
func Announce(message string) Draft {
	return newDraft(TypeAnnounce, MessagePayload{Message: message})
}
