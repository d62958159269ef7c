package state

import (
	"encoding/json"
	"maps"
	"slices"
)

// Visibility controls who may see the contents of a pile.
type Visibility string

const (
	// VisibilityPublic exposes pile contents to every viewer.
	VisibilityPublic Visibility = "public"
	// VisibilityOwner exposes pile contents only to the owning player.
	VisibilityOwner Visibility = "owner"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityOwner
}

// AIRuntime identifies who drives an automated seat.
type AIRuntime string

const (
	// AIRuntimeNone marks a human seat.
	AIRuntimeNone AIRuntime = ""
	// AIRuntimeServer marks a seat driven by the server-side scheduler.
	AIRuntimeServer AIRuntime = "server"
	// AIRuntimeClient marks a seat driven by a sponsoring client.
	AIRuntimeClient AIRuntime = "client"
)

// Card is an entry in the per-game card registry.
type Card struct {
	ID    int    `json:"id"`
	Rank  string `json:"rank"`
	Suit  string `json:"suit"`
	Label string `json:"label,omitempty"`
}

// Pile is an ordered container of card ids. The last element is the top.
type Pile struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"ownerId,omitempty"`
	Visibility   Visibility `json:"visibility"`
	Shuffle      bool       `json:"shuffle,omitempty"`
	ShuffleGroup string     `json:"shuffleGroup,omitempty"`
	CardIDs      []int      `json:"cardIds"`
}

// Contains reports whether the pile holds cardID.
func (p Pile) Contains(cardID int) bool {
	return slices.Contains(p.CardIDs, cardID)
}

// Top returns the top card id of the pile.
func (p Pile) Top() (int, bool) {
	if len(p.CardIDs) == 0 {
		return 0, false
	}
	return p.CardIDs[len(p.CardIDs)-1], true
}

// Player is a seat at the table.
type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AIRuntime AIRuntime `json:"aiRuntime,omitempty"`
}

// Automated reports whether the seat is driven by an AI.
func (p Player) Automated() bool {
	return p.AIRuntime != AIRuntimeNone
}

// Action is a button the rules currently offer.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Scoreboard is a rules-provided table of scores.
type Scoreboard struct {
	ID    string     `json:"id"`
	Title string     `json:"title"`
	Rows  [][]string `json:"rows"`
}

// CardVisual carries presentation state for a card.
type CardVisual struct {
	FaceUp  bool   `json:"faceUp"`
	Rotated bool   `json:"rotated,omitempty"`
	Label   string `json:"label,omitempty"`
}

// GameState is one immutable version of a game.
type GameState struct {
	GameID         string                       `json:"gameId"`
	RulesID        string                       `json:"rulesId"`
	Cards          map[int]Card                 `json:"cards"`
	Piles          map[string]Pile              `json:"piles"`
	Players        []Player                     `json:"players"`
	CurrentPlayer  string                       `json:"currentPlayer,omitempty"`
	Winner         string                       `json:"winner,omitempty"`
	RulesState     json.RawMessage              `json:"rulesState,omitempty"`
	Actions        []Action                     `json:"actions,omitempty"`
	Scoreboards    []Scoreboard                 `json:"scoreboards,omitempty"`
	CardVisuals    map[int]CardVisual           `json:"cardVisuals,omitempty"`
	PileProperties map[string]map[string]string `json:"pileProperties,omitempty"`
	Seed           string                       `json:"seed,omitempty"`
	Announcement   string                       `json:"announcement,omitempty"`
	FatalError     string                       `json:"fatalError,omitempty"`
	// Version is the id of the last applied event, zero for the initial deal.
	Version uint64 `json:"version"`
}

// Player looks up a seat by id.
func (s GameState) Player(id string) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// AllAutomated reports whether every seat is AI driven.
func (s GameState) AllAutomated() bool {
	if len(s.Players) == 0 {
		return false
	}
	for _, p := range s.Players {
		if !p.Automated() {
			return false
		}
	}
	return true
}

// Over reports whether a winner has been declared.
func (s GameState) Over() bool {
	return s.Winner != ""
}

// PileIDs returns pile ids in sorted order.
func (s GameState) PileIDs() []string {
	return slices.Sorted(maps.Keys(s.Piles))
}

// CardIDs returns registry card ids in sorted order.
func (s GameState) CardIDs() []int {
	return slices.Sorted(maps.Keys(s.Cards))
}

// PileOf finds the pile currently holding cardID.
func (s GameState) PileOf(cardID int) (string, bool) {
	for id, p := range s.Piles {
		if p.Contains(cardID) {
			return id, true
		}
	}
	return "", false
}

// WithPiles returns a copy of s whose pile map has the given piles replaced.
// Untouched piles are shared with s.
func (s GameState) WithPiles(piles ...Pile) GameState {
	next := maps.Clone(s.Piles)
	if next == nil {
		next = make(map[string]Pile, len(piles))
	}
	for _, p := range piles {
		next[p.ID] = p
	}
	s.Piles = next
	return s
}
