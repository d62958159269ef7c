package httpapi

import (
	"github.com/louisbranch/cardtable/internal/services/table/domain/event"
	"github.com/louisbranch/cardtable/internal/services/table/domain/state"
)

// CreateGameRequest is the body of POST /games.
type CreateGameRequest struct {
	GameID  string         `json:"gameId,omitempty"`
	RulesID string         `json:"rulesId"`
	Players []state.Player `json:"players"`
	Seed    string         `json:"seed,omitempty"`
}

// GameResponse describes a created game.
type GameResponse struct {
	GameID  string         `json:"gameId"`
	RulesID string         `json:"rulesId"`
	Players []state.Player `json:"players"`
}

// RulesResponse lists the available rules.
type RulesResponse struct {
	Rules []string `json:"rules"`
}

// IntentResponse reports the outcome of an intent.
type IntentResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	Events  int    `json:"events"`
	Version uint64 `json:"version,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func lastVersion(events []event.Event) uint64 {
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].ID
}
