// Package event defines the closed vocabulary of engine events.
//
// Engine events are the only way game state changes. Rule plugins emit
// Drafts; the store validates each draft against the registry, stamps it
// with a game-scoped id and appends it to the per-game log.
package event
