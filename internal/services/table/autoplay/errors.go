package autoplay

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed AI turn.
type ErrorKind string

const (
	// KindTimeout means the policy missed the turn deadline. A random
	// candidate was played instead.
	KindTimeout ErrorKind = "timeout"
	// KindPolicy means the policy failed outright. The game is halted.
	KindPolicy ErrorKind = "policy"
	// KindValidation means the pipeline rejected the chosen intent.
	KindValidation ErrorKind = "validation"
	// KindUnexpected covers everything else. The game is halted.
	KindUnexpected ErrorKind = "unexpected"
)

var (
	// ErrDisabled indicates server-side AI is turned off.
	ErrDisabled = errors.New("server ai is disabled")
	// ErrTurnInFlight indicates a turn is already running for the game.
	ErrTurnInFlight = errors.New("ai turn already in flight")
	// ErrNoLegalMoves indicates an AI seat with nothing to play.
	ErrNoLegalMoves = errors.New("AI has no legal moves")
)

// AIError describes why an AI turn did not complete normally.
type AIError struct {
	Kind     ErrorKind
	GameID   string
	PlayerID string
	Reason   string
	Err      error
}

func (e *AIError) Error() string {
	msg := fmt.Sprintf("ai turn %s for %s in %s", e.Kind, e.PlayerID, e.GameID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AIError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error halts the game.
func (e *AIError) Fatal() bool {
	return e.Kind == KindPolicy || e.Kind == KindUnexpected
}
