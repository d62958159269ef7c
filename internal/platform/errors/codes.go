// Package errors provides coded errors for the table server's outer surfaces.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Game lifecycle errors
	CodeGameNotFound     Code = "GAME_NOT_FOUND"
	CodeGameLimitReached Code = "GAME_LIMIT_REACHED"
	CodeGameInvalidSetup Code = "GAME_INVALID_SETUP"
	CodeGameExists       Code = "GAME_EXISTS"

	// Rules errors
	CodeRulesUnknown Code = "RULES_UNKNOWN"

	// Viewer errors
	CodeViewerForbidden Code = "VIEWER_FORBIDDEN"

	// Intent errors
	CodeIntentMalformed Code = "INTENT_MALFORMED"
	CodeIntentRejected  Code = "INTENT_REJECTED"
)

// HTTPStatus maps a code to the HTTP status returned to clients.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeGameNotFound, CodeRulesUnknown:
		return http.StatusNotFound
	case CodeGameLimitReached:
		return http.StatusServiceUnavailable
	case CodeGameInvalidSetup, CodeIntentMalformed:
		return http.StatusBadRequest
	case CodeViewerForbidden:
		return http.StatusForbidden
	case CodeIntentRejected, CodeGameExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
