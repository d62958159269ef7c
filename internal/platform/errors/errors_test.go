package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := Wrap(CodeGameNotFound, "game g1 not found", stderrors.New("missing"))
	wrapped := fmt.Errorf("submit: %w", err)

	if !stderrors.Is(wrapped, New(CodeGameNotFound, "")) {
		t.Fatal("expected errors.Is to match by code")
	}
	if stderrors.Is(wrapped, New(CodeRulesUnknown, "")) {
		t.Fatal("expected different code not to match")
	}
	if GetCode(wrapped) != CodeGameNotFound {
		t.Fatalf("GetCode = %s, want %s", GetCode(wrapped), CodeGameNotFound)
	}
	if GetCode(stderrors.New("plain")) != CodeUnknown {
		t.Fatal("expected plain error to map to unknown")
	}
}

func TestCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeGameNotFound, http.StatusNotFound},
		{CodeRulesUnknown, http.StatusNotFound},
		{CodeGameLimitReached, http.StatusServiceUnavailable},
		{CodeIntentMalformed, http.StatusBadRequest},
		{CodeIntentRejected, http.StatusConflict},
		{CodeGameExists, http.StatusConflict},
		{CodeViewerForbidden, http.StatusForbidden},
		{CodeGameInvalidSetup, http.StatusBadRequest},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Fatalf("%s.HTTPStatus() = %d, want %d", tt.code, got, tt.want)
		}
	}
}
