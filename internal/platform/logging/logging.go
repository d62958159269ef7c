// Package logging builds the zap loggers used across the table server.
package logging

import (
	"strings"

	"go.uber.org/zap"
)

// IsDevelopment reports whether env names a non-production environment.
func IsDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "test", "local":
		return true
	default:
		return false
	}
}

// New returns a logger for env. Development loggers are human readable and
// panic on DPanic so broken invariants fail fast.
func New(env string) (*zap.Logger, error) {
	if IsDevelopment(env) {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// OrNop returns logger, or a no-op logger when logger is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
