// Package random provides cryptographic seed and salt generation helpers.
//
// Seeds feed the deterministic shuffle, so they are strings that can be
// replayed verbatim. Salts harden per-viewer card ids and never leave the
// server.
package random

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewSeed generates a shuffle seed from 8 bytes of crypto/rand.
func NewSeed() (string, error) {
	return randomHex(8, "seed")
}

// NewSalt generates a per-game secret salt from 16 bytes of crypto/rand.
func NewSalt() (string, error) {
	return randomHex(16, "salt")
}

func randomHex(n int, what string) (string, error) {
	b := make([]byte, n)
	if _, err := crand.Read(b); err != nil {
		return "", fmt.Errorf("read random %s: %w", what, err)
	}
	return hex.EncodeToString(b), nil
}
