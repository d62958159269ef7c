// Package visibility hardens card identity and filters state per viewer.
//
// Engine card ids never leave the server. Each viewer sees a salted hash of
// the engine id, so two viewers cannot correlate cards by id and nobody can
// guess a hidden card from its number. Reverse lookup scans the card
// registry; no table maps view ids back.
package visibility

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"

	"github.com/louisbranch/cardtable/internal/services/table/domain/state"
)

// GodViewer bypasses every visibility check. Only debug tooling and
// spectator modes that are explicitly enabled may use it.
const GodViewer = "*god*"

const viewIDBase = 1_000_000

// ViewCardID returns the id viewer sees for engineID.
func ViewCardID(salt, viewer string, engineID int) int {
	sum := sha256.Sum256([]byte(salt + "|" + viewer + "|" + strconv.Itoa(engineID)))
	var buf [8]byte
	copy(buf[2:], sum[:6])
	return viewIDBase + int(binary.BigEndian.Uint64(buf[:]))
}

// ResolveEngineCardID maps a view id back to an engine id by recomputing the
// hash for every card in the registry.
func ResolveEngineCardID(s state.GameState, salt, viewer string, viewID int) (int, bool) {
	if viewID < viewIDBase {
		return 0, false
	}
	for _, id := range s.CardIDs() {
		if ViewCardID(salt, viewer, id) == viewID {
			return id, true
		}
	}
	return 0, false
}

// CanSee reports whether viewer may see the contents of pile.
func CanSee(p state.Pile, viewer string) bool {
	if viewer == GodViewer {
		return true
	}
	switch p.Visibility {
	case state.VisibilityPublic:
		return true
	case state.VisibilityOwner:
		return p.OwnerID != "" && p.OwnerID == viewer
	default:
		return false
	}
}
