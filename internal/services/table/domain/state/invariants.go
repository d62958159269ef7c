package state

import (
	"errors"
	"fmt"
)

// ErrInvariant marks a structural corruption of the card and pile model.
var ErrInvariant = errors.New("state invariant violated")

// CheckInvariants verifies card conservation: every registry card sits in
// exactly one pile and piles hold nothing outside the registry.
func (s GameState) CheckInvariants() error {
	seen := make(map[int]string, len(s.Cards))
	total := 0
	for _, pileID := range s.PileIDs() {
		for _, cardID := range s.Piles[pileID].CardIDs {
			total++
			if _, ok := s.Cards[cardID]; !ok {
				return fmt.Errorf("%w: pile %s holds unknown card %d", ErrInvariant, pileID, cardID)
			}
			if other, dup := seen[cardID]; dup {
				return fmt.Errorf("%w: card %d in both %s and %s", ErrInvariant, cardID, other, pileID)
			}
			seen[cardID] = pileID
		}
	}
	if total != len(s.Cards) {
		return fmt.Errorf("%w: piles hold %d cards, registry has %d", ErrInvariant, total, len(s.Cards))
	}
	return nil
}
