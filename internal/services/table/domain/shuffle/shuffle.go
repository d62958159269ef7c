// Package shuffle implements the seeded, replayable card shuffle.
//
// Inputs are always sorted before shuffling so the result depends only on
// the seed and the set of card ids, never on map iteration order.
package shuffle

import (
	"hash/fnv"
	"maps"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CanonicalSeed normalizes a seed so visually identical strings hash alike.
func CanonicalSeed(seed string) string {
	return norm.NFC.String(strings.TrimSpace(seed))
}

// HashSeed maps a seed string to the generator's 32-bit state.
func HashSeed(seed string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(CanonicalSeed(seed)))
	return h.Sum32()
}

// RNG is a mulberry32 generator. Not safe for concurrent use.
type RNG struct {
	state uint32
}

// NewRNG seeds a generator.
func NewRNG(seed uint32) *RNG {
	return &RNG{state: seed}
}

// Uint32 advances the generator.
func (r *RNG) Uint32() uint32 {
	r.state += 0x6D2B79F5
	t := r.state
	t = (t ^ t>>15) * (t | 1)
	t ^= t + (t^t>>7)*(t|61)
	return t ^ t>>14
}

// Float64 returns a value in [0, 1).
func (r *RNG) Float64() float64 {
	return float64(r.Uint32()) / 4294967296.0
}

// Shuffle returns a seeded permutation of ids. The input is not modified.
func Shuffle(ids []int, seed uint32) []int {
	out := slices.Clone(ids)
	slices.Sort(out)
	rng := NewRNG(seed)
	for i := len(out) - 1; i > 0; i-- {
		j := int(rng.Float64() * float64(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Target is a pile taking part in a layout shuffle.
type Target struct {
	PileID  string
	Group   string
	CardIDs []int
}

// Layout shuffles every target and returns the new contents by pile id.
//
// Grouped piles are pooled, shuffled as one unit and dealt back in their
// original sizes. Groups run first in name order, then ungrouped piles in id
// order; each shuffle call consumes the next seed offset.
func Layout(seed string, targets []Target) map[string][]int {
	base := HashSeed(seed)
	var offset uint32
	out := make(map[string][]int, len(targets))

	groups := map[string][]Target{}
	var singles []Target
	for _, t := range targets {
		if t.Group == "" {
			singles = append(singles, t)
			continue
		}
		groups[t.Group] = append(groups[t.Group], t)
	}

	for _, name := range slices.Sorted(maps.Keys(groups)) {
		members := groups[name]
		slices.SortFunc(members, func(a, b Target) int { return strings.Compare(a.PileID, b.PileID) })
		var pooled []int
		for _, m := range members {
			pooled = append(pooled, m.CardIDs...)
		}
		mixed := Shuffle(pooled, base+offset)
		offset++
		at := 0
		for _, m := range members {
			out[m.PileID] = mixed[at : at+len(m.CardIDs) : at+len(m.CardIDs)]
			at += len(m.CardIDs)
		}
	}

	slices.SortFunc(singles, func(a, b Target) int { return strings.Compare(a.PileID, b.PileID) })
	for _, s := range singles {
		out[s.PileID] = Shuffle(s.CardIDs, base+offset)
		offset++
	}
	return out
}
