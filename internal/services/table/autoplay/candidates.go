package autoplay

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/louisbranch/cardtable/internal/services/table/domain/rules"
	"github.com/louisbranch/cardtable/internal/services/table/domain/visibility"
	"github.com/louisbranch/cardtable/internal/services/table/gamestore"
	"github.com/louisbranch/cardtable/internal/services/table/llmpolicy"
)

// legalIntents lists what playerID may do, in playerID's view id space.
// Plugins that can list against the view are preferred.
func (s *Scheduler) legalIntents(snap gamestore.Snapshot, view visibility.View, playerID string) (intents []rules.Intent, err error) {
	if lister, ok := snap.Plugin.(rules.ViewLister); ok {
		defer func() {
			if r := recover(); r != nil {
				intents, err = nil, fmt.Errorf("rules plugin %s panicked: %v", snap.Plugin.ID(), r)
			}
		}()
		intents, err = lister.ListLegalIntentsForView(view, playerID)
		if err != nil {
			return nil, fmt.Errorf("list legal intents for view: %w", err)
		}
		for i := range intents {
			intents[i].PlayerID = playerID
		}
		return intents, nil
	}

	intents, err = s.boundary.ListLegalIntents(snap.Plugin, snap.State, playerID)
	if err != nil {
		return nil, err
	}
	for i, in := range intents {
		intents[i] = in.MapCardIDs(func(id int) int {
			return visibility.ViewCardID(snap.Salt, playerID, id)
		})
	}
	return intents, nil
}

// buildCandidates gives each intent a stable content-derived id.
func buildCandidates(view visibility.View, intents []rules.Intent) []llmpolicy.Candidate {
	out := make([]llmpolicy.Candidate, 0, len(intents))
	seen := make(map[string]int, len(intents))
	for _, in := range intents {
		id := candidateID(in)
		seen[id]++
		if n := seen[id]; n > 1 {
			id += "#" + strconv.Itoa(n)
		}
		out = append(out, llmpolicy.Candidate{ID: id, Summary: describe(view, in), Intent: in})
	}
	return out
}

func candidateID(in rules.Intent) string {
	if in.Type == rules.IntentAction {
		return "act:" + in.Action
	}
	ids := in.MovedCardIDs()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return fmt.Sprintf("mv:%s>%s:%s", in.FromPileID, in.ToPileID, strings.Join(parts, ","))
}

func describe(view visibility.View, in rules.Intent) string {
	if in.Type == rules.IntentAction {
		for _, a := range view.Actions {
			if a.ID == in.Action && a.Label != "" {
				return a.Label
			}
		}
		return in.Action
	}
	ids := in.MovedCardIDs()
	labels := make([]string, len(ids))
	for i, id := range ids {
		card, ok := view.Cards[id]
		switch {
		case !ok:
			labels[i] = "a hidden card"
		case card.Label != "":
			labels[i] = card.Label
		default:
			labels[i] = card.Rank + " of " + card.Suit
		}
	}
	return fmt.Sprintf("Move %s from %s to %s", strings.Join(labels, ", "), in.FromPileID, in.ToPileID)
}
