package visibility

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/louisbranch/cardtable/internal/services/table/domain/state"
)

// PileView is a pile as one viewer sees it. CardIDs is set only when the
// viewer may see the contents.
type PileView struct {
	ID         string            `json:"id"`
	OwnerID    string            `json:"ownerId,omitempty"`
	Visibility state.Visibility  `json:"visibility"`
	Size       int               `json:"size"`
	Visible    bool              `json:"visible"`
	CardIDs    []int             `json:"cardIds,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// View is the fully hardened projection sent to a client or an AI seat.
type View struct {
	GameID        string                   `json:"gameId"`
	RulesID       string                   `json:"rulesId"`
	Viewer        string                   `json:"viewer"`
	Piles         []PileView               `json:"piles"`
	Cards         map[int]state.Card       `json:"cards"`
	Players       []state.Player           `json:"players"`
	CurrentPlayer string                   `json:"currentPlayer,omitempty"`
	Winner        string                   `json:"winner,omitempty"`
	RulesState    json.RawMessage          `json:"rulesState,omitempty"`
	Actions       []state.Action           `json:"actions,omitempty"`
	Scoreboards   []state.Scoreboard       `json:"scoreboards,omitempty"`
	CardVisuals   map[int]state.CardVisual `json:"cardVisuals,omitempty"`
	Announcement  string                   `json:"announcement,omitempty"`
	FatalError    string                   `json:"fatalError,omitempty"`
	Version       uint64                   `json:"version"`
}

// Pile finds a pile view by id.
func (v View) Pile(id string) (PileView, bool) {
	for _, p := range v.Piles {
		if p.ID == id {
			return p, true
		}
	}
	return PileView{}, false
}

// BuildView projects s for viewer. Only cards in visible piles appear, and
// every card id, including those embedded in rules state, is rewritten into
// the viewer's id space.
func BuildView(s state.GameState, salt, viewer string) View {
	toView := func(id int) int { return ViewCardID(salt, viewer, id) }

	v := View{
		GameID:        s.GameID,
		RulesID:       s.RulesID,
		Viewer:        viewer,
		Piles:         make([]PileView, 0, len(s.Piles)),
		Cards:         map[int]state.Card{},
		Players:       s.Players,
		CurrentPlayer: s.CurrentPlayer,
		Winner:        s.Winner,
		Actions:       s.Actions,
		Scoreboards:   s.Scoreboards,
		Announcement:  s.Announcement,
		FatalError:    s.FatalError,
		Version:       s.Version,
	}

	visibleCards := map[int]struct{}{}
	for _, pileID := range s.PileIDs() {
		p := s.Piles[pileID]
		pv := PileView{
			ID:         p.ID,
			OwnerID:    p.OwnerID,
			Visibility: p.Visibility,
			Size:       len(p.CardIDs),
			Properties: s.PileProperties[p.ID],
		}
		if CanSee(p, viewer) {
			pv.Visible = true
			pv.CardIDs = make([]int, len(p.CardIDs))
			for i, id := range p.CardIDs {
				pv.CardIDs[i] = toView(id)
				visibleCards[id] = struct{}{}
				card := s.Cards[id]
				card.ID = pv.CardIDs[i]
				v.Cards[card.ID] = card
			}
		}
		v.Piles = append(v.Piles, pv)
	}

	for id, visual := range s.CardVisuals {
		if _, ok := visibleCards[id]; !ok {
			continue
		}
		if v.CardVisuals == nil {
			v.CardVisuals = map[int]state.CardVisual{}
		}
		v.CardVisuals[toView(id)] = visual
	}

	known := func(id int) bool {
		_, ok := s.Cards[id]
		return ok
	}
	v.RulesState = RemapRulesState(s.RulesState, func(id int) (int, bool) {
		if !known(id) {
			return 0, false
		}
		return toView(id), true
	})
	return v
}

// IsCardIDKey reports whether a rules-state key holds card ids.
func IsCardIDKey(key string) bool {
	return strings.Contains(strings.ToLower(key), "cardid")
}

// RemapRulesState rewrites every integer found under a card-id key,
// recursing through nested objects and arrays. Values mapID does not
// recognise are left untouched. Invalid JSON is dropped.
func RemapRulesState(raw json.RawMessage, mapID func(int) (int, bool)) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil
	}
	out, err := json.Marshal(remap(doc, false, mapID))
	if err != nil {
		return nil
	}
	return out
}

func remap(v any, underCardKey bool, mapID func(int) (int, bool)) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = remap(child, underCardKey || IsCardIDKey(k), mapID)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = remap(child, underCardKey, mapID)
		}
		return t
	case json.Number:
		if !underCardKey {
			return t
		}
		n, err := t.Int64()
		if err != nil {
			return t
		}
		mapped, ok := mapID(int(n))
		if !ok {
			return t
		}
		return mapped
	default:
		return v
	}
}
