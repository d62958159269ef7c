// Package eights implements a small crazy-eights ruleset.
//
// Seats take turns playing a card from their hand onto the discard pile.
// A card must match the suit or rank of the top discard; eights are wild.
// A seat that cannot play draws, or passes once the deck is empty. The first
// seat to empty its hand wins.
package eights

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/louisbranch/cardtable/internal/services/table/domain/event"
	"github.com/louisbranch/cardtable/internal/services/table/domain/rules"
	"github.com/louisbranch/cardtable/internal/services/table/domain/state"
)

// ID is the rules id of this plugin.
const ID = "eights"

const (
	PileDeck    = "deck"
	PileDiscard = "discard"

	ActionDeal = "deal"
	ActionDraw = "draw"
	ActionPass = "pass"

	handSize   = 5
	minPlayers = 2
	maxPlayers = 4
)

var (
	suits = []string{"clubs", "diamonds", "hearts", "spades"}
	ranks = []string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}

	rankNames = map[string]string{"A": "Ace", "J": "Jack", "Q": "Queen", "K": "King"}
)

// RulesState is the plugin-owned state carried in set-rules-state events.
type RulesState struct {
	Dealt            bool   `json:"dealt"`
	LastPlayedCardID int    `json:"lastPlayedCardId,omitempty"`
	LastPlayedBy     string `json:"lastPlayedBy,omitempty"`
	Passes           int    `json:"passes,omitempty"`
}

// HandPileID returns the hand pile of a seat.
func HandPileID(playerID string) string {
	return "hand:" + playerID
}

// Plugin implements rules.Plugin.
type Plugin struct{}

// New returns the crazy-eights plugin.
func New() *Plugin { return &Plugin{} }

// ID implements rules.Plugin.
func (*Plugin) ID() string { return ID }

// Setup implements rules.Plugin.
func (*Plugin) Setup(players []state.Player) (state.GameState, error) {
	if len(players) < minPlayers || len(players) > maxPlayers {
		return state.GameState{}, fmt.Errorf("eights needs %d-%d players, got %d", minPlayers, maxPlayers, len(players))
	}
	cards := make(map[int]state.Card, len(suits)*len(ranks))
	deck := make([]int, 0, len(suits)*len(ranks))
	id := 1
	for _, suit := range suits {
		for _, rank := range ranks {
			cards[id] = state.Card{ID: id, Rank: rank, Suit: suit, Label: label(rank, suit)}
			deck = append(deck, id)
			id++
		}
	}
	piles := map[string]state.Pile{
		PileDeck:    {ID: PileDeck, Visibility: state.VisibilityOwner, Shuffle: true, CardIDs: deck},
		PileDiscard: {ID: PileDiscard, Visibility: state.VisibilityPublic, CardIDs: []int{}},
	}
	for _, p := range players {
		piles[HandPileID(p.ID)] = state.Pile{
			ID:         HandPileID(p.ID),
			OwnerID:    p.ID,
			Visibility: state.VisibilityOwner,
			CardIDs:    []int{},
		}
	}
	rs, err := json.Marshal(RulesState{})
	if err != nil {
		return state.GameState{}, err
	}
	// Nobody holds the turn until the deal, so any seat may deal.
	return state.GameState{
		Cards:      cards,
		Piles:      piles,
		Players:    players,
		RulesState: rs,
		Actions:    []state.Action{{ID: ActionDeal, Label: "Deal"}},
	}, nil
}

// ValidationHints implements rules.HintsProvider. The deck is hidden from
// players but the rules need to draw from it.
func (*Plugin) ValidationHints() rules.Hints {
	return rules.Hints{
		IsPileAlwaysVisibleToRules: func(p state.Pile) bool { return p.ID == PileDeck },
		BuildPlayedByLookup: func(s state.GameState) map[int]string {
			rs, err := decodeRulesState(s.RulesState)
			if err != nil || rs.LastPlayedCardID == 0 {
				return nil
			}
			return map[int]string{rs.LastPlayedCardID: rs.LastPlayedBy}
		},
	}
}

// Validate implements rules.Plugin.
func (p *Plugin) Validate(vs rules.ValidationState, in rules.Intent) (rules.Result, error) {
	rs, err := decodeRulesState(vs.RulesState)
	if err != nil {
		return rules.Result{}, err
	}
	switch in.Type {
	case rules.IntentAction:
		switch in.Action {
		case ActionDeal:
			return p.deal(vs, rs)
		case ActionDraw:
			return p.draw(vs, rs, in.PlayerID)
		case ActionPass:
			return p.pass(vs, rs, in.PlayerID)
		default:
			return rules.Reject("Unknown action"), nil
		}
	case rules.IntentMove:
		return p.play(vs, rs, in)
	default:
		return rules.Reject("Unknown intent"), nil
	}
}

func (p *Plugin) deal(vs rules.ValidationState, rs RulesState) (rules.Result, error) {
	if rs.Dealt {
		return rules.Reject("Cards are already dealt"), nil
	}
	deck := vs.Piles[PileDeck].CardIDs
	need := handSize*len(vs.Players) + 1
	if len(deck) < need {
		return rules.Reject("Not enough cards to deal"), nil
	}

	hands := make(map[string][]int, len(vs.Players))
	at := len(deck) - 1
	for range handSize {
		for _, seat := range vs.Players {
			hands[seat.ID] = append(hands[seat.ID], deck[at])
			at--
		}
	}
	events := make([]event.Draft, 0, len(vs.Players)+5)
	for _, seat := range vs.Players {
		events = append(events, event.MoveCards(PileDeck, HandPileID(seat.ID), hands[seat.ID]...))
	}
	events = append(events, event.MoveCards(PileDeck, PileDiscard, deck[at]))

	next, err := event.SetRulesState(RulesState{Dealt: true})
	if err != nil {
		return rules.Result{}, err
	}
	events = append(events,
		next,
		event.SetActions(),
		event.SetCurrentPlayer(vs.Players[0].ID),
		event.Announce("Cards dealt"),
	)
	return rules.Accept(events...), nil
}

func (p *Plugin) draw(vs rules.ValidationState, rs RulesState, playerID string) (rules.Result, error) {
	if !rs.Dealt {
		return rules.Reject("Cards are not dealt yet"), nil
	}
	top, ok := topOf(vs, PileDeck)
	if !ok {
		return rules.Reject("The deck is empty"), nil
	}
	rs.Passes = 0
	next, err := event.SetRulesState(rs)
	if err != nil {
		return rules.Result{}, err
	}
	return rules.Accept(
		event.MoveCards(PileDeck, HandPileID(playerID), top),
		next,
		event.SetCurrentPlayer(nextSeat(vs.Players, playerID)),
	), nil
}

func (p *Plugin) pass(vs rules.ValidationState, rs RulesState, playerID string) (rules.Result, error) {
	if !rs.Dealt {
		return rules.Reject("Cards are not dealt yet"), nil
	}
	if vs.Piles[PileDeck].Size > 0 {
		return rules.Reject("Draw instead of passing"), nil
	}
	if len(playable(vs, playerID)) > 0 {
		return rules.Reject("You have a playable card"), nil
	}
	rs.Passes++
	if rs.Passes >= len(vs.Players) {
		// Nobody can move: fewest cards wins, first seat breaks ties.
		next, err := event.SetRulesState(rs)
		if err != nil {
			return rules.Result{}, err
		}
		winner := fewestCards(vs)
		return rules.Accept(
			next,
			event.SetWinner(winner),
			event.SetActions(state.Action{ID: rules.ActionRestart, Label: "Play again"}),
			event.Announce("Blocked game"),
		), nil
	}
	next, err := event.SetRulesState(rs)
	if err != nil {
		return rules.Result{}, err
	}
	return rules.Accept(next, event.SetCurrentPlayer(nextSeat(vs.Players, playerID))), nil
}

func (p *Plugin) play(vs rules.ValidationState, rs RulesState, in rules.Intent) (rules.Result, error) {
	if !rs.Dealt {
		return rules.Reject("Cards are not dealt yet"), nil
	}
	if in.FromPileID != HandPileID(in.PlayerID) || in.ToPileID != PileDiscard {
		return rules.Reject("Play a card from your hand onto the discard pile"), nil
	}
	ids := in.MovedCardIDs()
	if len(ids) != 1 {
		return rules.Reject("Play one card at a time"), nil
	}
	card, ok := vs.Cards[ids[0]]
	if !ok {
		return rules.Reject("Unknown card"), nil
	}
	if !matches(vs, card) {
		return rules.Reject("Card must match the suit or rank of the discard"), nil
	}

	next, err := event.SetRulesState(RulesState{Dealt: true, LastPlayedCardID: card.ID, LastPlayedBy: in.PlayerID})
	if err != nil {
		return rules.Result{}, err
	}
	events := []event.Draft{
		event.MoveCards(in.FromPileID, PileDiscard, card.ID),
		next,
	}
	if vs.Piles[in.FromPileID].Size == 1 {
		events = append(events,
			event.SetWinner(in.PlayerID),
			event.SetActions(state.Action{ID: rules.ActionRestart, Label: "Play again"}),
			event.Announce(fmt.Sprintf("%s wins", playerName(vs, in.PlayerID))),
		)
		return rules.Accept(events...), nil
	}
	events = append(events, event.SetCurrentPlayer(nextSeat(vs.Players, in.PlayerID)))
	return rules.Accept(events...), nil
}

// ListLegalIntentsForPlayer implements rules.Plugin.
func (p *Plugin) ListLegalIntentsForPlayer(vs rules.ValidationState, playerID string) ([]rules.Intent, error) {
	if vs.Winner != "" {
		return []rules.Intent{{Type: rules.IntentAction, Action: rules.ActionRestart}}, nil
	}
	if vs.CurrentPlayer != "" && vs.CurrentPlayer != playerID {
		return nil, nil
	}
	rs, err := decodeRulesState(vs.RulesState)
	if err != nil {
		return nil, err
	}
	if !rs.Dealt {
		return []rules.Intent{{Type: rules.IntentAction, Action: ActionDeal}}, nil
	}
	var out []rules.Intent
	for _, id := range playable(vs, playerID) {
		cardID := id
		out = append(out, rules.Intent{
			Type:       rules.IntentMove,
			FromPileID: HandPileID(playerID),
			ToPileID:   PileDiscard,
			CardID:     &cardID,
		})
	}
	switch {
	case vs.Piles[PileDeck].Size > 0:
		out = append(out, rules.Intent{Type: rules.IntentAction, Action: ActionDraw})
	case len(out) == 0:
		out = append(out, rules.Intent{Type: rules.IntentAction, Action: ActionPass})
	}
	return out, nil
}

// BuildAIContext implements rules.AIContextBuilder.
func (p *Plugin) BuildAIContext(vs rules.ValidationState, playerID string) rules.AIContext {
	rs, _ := decodeRulesState(vs.RulesState)
	if !rs.Dealt {
		return rules.AIContext{Recap: "Cards have not been dealt. Deal to start."}
	}
	var facts []string
	if top, ok := topOf(vs, PileDiscard); ok {
		facts = append(facts, "Top of discard: "+vs.Cards[top].Label)
	}
	facts = append(facts,
		fmt.Sprintf("You hold %d cards.", vs.Piles[HandPileID(playerID)].Size),
		fmt.Sprintf("%d cards left in the deck.", vs.Piles[PileDeck].Size),
	)
	for _, seat := range vs.Players {
		if seat.ID == playerID {
			continue
		}
		facts = append(facts, fmt.Sprintf("%s holds %d cards.", seat.Name, vs.Piles[HandPileID(seat.ID)].Size))
	}
	return rules.AIContext{
		Recap: "Crazy eights: match the suit or rank of the top discard, eights are wild. Empty your hand to win.",
		Facts: facts,
	}
}

func playable(vs rules.ValidationState, playerID string) []int {
	var out []int
	for _, id := range vs.Piles[HandPileID(playerID)].CardIDs {
		if matches(vs, vs.Cards[id]) {
			out = append(out, id)
		}
	}
	return out
}

func matches(vs rules.ValidationState, card state.Card) bool {
	if card.Rank == "8" {
		return true
	}
	top, ok := topOf(vs, PileDiscard)
	if !ok {
		return true
	}
	discard := vs.Cards[top]
	return card.Suit == discard.Suit || card.Rank == discard.Rank
}

func topOf(vs rules.ValidationState, pileID string) (int, bool) {
	ids := vs.Piles[pileID].CardIDs
	if len(ids) == 0 {
		return 0, false
	}
	return ids[len(ids)-1], true
}

func nextSeat(players []state.Player, current string) string {
	for i, p := range players {
		if p.ID == current {
			return players[(i+1)%len(players)].ID
		}
	}
	return players[0].ID
}

func fewestCards(vs rules.ValidationState) string {
	winner := vs.Players[0].ID
	best := vs.Piles[HandPileID(winner)].Size
	for _, seat := range vs.Players[1:] {
		if n := vs.Piles[HandPileID(seat.ID)].Size; n < best {
			winner, best = seat.ID, n
		}
	}
	return winner
}

func playerName(vs rules.ValidationState, id string) string {
	for _, p := range vs.Players {
		if p.ID == id && p.Name != "" {
			return p.Name
		}
	}
	return id
}

func decodeRulesState(raw json.RawMessage) (RulesState, error) {
	var rs RulesState
	if len(raw) == 0 {
		return rs, nil
	}
	if err := json.Unmarshal(raw, &rs); err != nil {
		return rs, fmt.Errorf("decode eights rules state: %w", err)
	}
	return rs, nil
}

func label(rank, suit string) string {
	name, ok := rankNames[rank]
	if !ok {
		name = rank
	}
	return name + " of " + strings.ToUpper(suit[:1]) + suit[1:]
}
