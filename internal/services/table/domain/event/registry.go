package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

var (
	// ErrTypeRequired indicates a missing event type.
	ErrTypeRequired = errors.New("event type is required")
	// ErrTypeUnknown indicates a type outside the registered vocabulary.
	ErrTypeUnknown = errors.New("event type is not registered")
	// ErrPayloadInvalid indicates a payload that fails its schema.
	ErrPayloadInvalid = errors.New("event payload is invalid")
)

// PayloadValidator checks a payload JSON document.
type PayloadValidator func(json.RawMessage) error

// Definition registers the schema of one event type.
type Definition struct {
	Type            Type
	ValidatePayload PayloadValidator
}

// Registry holds the closed event vocabulary.
type Registry struct {
	definitions map[Type]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[Type]Definition)}
}

// Register adds an event type definition.
func (r *Registry) Register(def Definition) error {
	if r == nil {
		return errors.New("registry is required")
	}
	def.Type = Type(strings.TrimSpace(string(def.Type)))
	if def.Type == "" {
		return ErrTypeRequired
	}
	if r.definitions == nil {
		r.definitions = make(map[Type]Definition)
	}
	if _, exists := r.definitions[def.Type]; exists {
		return fmt.Errorf("event type already registered: %s", def.Type)
	}
	r.definitions[def.Type] = def
	return nil
}

// ValidateForAppend checks a draft before it is committed.
func (r *Registry) ValidateForAppend(d Draft) (Draft, error) {
	d.Type = Type(strings.TrimSpace(string(d.Type)))
	if d.Type == "" {
		return Draft{}, ErrTypeRequired
	}
	def, ok := r.definitions[d.Type]
	if !ok {
		return Draft{}, fmt.Errorf("%w: %s", ErrTypeUnknown, d.Type)
	}
	if len(d.PayloadJSON) == 0 {
		d.PayloadJSON = json.RawMessage("{}")
	}
	if !json.Valid(d.PayloadJSON) {
		return Draft{}, fmt.Errorf("%w: %s payload is not json", ErrPayloadInvalid, d.Type)
	}
	if def.ValidatePayload != nil {
		if err := def.ValidatePayload(d.PayloadJSON); err != nil {
			return Draft{}, fmt.Errorf("%w: %s: %v", ErrPayloadInvalid, d.Type, err)
		}
	}
	return d, nil
}

// Types lists registered types in sorted order.
func (r *Registry) Types() []Type {
	if r == nil {
		return nil
	}
	types := make([]Type, 0, len(r.definitions))
	for t := range r.definitions {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// CoreRegistry returns a registry holding the full engine vocabulary.
func CoreRegistry() *Registry {
	r := NewRegistry()
	for _, def := range coreDefinitions() {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

func coreDefinitions() []Definition {
	return []Definition{
		{Type: TypeMoveCards, ValidatePayload: validateMoveCards},
		{Type: TypeSetCurrentPlayer, ValidatePayload: validatePlayer},
		{Type: TypeSetWinner, ValidatePayload: validatePlayer},
		{Type: TypeSetRulesState, ValidatePayload: validateRulesState},
		{Type: TypeSetActions, ValidatePayload: strict[SetActionsPayload]},
		{Type: TypeSetScoreboards, ValidatePayload: strict[SetScoreboardsPayload]},
		{Type: TypeSetPileVisibility, ValidatePayload: validatePileVisibility},
		{Type: TypeSetCardVisuals, ValidatePayload: validateCardVisuals},
		{Type: TypeSetPileProperties, ValidatePayload: validatePileProperties},
		{Type: TypeFatalError, ValidatePayload: validateMessage},
		{Type: TypeAnnounce, ValidatePayload: validateMessage},
	}
}

func decodeStrict(raw json.RawMessage, target any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after payload")
	}
	return nil
}

func strict[T any](raw json.RawMessage) error {
	_, err := Decode[T](raw)
	return err
}

func validateMoveCards(raw json.RawMessage) error {
	p, err := Decode[MoveCardsPayload](raw)
	if err != nil {
		return err
	}
	if strings.TrimSpace(p.FromPileID) == "" || strings.TrimSpace(p.ToPileID) == "" {
		return errors.New("fromPileId and toPileId are required")
	}
	if len(p.CardIDs) == 0 {
		return errors.New("cardIds is required")
	}
	return nil
}

func validatePlayer(raw json.RawMessage) error {
	p, err := Decode[PlayerPayload](raw)
	if err != nil {
		return err
	}
	if strings.TrimSpace(p.PlayerID) == "" {
		return errors.New("playerId is required")
	}
	return nil
}

func validateRulesState(raw json.RawMessage) error {
	p, err := Decode[SetRulesStatePayload](raw)
	if err != nil {
		return err
	}
	if len(p.RulesState) == 0 {
		return errors.New("rulesState is required")
	}
	return nil
}

func validatePileVisibility(raw json.RawMessage) error {
	p, err := Decode[SetPileVisibilityPayload](raw)
	if err != nil {
		return err
	}
	if strings.TrimSpace(p.PileID) == "" {
		return errors.New("pileId is required")
	}
	if !p.Visibility.Valid() {
		return fmt.Errorf("visibility %q is invalid", p.Visibility)
	}
	return nil
}

func validateCardVisuals(raw json.RawMessage) error {
	p, err := Decode[SetCardVisualsPayload](raw)
	if err != nil {
		return err
	}
	if p.Visuals == nil {
		return errors.New("visuals is required")
	}
	return nil
}

func validatePileProperties(raw json.RawMessage) error {
	p, err := Decode[SetPilePropertiesPayload](raw)
	if err != nil {
		return err
	}
	if strings.TrimSpace(p.PileID) == "" {
		return errors.New("pileId is required")
	}
	return nil
}

func validateMessage(raw json.RawMessage) error {
	p, err := Decode[MessagePayload](raw)
	if err != nil {
		return err
	}
	if strings.TrimSpace(p.Message) == "" {
		return errors.New("message is required")
	}
	return nil
}
