// Package luarules runs rule plugins written in Lua.
//
// Every call gets a fresh interpreter holding only the base, string, table
// and math libraries, so a script keeps no state between calls and cannot
// reach the filesystem or load other code. A script defines setup,
// validate and legal_intents, and optionally ai_context and a hints table.
package luarules

import (
	"embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/louisbranch/cardtable/internal/services/table/domain/event"
	"github.com/louisbranch/cardtable/internal/services/table/domain/rules"
	"github.com/louisbranch/cardtable/internal/services/table/domain/state"
)

//go:embed scripts/*.lua
var scripts embed.FS

var sandboxLibraries = []lua.RegistryFunction{
	{Name: "_G", Function: lua.BaseOpen},
	{Name: "string", Function: lua.StringOpen},
	{Name: "table", Function: lua.TableOpen},
	{Name: "math", Function: lua.MathOpen},
}

// Base library entries that load code or touch the host.
var blockedGlobals = []string{"dofile", "loadfile", "load", "require", "collectgarbage"}

var helperFunctions = []lua.RegistryFunction{
	{Name: "move", Function: luaMove},
	{Name: "event", Function: luaEvent},
}

// Plugin adapts a Lua script to rules.Plugin.
type Plugin struct {
	id     string
	source string
	hints  scriptHints
}

type scriptHints struct {
	SharedPileIDs []string `json:"sharedPileIds"`
	AlwaysVisible []string `json:"alwaysVisible"`
}

// New compiles source once to surface syntax errors and read its hints.
func New(id, source string) (*Plugin, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, rules.ErrRulesIDRequired
	}
	p := &Plugin{id: id, source: source}
	l, err := p.load()
	if err != nil {
		return nil, err
	}
	l.Global("hints")
	if l.TypeOf(-1) == lua.TypeTable {
		if err := decodeTop(l, &p.hints); err != nil {
			return nil, fmt.Errorf("%s hints: %w", id, err)
		}
	}
	l.Pop(1)
	return p, nil
}

// Highcard returns the bundled high-card script.
func Highcard() (*Plugin, error) {
	return Embedded("highcard")
}

// Embedded loads a bundled script by name.
func Embedded(name string) (*Plugin, error) {
	src, err := scripts.ReadFile("scripts/" + name + ".lua")
	if err != nil {
		return nil, fmt.Errorf("read %s script: %w", name, err)
	}
	return New(name, string(src))
}

// ID implements rules.Plugin.
func (p *Plugin) ID() string { return p.id }

// ValidationHints implements rules.HintsProvider.
func (p *Plugin) ValidationHints() rules.Hints {
	hints := rules.Hints{SharedPileIDs: p.hints.SharedPileIDs}
	if len(p.hints.AlwaysVisible) > 0 {
		always := p.hints.AlwaysVisible
		hints.IsPileAlwaysVisibleToRules = func(pile state.Pile) bool {
			return slices.Contains(always, pile.ID)
		}
	}
	return hints
}

type setupResult struct {
	Cards         []state.Card    `json:"cards"`
	Piles         []state.Pile    `json:"piles"`
	CurrentPlayer string          `json:"currentPlayer"`
	RulesState    json.RawMessage `json:"rulesState"`
	Actions       []state.Action  `json:"actions"`
}

// Setup implements rules.Plugin.
func (p *Plugin) Setup(players []state.Player) (state.GameState, error) {
	var out setupResult
	if err := p.call("setup", &out, players); err != nil {
		return state.GameState{}, err
	}
	s := state.GameState{
		Cards:         make(map[int]state.Card, len(out.Cards)),
		Piles:         make(map[string]state.Pile, len(out.Piles)),
		Players:       players,
		CurrentPlayer: out.CurrentPlayer,
		RulesState:    out.RulesState,
		Actions:       out.Actions,
	}
	for _, c := range out.Cards {
		s.Cards[c.ID] = c
	}
	for _, pile := range out.Piles {
		if pile.Visibility == "" {
			pile.Visibility = state.VisibilityOwner
		}
		if pile.CardIDs == nil {
			pile.CardIDs = []int{}
		}
		s.Piles[pile.ID] = pile
	}
	return s, nil
}

type validateResult struct {
	Valid  bool          `json:"valid"`
	Reason string        `json:"reason"`
	Events []event.Draft `json:"events"`
}

// Validate implements rules.Plugin.
func (p *Plugin) Validate(vs rules.ValidationState, in rules.Intent) (rules.Result, error) {
	var out validateResult
	if err := p.call("validate", &out, vs, in); err != nil {
		return rules.Result{}, err
	}
	if !out.Valid {
		return rules.Reject(out.Reason), nil
	}
	return rules.Accept(out.Events...), nil
}

// ListLegalIntentsForPlayer implements rules.Plugin.
func (p *Plugin) ListLegalIntentsForPlayer(vs rules.ValidationState, playerID string) ([]rules.Intent, error) {
	var out []rules.Intent
	if err := p.call("legal_intents", &out, vs, playerID); err != nil {
		return nil, err
	}
	return out, nil
}

// BuildAIContext implements rules.AIContextBuilder. Scripts without an
// ai_context function return an empty context.
func (p *Plugin) BuildAIContext(vs rules.ValidationState, playerID string) rules.AIContext {
	var out rules.AIContext
	if err := p.call("ai_context", &out, vs, playerID); err != nil {
		return rules.AIContext{}
	}
	return out
}

func (p *Plugin) load() (*lua.State, error) {
	l := lua.NewState()
	for _, lib := range sandboxLibraries {
		lua.Require(l, lib.Name, lib.Function, true)
		l.Pop(1)
	}
	for _, name := range blockedGlobals {
		l.PushNil()
		l.SetGlobal(name)
	}
	l.NewTable()
	lua.SetFunctions(l, helperFunctions, 0)
	l.SetGlobal("cardtable")

	if err := lua.DoString(l, p.source); err != nil {
		return nil, fmt.Errorf("load %s script: %w", p.id, err)
	}
	return l, nil
}

func (p *Plugin) call(fn string, out any, args ...any) error {
	l, err := p.load()
	if err != nil {
		return err
	}
	l.Global(fn)
	if !l.IsFunction(-1) {
		return fmt.Errorf("%s script does not define %s", p.id, fn)
	}
	for _, arg := range args {
		if err := pushJSON(l, arg); err != nil {
			return err
		}
	}
	if err := l.ProtectedCall(len(args), 1, 0); err != nil {
		return fmt.Errorf("%s.%s: %w", p.id, fn, err)
	}
	defer l.Pop(1)
	return decodeTop(l, out)
}

// luaMove builds a move-cards event table: cardtable.move(from, to, ids).
func luaMove(l *lua.State) int {
	from := lua.CheckString(l, 1)
	to := lua.CheckString(l, 2)
	lua.CheckType(l, 3, lua.TypeTable)
	pushValue(l, map[string]any{
		"type": string(event.TypeMoveCards),
		"payload": map[string]any{
			"fromPileId": from,
			"toPileId":   to,
			"cardIds":    tableToGo(l, 3),
		},
	})
	return 1
}

// luaEvent builds an event table: cardtable.event(type, payload).
func luaEvent(l *lua.State) int {
	eventType := lua.CheckString(l, 1)
	lua.CheckType(l, 2, lua.TypeTable)
	pushValue(l, map[string]any{
		"type":    eventType,
		"payload": tableToMap(l, 2),
	})
	return 1
}
