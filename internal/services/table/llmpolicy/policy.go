// Package llmpolicy asks a chat model to pick one of a turn's candidate
// moves.
//
// The model gets one repair attempt when its answer names no candidate;
// after that the first candidate is played. Transport failures on the
// first call are returned to the caller.
package llmpolicy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/louisbranch/cardtable/internal/services/table/domain/rules"
	"github.com/louisbranch/cardtable/internal/services/table/domain/visibility"
)

var (
	// ErrNoCandidates indicates a request without moves to choose from.
	ErrNoCandidates = errors.New("no candidates to choose from")
	// ErrPolicy wraps failures talking to the model.
	ErrPolicy = errors.New("policy call failed")
)

// Candidate is one legal move offered to the model, in the seat's view id
// space.
type Candidate struct {
	ID      string       `json:"id"`
	Summary string       `json:"summary"`
	Intent  rules.Intent `json:"intent"`
}

// Request is everything the model sees for one decision.
type Request struct {
	GameID     string
	PlayerID   string
	View       visibility.View
	Context    rules.AIContext
	Candidates []Candidate
}

// Decision is the chosen candidate.
type Decision struct {
	Candidate Candidate
	// Attempts counts chat completions made.
	Attempts int
	// Fallback is set when the first candidate was played because the
	// model never named a valid one.
	Fallback bool
}

// Config selects the model.
type Config struct {
	Model       string
	Temperature *float64
}

// Option configures a Policy.
type Option func(*Policy)

// WithLogger sets the policy logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Policy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithCompat shares a system role compatibility flag.
func WithCompat(compat *SystemRoleCompat) Option {
	return func(p *Policy) {
		if compat != nil {
			p.compat = compat
		}
	}
}

// Policy chooses candidates with a chat model.
type Policy struct {
	client ChatClient
	cfg    Config
	compat *SystemRoleCompat
	logger *zap.Logger
}

// New creates a policy over client.
func New(client ChatClient, cfg Config, opts ...Option) *Policy {
	p := &Policy{client: client, cfg: cfg, compat: &SystemRoleCompat{}, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if ModelRejectsSystemRole(cfg.Model) && p.compat.Disable() {
		p.logger.Info("model does not accept system messages, merging prompts", zap.String("model", cfg.Model))
	}
	return p
}

// Compat returns the policy's system role flag.
func (p *Policy) Compat() *SystemRoleCompat {
	return p.compat
}

// Choose asks the model for one of req.Candidates.
func (p *Policy) Choose(ctx context.Context, req Request) (Decision, error) {
	if len(req.Candidates) == 0 {
		return Decision{}, ErrNoCandidates
	}
	logger := p.logger.With(zap.String("game_id", req.GameID), zap.String("player_id", req.PlayerID))

	system, user := BuildPrompt(req)
	messages := []ChatMessage{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	}
	reply, err := p.complete(ctx, messages)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrPolicy, err)
	}
	id, _ := ExtractChoice(reply)
	if c, ok := resolve(req.Candidates, id); ok {
		return Decision{Candidate: c, Attempts: 1}, nil
	}

	logger.Warn("model named no legal move, asking again", zap.String("answer", id))
	messages = append(messages,
		ChatMessage{Role: RoleAssistant, Content: reply},
		ChatMessage{Role: RoleUser, Content: RepairNotice(id, req.Candidates)},
	)
	reply, err = p.complete(ctx, messages)
	if err != nil {
		logger.Warn("repair call failed, playing first candidate", zap.Error(err))
		return Decision{Candidate: req.Candidates[0], Attempts: 2, Fallback: true}, nil
	}
	id, _ = ExtractChoice(reply)
	if c, ok := resolve(req.Candidates, id); ok {
		return Decision{Candidate: c, Attempts: 2}, nil
	}
	logger.Warn("model named no legal move twice, playing first candidate", zap.String("answer", id))
	return Decision{Candidate: req.Candidates[0], Attempts: 2, Fallback: true}, nil
}

// complete sends messages, switching to merged system prompts for good if
// the provider refuses the system role.
func (p *Policy) complete(ctx context.Context, messages []ChatMessage) (string, error) {
	merged := p.compat.Disabled()
	send := messages
	if merged {
		send = mergeSystem(messages)
	}
	reply, err := p.client.Complete(ctx, ChatRequest{Model: p.cfg.Model, Messages: send, Temperature: p.cfg.Temperature})
	if err == nil || merged || !IsSystemRoleError(err) {
		return reply, err
	}
	if p.compat.Disable() {
		p.logger.Warn("provider rejected system role, merging prompts from now on",
			zap.String("model", p.cfg.Model),
			zap.Error(err),
		)
	}
	return p.client.Complete(ctx, ChatRequest{Model: p.cfg.Model, Messages: mergeSystem(messages), Temperature: p.cfg.Temperature})
}

func resolve(candidates []Candidate, id string) (Candidate, bool) {
	if id == "" {
		return Candidate{}, false
	}
	for _, c := range candidates {
		if c.ID == id {
			return c, true
		}
	}
	for _, c := range candidates {
		if strings.EqualFold(c.ID, id) {
			return c, true
		}
	}
	return Candidate{}, false
}
