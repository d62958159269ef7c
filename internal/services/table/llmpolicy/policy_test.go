package llmpolicy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisbranch/cardtable/internal/services/table/domain/rules"
	"github.com/louisbranch/cardtable/internal/services/table/domain/visibility"
)

type scriptedReply struct {
	reply string
	err   error
}

type fakeChat struct {
	mu       sync.Mutex
	replies  []scriptedReply
	requests []ChatRequest
}

func (f *fakeChat) Complete(_ context.Context, req ChatRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	next := f.replies[0]
	f.replies = f.replies[1:]
	return next.reply, next.err
}

func candidates() []Candidate {
	return []Candidate{
		{ID: "act:draw", Summary: "Draw a card", Intent: rules.Intent{Type: rules.IntentAction, Action: "draw"}},
		{ID: "act:pass", Summary: "Pass", Intent: rules.Intent{Type: rules.IntentAction, Action: "pass"}},
	}
}

func request() Request {
	return Request{
		GameID:     "g1",
		PlayerID:   "bot",
		View:       visibility.View{GameID: "g1", Viewer: "bot"},
		Context:    rules.AIContext{Recap: "Crazy eights.", Facts: []string{"You hold 3 cards."}},
		Candidates: candidates(),
	}
}

func TestChooseFirstAnswer(t *testing.T) {
	chat := &fakeChat{replies: []scriptedReply{{reply: `<answer>{"id":"act:pass"}</answer>`}}}
	p := New(chat, Config{Model: "gpt-4o-mini"})

	d, err := p.Choose(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "act:pass", d.Candidate.ID)
	assert.Equal(t, 1, d.Attempts)
	assert.False(t, d.Fallback)

	require.Len(t, chat.requests, 1)
	msgs := chat.requests[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, `"bot"`)
	assert.Contains(t, msgs[1].Content, "- act:draw: Draw a card")
	assert.Contains(t, msgs[1].Content, "Recap: Crazy eights.")
	assert.Contains(t, msgs[1].Content, "- You hold 3 cards.")
	assert.Equal(t, "gpt-4o-mini", chat.requests[0].Model)
}

func TestChooseRepairsUnknownID(t *testing.T) {
	chat := &fakeChat{replies: []scriptedReply{
		{reply: `{"id":"act:fold"}`},
		{reply: `{"id":"ACT:DRAW"}`},
	}}
	p := New(chat, Config{Model: "m"})

	d, err := p.Choose(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "act:draw", d.Candidate.ID)
	assert.Equal(t, 2, d.Attempts)
	assert.False(t, d.Fallback)

	require.Len(t, chat.requests, 2)
	repair := chat.requests[1].Messages
	require.Len(t, repair, 4)
	assert.Equal(t, RoleAssistant, repair[2].Role)
	assert.Equal(t, `{"id":"act:fold"}`, repair[2].Content)
	assert.Contains(t, repair[3].Content, `"act:fold"`)
	assert.Contains(t, repair[3].Content, "act:draw, act:pass")
}

func TestChooseFallsBackToFirstCandidate(t *testing.T) {
	tests := []struct {
		name   string
		second scriptedReply
	}{
		{name: "still unknown", second: scriptedReply{reply: "no idea"}},
		{name: "repair fails", second: scriptedReply{err: errors.New("connection reset")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{replies: []scriptedReply{{reply: "hmm"}, tt.second}}
			d, err := New(chat, Config{Model: "m"}).Choose(context.Background(), request())
			require.NoError(t, err)
			assert.Equal(t, "act:draw", d.Candidate.ID)
			assert.True(t, d.Fallback)
			assert.Equal(t, 2, d.Attempts)
		})
	}
}

func TestChooseReturnsFirstCallError(t *testing.T) {
	chat := &fakeChat{replies: []scriptedReply{{err: errors.New("timeout")}}}
	_, err := New(chat, Config{Model: "m"}).Choose(context.Background(), request())
	assert.ErrorIs(t, err, ErrPolicy)

	_, err = New(chat, Config{Model: "m"}).Choose(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestChooseSwitchesToMergedPromptsOnSystemRoleError(t *testing.T) {
	compat := &SystemRoleCompat{}
	chat := &fakeChat{replies: []scriptedReply{
		{err: errors.New("system role not supported")},
		{reply: `{"id":"act:draw"}`},
		{reply: `{"id":"act:pass"}`},
	}}
	p := New(chat, Config{Model: "m"}, WithCompat(compat))

	d, err := p.Choose(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "act:draw", d.Candidate.ID)
	assert.True(t, compat.Disabled())

	require.Len(t, chat.requests, 2)
	assert.Len(t, chat.requests[0].Messages, 2)
	retried := chat.requests[1].Messages
	require.Len(t, retried, 1)
	assert.Equal(t, RoleUser, retried[0].Role)
	assert.Contains(t, retried[0].Content, "automated player")

	_, err = p.Choose(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, chat.requests, 3)
	assert.Len(t, chat.requests[2].Messages, 1)
}

func TestKnownModelStartsMerged(t *testing.T) {
	chat := &fakeChat{replies: []scriptedReply{{reply: `{"id":"act:draw"}`}}}
	p := New(chat, Config{Model: "gemma-7b"})
	assert.True(t, p.Compat().Disabled())

	_, err := p.Choose(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, chat.requests, 1)
	assert.Len(t, chat.requests[0].Messages, 1)
}
