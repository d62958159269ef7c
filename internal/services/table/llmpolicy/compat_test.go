package llmpolicy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystemRoleCompat(t *testing.T) {
	var c SystemRoleCompat
	assert.False(t, c.Disabled())
	assert.True(t, c.Disable())
	assert.False(t, c.Disable())
	assert.True(t, c.Disabled())
	c.Reset()
	assert.False(t, c.Disabled())
}

func TestModelRejectsSystemRole(t *testing.T) {
	assert.True(t, ModelRejectsSystemRole("google/gemma-2-9b-it"))
	assert.True(t, ModelRejectsSystemRole("o1-mini"))
	assert.True(t, ModelRejectsSystemRole("O1-Preview-2024"))
	assert.False(t, ModelRejectsSystemRole("gpt-4o-mini"))
}

func TestIsSystemRoleError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: errors.New(`400 Bad Request {"message":"System role not supported"}`), want: true},
		{err: errors.New("developer instruction is not enabled for this model"), want: true},
		{err: errors.New("unsupported value: 'messages[0].role' does not support 'system'"), want: true},
		{err: errors.New("rate limit exceeded"), want: false},
		{err: errors.New("system overloaded"), want: false},
		{err: nil, want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsSystemRoleError(tt.err), "%v", tt.err)
	}
}

func TestMergeSystem(t *testing.T) {
	in := []ChatMessage{
		{Role: RoleSystem, Content: "rules"},
		{Role: RoleUser, Content: "state"},
		{Role: RoleAssistant, Content: "x"},
		{Role: RoleUser, Content: "again"},
	}
	out := mergeSystem(in)
	assert.Equal(t, []ChatMessage{
		{Role: RoleUser, Content: "rules\n\nstate"},
		{Role: RoleAssistant, Content: "x"},
		{Role: RoleUser, Content: "again"},
	}, out)
	assert.Equal(t, "state", in[1].Content)

	assert.Equal(t, []ChatMessage{{Role: RoleUser, Content: "only"}}, mergeSystem([]ChatMessage{{Role: RoleSystem, Content: "only"}}))
}
