package llmpolicy

import (
	"strings"
	"sync/atomic"
)

// SystemRoleCompat remembers that the configured model rejects system
// messages. Once disabled it stays disabled for the life of the process.
type SystemRoleCompat struct {
	disabled atomic.Bool
}

// Disabled reports whether system content must be merged into the user
// message.
func (c *SystemRoleCompat) Disabled() bool {
	return c.disabled.Load()
}

// Disable switches to merged mode. It reports whether this call flipped it.
func (c *SystemRoleCompat) Disable() bool {
	return c.disabled.CompareAndSwap(false, true)
}

// Reset re-enables the system role.
func (c *SystemRoleCompat) Reset() {
	c.disabled.Store(false)
}

var systemRoleModelSignatures = []string{"gemma", "o1-mini", "o1-preview"}

// ModelRejectsSystemRole reports whether model is known to refuse system
// messages.
func ModelRejectsSystemRole(model string) bool {
	model = strings.ToLower(model)
	for _, sig := range systemRoleModelSignatures {
		if strings.Contains(model, sig) {
			return true
		}
	}
	return false
}

var systemRoleRefusals = []string{
	"not supported",
	"unsupported",
	"not allowed",
	"does not support",
	"not enabled",
	"invalid",
}

// IsSystemRoleError reports whether err looks like a provider refusing the
// system role.
func IsSystemRoleError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "system") && !strings.Contains(msg, "developer instruction") {
		return false
	}
	for _, refusal := range systemRoleRefusals {
		if strings.Contains(msg, refusal) {
			return true
		}
	}
	return false
}

// mergeSystem folds system messages into the first user message.
func mergeSystem(messages []ChatMessage) []ChatMessage {
	var system []string
	out := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		out = append(out, m)
	}
	if len(system) == 0 {
		return out
	}
	prefix := strings.Join(system, "\n\n")
	for i, m := range out {
		if m.Role == RoleUser {
			out[i].Content = prefix + "\n\n" + m.Content
			return out
		}
	}
	return append([]ChatMessage{{Role: RoleUser, Content: prefix}}, out...)
}
