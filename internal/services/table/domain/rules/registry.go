package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrRulesIDRequired indicates a plugin without an id.
	ErrRulesIDRequired = errors.New("rules id is required")
	// ErrRulesAlreadyRegistered indicates a duplicate plugin id.
	ErrRulesAlreadyRegistered = errors.New("rules already registered")
	// ErrRulesNotFound indicates an unknown rules id.
	ErrRulesNotFound = errors.New("rules are not registered")
)

// Registry is the closed set of plugins available to the server.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates a registry holding plugins.
func NewRegistry(plugins ...Plugin) (*Registry, error) {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a plugin.
func (r *Registry) Register(p Plugin) error {
	if r == nil {
		return errors.New("registry is required")
	}
	if p == nil {
		return errors.New("plugin is required")
	}
	id := strings.TrimSpace(p.ID())
	if id == "" {
		return ErrRulesIDRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.plugins == nil {
		r.plugins = make(map[string]Plugin)
	}
	if _, exists := r.plugins[id]; exists {
		return fmt.Errorf("%w: %s", ErrRulesAlreadyRegistered, id)
	}
	r.plugins[id] = p
	return nil
}

// Get returns the plugin for id.
func (r *Registry) Get(id string) (Plugin, error) {
	if r == nil {
		return nil, ErrRulesNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRulesNotFound, id)
	}
	return p, nil
}

// IDs lists registered plugin ids in sorted order.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
