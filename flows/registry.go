package flows

import (
	"fmt"
	"sort"
	"sync"
)

// Canonical flow names. These double as the final namespace segment of each
// flow's cache keys.
const (
	FlowClientToken = "client_token"
	FlowUserData    = "user_data"
	FlowAPIKey      = "api_key"
	FlowUserSession = "user_session"
)

// Flow is the common surface of every registered credential flow.
type Flow interface {
	CacheKey() string
}

// Factory builds a flow bound to one identity (a subject, a decrypted key
// identity, or a cookie value depending on the flow).
type Factory func(identity string) Flow

// Registry maps flow names to factories. Registration is validated up
// front; lookups of unknown names fail rather than returning nil.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("flows: flow name must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("flows: factory for %q must not be nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("flows: flow %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Build instantiates the named flow for an identity.
func (r *Registry) Build(name, identity string) (Flow, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("flows: unknown flow %q", name)
	}
	return factory(identity), nil
}

// Names lists registered flows in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
