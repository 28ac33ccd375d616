// Package expert defines the Specialist domain entity and its registry.
package expert

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Specialist is an external capability invoked with a query that returns
// free-text output. Specialists are registered once at startup and are
// immutable afterwards.
type Specialist struct {
	Name     string   `json:"name"`
	Provider string   `json:"provider"` // rate-limit key, e.g. "openai", "mcp"
	Tags     []string `json:"capability_tags"`

	// Embedding is the precomputed capability embedding used by the
	// embedding routing strategy. Populated at registration, either
	// supplied by the caller or computed from the joined tags.
	Embedding []float32 `json:"-"`
}

// TagText returns the text the capability embedding is computed from:
// the tags joined in a stable order.
func (s *Specialist) TagText() string {
	tags := make([]string, len(s.Tags))
	copy(tags, s.Tags)
	sort.Strings(tags)
	return strings.Join(tags, ", ")
}

// Registry holds all registered specialists. It is populated during startup
// from an explicit list and treated as read-only at request time; the lock
// only guards the registration phase.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Specialist
	order  []string
}

// NewRegistry creates an empty specialist registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Specialist)}
}

// Register adds or overwrites a specialist.
func (r *Registry) Register(s *Specialist) error {
	if s.Name == "" {
		return fmt.Errorf("specialist name is required")
	}
	if len(s.Tags) == 0 {
		return fmt.Errorf("specialist %s: at least one capability tag is required", s.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[s.Name]; !exists {
		r.order = append(r.order, s.Name)
	}
	r.byName[s.Name] = s
	return nil
}

// Get returns the specialist with the given name.
func (r *Registry) Get(name string) (*Specialist, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// All returns every registered specialist in registration order.
func (r *Registry) All() []*Specialist {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Specialist, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Len returns the number of registered specialists.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
