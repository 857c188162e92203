package policy

import (
	"fmt"
	"sort"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
)

// Registry holds the classification strategies available to the agent.
// The configured mode picks one of them by name.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// NewRegistryWithStrategies creates a registry with the given strategies.
func NewRegistryWithStrategies(strategies ...Strategy) *Registry {
	r := NewRegistry()
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register adds a strategy to the registry, replacing one with the same name.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get returns a strategy by name.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns all strategy names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build selects the named strategy and builds its classifier for the session.
func (r *Registry) Build(name string, session domain.Session) (domain.Classifier, error) {
	s, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("classifier strategy not found: %s", name)
	}
	c, err := s.Build(session)
	if err != nil {
		return nil, fmt.Errorf("build %s classifier: %w", name, err)
	}
	return c, nil
}
