package agent

import (
	"fmt"
	"sync"
)

// Registry maps agent IDs to implementations. Graphs reference agents by ID.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates a registry pre-populated with the built-in agents.
func NewRegistry() *Registry {
	r := &Registry{agents: make(map[string]Agent)}
	r.Register(NewMicroRouter())
	r.Register(NewClaimExtractor())
	r.Register(NewSynthesizer())
	r.Register(NewQAValidator())
	return r
}

// Register adds or replaces an agent by its ID.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID()] = a
}

// Get returns the agent registered under id.
func (r *Registry) Get(id string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent: unknown agent %q", id)
	}
	return a, nil
}

// IDs returns the registered agent IDs (unordered).
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for id := range r.agents {
		out = append(out, id)
	}
	return out
}
