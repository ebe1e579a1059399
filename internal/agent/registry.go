package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps agent names to implementations. It is populated at startup
// and read concurrently afterwards.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewRegistry(agents ...Agent) (*Registry, error) {
	registry := &Registry{agents: make(map[string]Agent)}
	for _, agent := range agents {
		if err := registry.Register(agent); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *Registry) Register(agent Agent) error {
	if agent == nil {
		return fmt.Errorf("register agent: nil agent")
	}
	name := strings.TrimSpace(agent.Metadata().Name)
	if name == "" {
		return fmt.Errorf("register agent: empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.agents[name] = agent
	return nil
}

func (r *Registry) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[name]
	return agent, ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) AllMetadata() []Metadata {
	names := r.List()
	r.mu.RLock()
	defer r.mu.RUnlock()
	metadata := make([]Metadata, 0, len(names))
	for _, name := range names {
		if agent, ok := r.agents[name]; ok {
			metadata = append(metadata, agent.Metadata())
		}
	}
	return metadata
}
