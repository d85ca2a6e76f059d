package agent

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry is an in-memory keyed lookup of registered agents. Keys come from
// each agent's own Key(); registering a second agent under an existing key
// overwrites the first. Re-registration is routine in tests and hot-reload,
// so last-write-wins is deliberate.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	logger zerolog.Logger
}

// NewRegistry creates an empty agent registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]Agent),
		logger: logger.With().Str("component", "agentRegistry").Logger(),
	}
}

// Register adds an agent under its declared key.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Debug().Str("key", a.Key()).Msg("Registering agent")
	r.agents[a.Key()] = a
}

// Has reports whether an agent is registered under key.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[key]
	return ok
}

// Get returns the agent registered under key.
func (r *Registry) Get(key string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[key]
	return a, ok
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Clear removes all registered agents.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]Agent)
}

// Keys returns the registered agent keys, unordered.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.agents))
	for key := range r.agents {
		keys = append(keys, key)
	}
	return keys
}
