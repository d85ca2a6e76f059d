package agent

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an agent reference cannot be resolved.
var ErrNotFound = errors.New("agent not found")

// Constructor builds a fresh agent instance. Passing one to Resolve stands
// in for resolving a class identifier: the resolver instantiates it on every
// call.
type Constructor func() Agent

// Resolver turns an agent reference into a concrete Agent. A reference may
// be an already-resolved instance (returned unchanged), a registered key
// string, or a Constructor.
type Resolver struct {
	registry *Registry
}

// NewResolver creates a resolver over a registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve resolves ref into an Agent.
func (r *Resolver) Resolve(ref any) (Agent, error) {
	switch v := ref.(type) {
	case Agent:
		return v, nil
	case Constructor:
		return v(), nil
	case func() Agent:
		return v(), nil
	case string:
		if a, ok := r.registry.Get(v); ok {
			return a, nil
		}
		return nil, fmt.Errorf("agent %q: %w", v, ErrNotFound)
	case nil:
		return nil, fmt.Errorf("nil agent reference: %w", ErrNotFound)
	default:
		return nil, fmt.Errorf("cannot resolve agent from %T: %w", ref, ErrNotFound)
	}
}
