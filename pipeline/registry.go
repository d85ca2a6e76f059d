package pipeline

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Registry owns pipeline definitions, their runtime active state, and the
// handlers attached to each name. It is shared between concurrent executions:
// registration and activation typically happen at startup, reads happen on
// every run.
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]Definition
	order    []string
	active   map[string]bool
	handlers map[string][]Registration
	logger   zerolog.Logger
}

// NewRegistry creates an empty pipeline registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		defs:     make(map[string]Definition),
		active:   make(map[string]bool),
		handlers: make(map[string][]Registration),
		logger:   logger.With().Str("component", "pipelineRegistry").Logger(),
	}
}

// Define registers a pipeline name. Defining an already-known name is a
// no-op: the first definition wins and the current runtime active state is
// preserved, so tests and boot code can define freely without resetting
// state someone already customized.
func (r *Registry) Define(name, description string, defaultActive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[name]; exists {
		return
	}

	r.defs[name] = Definition{
		Name:          name,
		Description:   description,
		DefaultActive: defaultActive,
	}
	r.order = append(r.order, name)

	// SetActive may have run before the definition; that state wins.
	if _, exists := r.active[name]; !exists {
		r.active[name] = defaultActive
	}
	r.logger.Debug().Str("pipeline", name).Bool("defaultActive", defaultActive).Msg("Pipeline defined")
}

// Definitions returns every known pipeline definition in insertion order.
// Boot-time code relies on this ordering to iterate pipelines
// deterministically.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.defs[name])
	}
	return defs
}

// Defined reports whether a pipeline name has been defined.
func (r *Registry) Defined(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[name]
	return ok
}

// Active returns the current runtime state for a pipeline. Undefined names
// report false rather than failing: hooks run conditionally and an optional
// extension point must not crash the caller.
func (r *Registry) Active(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[name]
}

// SetActive sets the runtime state for a pipeline. Undefined names are
// tolerated; the state is kept and honored if the pipeline is defined later.
func (r *Registry) SetActive(name string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[name] = active
	r.logger.Debug().Str("pipeline", name).Bool("active", active).Msg("Pipeline state changed")
}

// DisableAll forces every defined pipeline inactive. Used by the boot-time
// global kill-switch; SetActive calls made afterwards win.
func (r *Registry) DisableAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.order {
		r.active[name] = false
	}
	r.logger.Info().Int("pipelines", len(r.order)).Msg("All pipelines disabled")
}

// Register appends a handler to a pipeline. Multiple handlers per name are
// allowed; registration order is the tiebreaker for equal priorities.
func (r *Registry) Register(name string, handler Handler, priority int, predicate Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = append(r.handlers[name], Registration{
		Handler:   handler,
		Priority:  priority,
		Predicate: predicate,
	})
	r.logger.Debug().Str("pipeline", name).Int("priority", priority).Msg("Handler registered")
}

// RegisterWhen registers a handler gated by a predicate.
func (r *Registry) RegisterWhen(name string, handler Handler, predicate Predicate, priority int) {
	r.Register(name, handler, priority, predicate)
}

// HandlersFor returns the handlers for a pipeline sorted by priority
// descending, registration order for ties. The order is recomputed on every
// call; nothing is cached.
func (r *Registry) HandlersFor(name string) []Registration {
	r.mu.RLock()
	regs := make([]Registration, len(r.handlers[name]))
	copy(regs, r.handlers[name])
	r.mu.RUnlock()

	sortRegistrations(regs)
	return regs
}

// mergedHandlersFor returns the global handlers for a pipeline merged with
// per-request registrations. Extra registrations are appended after the
// global ones, so at equal priority they run last; a distinct priority still
// decides on its own. The global registry is never mutated.
func (r *Registry) mergedHandlersFor(name string, extra []Registration) []Registration {
	r.mu.RLock()
	regs := make([]Registration, 0, len(r.handlers[name])+len(extra))
	regs = append(regs, r.handlers[name]...)
	r.mu.RUnlock()

	regs = append(regs, extra...)
	sortRegistrations(regs)
	return regs
}

// sortRegistrations sorts by priority descending. The sort is stable, so the
// slice's existing registration order breaks ties.
func sortRegistrations(regs []Registration) {
	sort.SliceStable(regs, func(i, j int) bool {
		return regs[i].Priority > regs[j].Priority
	})
}
