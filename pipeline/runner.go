package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Runner executes a named pipeline's handler chain against a data bag,
// terminating in a caller-supplied destination. It is a pure composition
// primitive: no catching, logging of handler errors, or retries happen here.
// Errors from handlers, predicates, and the destination propagate to the
// caller unmodified.
type Runner struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewRunner creates a runner bound to a registry.
func NewRunner(registry *Registry, logger zerolog.Logger) *Runner {
	return &Runner{
		registry: registry,
		logger:   logger.With().Str("component", "pipelineRunner").Logger(),
	}
}

// Run executes the full handler chain for a pipeline regardless of its
// active state, terminating in dest. A nil dest is the identity.
func (r *Runner) Run(ctx context.Context, name string, bag Bag, dest Destination) error {
	return r.exec(ctx, name, bag, r.registry.HandlersFor(name), dest)
}

// RunWith is Run with per-request registrations merged after the global
// ones for the duration of this execution only.
func (r *Runner) RunWith(ctx context.Context, name string, bag Bag, extra []Registration, dest Destination) error {
	return r.exec(ctx, name, bag, r.registry.mergedHandlersFor(name, extra), dest)
}

// RunIfActive executes the handler chain only when the pipeline is active.
// The destination runs either way: a disabled pipeline bypasses middleware,
// never business logic.
func (r *Runner) RunIfActive(ctx context.Context, name string, bag Bag, dest Destination) error {
	if !r.registry.Active(name) {
		return callDestination(ctx, bag, dest)
	}
	return r.Run(ctx, name, bag, dest)
}

// RunIfActiveWith is RunIfActive with per-request registrations.
func (r *Runner) RunIfActiveWith(ctx context.Context, name string, bag Bag, extra []Registration, dest Destination) error {
	if !r.registry.Active(name) {
		return callDestination(ctx, bag, dest)
	}
	return r.RunWith(ctx, name, bag, extra, dest)
}

func (r *Runner) exec(ctx context.Context, name string, bag Bag, regs []Registration, dest Destination) error {
	if bag == nil {
		bag = Bag{}
	}
	r.logger.Trace().Str("pipeline", name).Int("handlers", len(regs)).Msg("Running pipeline")
	return chain(name, regs, dest)(ctx, bag)
}

// chain composes the registrations into a single continuation. Predicates
// are evaluated against the bag at the moment the chain reaches the handler,
// so a handler earlier in the chain can influence whether a later one runs.
func chain(name string, regs []Registration, dest Destination) Next {
	next := func(ctx context.Context, bag Bag) error {
		return callDestination(ctx, bag, dest)
	}
	for i := len(regs) - 1; i >= 0; i-- {
		reg := regs[i]
		inner := next
		next = func(ctx context.Context, bag Bag) error {
			if reg.Predicate != nil {
				ok, err := reg.Predicate(bag)
				if err != nil {
					return fmt.Errorf("pipeline %q: predicate failed: %w", name, err)
				}
				if !ok {
					return inner(ctx, bag)
				}
			}
			return reg.Handler.Handle(ctx, bag, inner)
		}
	}
	return next
}

func callDestination(ctx context.Context, bag Bag, dest Destination) error {
	if dest == nil {
		return nil
	}
	if bag == nil {
		bag = Bag{}
	}
	return dest(ctx, bag)
}
