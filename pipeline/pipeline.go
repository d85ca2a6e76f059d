package pipeline

import (
	"context"
)

// Bag is the mutable payload threaded through a pipeline invocation. Every
// handler receives the same bag and may read and write it before calling
// next. A bag is constructed fresh per run and is the sole side-channel
// between handlers and the caller.
type Bag map[string]any

// String returns the string stored under key, or "" if absent or not a
// string.
func (b Bag) String(key string) string {
	s, _ := b[key].(string)
	return s
}

// Bool returns the bool stored under key, or false if absent or not a bool.
func (b Bag) Bool(key string) bool {
	v, _ := b[key].(bool)
	return v
}

// Next is the continuation a handler invokes to pass control to the next
// eligible handler in the chain, or to the destination at the end of it.
type Next func(ctx context.Context, bag Bag) error

// Handler is a unit of middleware logic. A handler may run logic before
// calling next, inspect or mutate the bag after next returns, or decline to
// call next at all to short-circuit the chain.
type Handler interface {
	Handle(ctx context.Context, bag Bag, next Next) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, bag Bag, next Next) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, bag Bag, next Next) error {
	return f(ctx, bag, next)
}

// Predicate gates whether a handler participates in a given run. It is
// evaluated against the current bag each time the chain reaches the handler.
// A predicate error fails the whole run; it is never a silent skip.
type Predicate func(bag Bag) (bool, error)

// Destination is the callable a pipeline terminates in. A nil destination is
// treated as the identity.
type Destination func(ctx context.Context, bag Bag) error

// Definition describes a named pipeline.
type Definition struct {
	Name          string
	Description   string
	DefaultActive bool
}

// Registration is a handler attached to a pipeline. Handlers run sorted by
// Priority descending; handlers with equal priority run in registration
// order.
type Registration struct {
	Handler   Handler
	Priority  int
	Predicate Predicate
}
