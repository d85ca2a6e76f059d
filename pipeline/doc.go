// Package pipeline implements Atlas's named middleware pipelines.
//
// A pipeline is a named, priority-ordered chain of handlers wrapped around a
// destination callable. The orchestration layer exposes its extension points
// (hooks) as pipelines: callers register handlers against a hook name and the
// runner composes them onion-style around the operation the hook guards.
//
// The Registry owns pipeline definitions, runtime active state, and handler
// registrations; the Runner executes a chain against a mutable data bag.
package pipeline
