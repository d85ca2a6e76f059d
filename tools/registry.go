package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Registry maps tool names to Tool implementations. Keys come from each
// tool's own Name(); registering a second tool under an existing name
// overwrites the first. Re-registration happens routinely in tests and
// hot-reload, so last-write-wins is deliberate.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger.With().Str("component", "toolRegistry").Logger(),
	}
}

// Register adds a tool under its declared name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Debug().Str("name", t.Name()).Msg("Registering tool")
	r.tools[t.Name()] = t
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Clear removes all registered tools.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = make(map[string]Tool)
}

// Names returns the registered tool names, unordered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Execute dispatches a tool call. Handler errors are returned to the caller;
// converting them into error-result messages for the model is the
// orchestration layer's policy, not the registry's.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage, tc *Context) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		r.logger.Error().Str("tool", name).Msg("Unknown tool requested")
		return nil, fmt.Errorf("unknown tool: %s", name)
	}

	r.logger.Info().Str("tool", name).Str("agentKey", tc.AgentKey).Msg("Executing tool")
	if r.logger.GetLevel() <= zerolog.DebugLevel {
		if pretty, err := prettyJSON(args); err == nil {
			r.logger.Debug().Str("tool", name).Str("args", pretty).Msg("Tool called with arguments")
		}
	}

	result, err := t.Handle(ctx, args, tc)
	if err != nil {
		r.logger.Warn().Str("tool", name).Str("agentKey", tc.AgentKey).Err(err).Msg("Tool returned error")
		return nil, err
	}

	preview := result.Text
	if len(preview) > 500 {
		preview = preview[:500] + "... (truncated)"
	}
	r.logger.Info().Str("tool", name).Str("agentKey", tc.AgentKey).Bool("isError", result.IsError).Str("result", preview).Msg("Tool returned result")
	return result, nil
}

func prettyJSON(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
