package agent

import (
	"github.com/atlas-go/atlas/config"
	"github.com/atlas-go/atlas/llm"
)

// Agent is a named configuration of system prompt template, provider/model
// preferences, and tool set. Implementations declare their own identity via
// Key; the registry keys on it, never on the concrete type.
type Agent interface {
	// Key returns the agent's unique identifier.
	Key() string

	// Name returns the agent's human-readable name.
	Name() string

	// SystemPrompt returns the system prompt template. Placeholders of the
	// form {variable} are interpolated from the execution context.
	SystemPrompt() string

	// Tools returns the tool name patterns this agent may call.
	Tools() []string

	// MCPServers returns the MCP server names whose tools this agent may
	// call.
	MCPServers() []string

	// Preferences returns the ordered provider/model preference list.
	Preferences() []llm.Preference

	// MaxTokens returns the output token budget for provider calls.
	MaxTokens() int64
}

// Definition is the config-backed Agent implementation.
type Definition struct {
	cfg *config.AgentConfig
}

// FromConfig wraps an agent configuration as an Agent.
func FromConfig(cfg *config.AgentConfig) *Definition {
	return &Definition{cfg: cfg}
}

// Key implements Agent.
func (d *Definition) Key() string { return d.cfg.Key }

// Name implements Agent.
func (d *Definition) Name() string { return d.cfg.Name }

// SystemPrompt implements Agent.
func (d *Definition) SystemPrompt() string { return d.cfg.SystemPrompt }

// Tools implements Agent.
func (d *Definition) Tools() []string { return d.cfg.Tools }

// MCPServers implements Agent.
func (d *Definition) MCPServers() []string { return d.cfg.MCPServers }

// Preferences implements Agent.
func (d *Definition) Preferences() []llm.Preference {
	prefs := make([]llm.Preference, 0, len(d.cfg.LLM))
	for _, p := range d.cfg.LLM {
		prefs = append(prefs, llm.Preference{
			Provider:    p.Provider,
			Model:       p.Model,
			Temperature: p.Temperature,
		})
	}
	return prefs
}

// MaxTokens implements Agent.
func (d *Definition) MaxTokens() int64 { return d.cfg.MaxTokens }
