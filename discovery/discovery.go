// Package discovery registers agents and tools from explicit registration
// lists. There is no filesystem or reflection scanning; a Source simply
// enumerates what it provides and Apply installs everything into the
// registries.
package discovery

import (
	"github.com/rs/zerolog"

	"github.com/atlas-go/atlas/agent"
	"github.com/atlas-go/atlas/tools"
)

// Source enumerates agents and tools to register. Either list may be empty.
type Source interface {
	Agents() []agent.Agent
	Tools() []tools.Tool
}

// List is a literal Source built from slices.
type List struct {
	AgentList []agent.Agent
	ToolList  []tools.Tool
}

// Agents implements Source.
func (l List) Agents() []agent.Agent { return l.AgentList }

// Tools implements Source.
func (l List) Tools() []tools.Tool { return l.ToolList }

// Apply registers everything each source provides. Later sources overwrite
// earlier ones on key collisions, matching the registries' last-write-wins
// policy.
func Apply(logger zerolog.Logger, agents *agent.Registry, toolReg *tools.Registry, sources ...Source) {
	log := logger.With().Str("component", "discovery").Logger()
	for _, source := range sources {
		for _, a := range source.Agents() {
			agents.Register(a)
		}
		for _, t := range source.Tools() {
			toolReg.Register(t)
		}
		log.Debug().
			Int("agents", len(source.Agents())).
			Int("tools", len(source.Tools())).
			Msg("Applied registration source")
	}
}
