package tools

import (
	"regexp"
	"sort"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/atlas-go/atlas/llm"
)

// SpecBuilder resolves tool name patterns against a registry and adapts the
// matched tools into the shape the provider gateway expects.
type SpecBuilder struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewSpecBuilder creates a builder over a registry.
func NewSpecBuilder(registry *Registry, logger zerolog.Logger) *SpecBuilder {
	return &SpecBuilder{
		registry: registry,
		logger:   logger.With().Str("component", "toolSpecBuilder").Logger(),
	}
}

// Resolve expands tool name patterns into the matching registered tools.
// Exact names match first; anything else is treated as an anchored regular
// expression over registered names. Patterns that match nothing are logged
// and skipped, not failed: agents may reference tools that are registered
// conditionally.
func (b *SpecBuilder) Resolve(patterns []string) []Tool {
	seen := make(map[string]bool)
	var matched []Tool

	for _, pattern := range patterns {
		if pattern == "" {
			b.logger.Warn().Msg("Empty tool pattern, skipping")
			continue
		}

		if t, ok := b.registry.Get(pattern); ok {
			if !seen[pattern] {
				seen[pattern] = true
				matched = append(matched, t)
			}
			continue
		}

		names := b.expandPattern(pattern)
		if len(names) == 0 {
			b.logger.Warn().Str("pattern", pattern).Msg("Tool pattern matched no tools")
			continue
		}
		for _, name := range names {
			if seen[name] {
				continue
			}
			if t, ok := b.registry.Get(name); ok {
				seen[name] = true
				matched = append(matched, t)
			}
		}
	}

	return matched
}

// Specs adapts tools into provider tool specs.
func (b *SpecBuilder) Specs(matched []Tool) []llm.ToolSpec {
	return lo.Map(matched, func(t Tool, _ int) llm.ToolSpec {
		return llm.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		}
	})
}

// SpecsFor resolves patterns and adapts the result in one step.
func (b *SpecBuilder) SpecsFor(patterns []string) []llm.ToolSpec {
	return b.Specs(b.Resolve(patterns))
}

func (b *SpecBuilder) expandPattern(pattern string) []string {
	re, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		b.logger.Warn().Str("pattern", pattern).Err(err).Msg("Invalid tool pattern")
		return nil
	}

	names := lo.Filter(b.registry.Names(), func(name string, _ int) bool {
		return re.MatchString(name)
	})
	// Registry iteration order is random; sort so merged tool lists are
	// deterministic run to run.
	sort.Strings(names)
	return names
}
