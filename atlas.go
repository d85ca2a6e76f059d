// Package atlas wires the orchestration stack together: pipeline registry
// and runner, agent and tool registries, provider resolution, MCP bridging,
// and the executor. Callers construct one Atlas per process and start turns
// through the fluent request builder.
package atlas

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/atlas-go/atlas/agent"
	"github.com/atlas-go/atlas/config"
	"github.com/atlas-go/atlas/llm"
	"github.com/atlas-go/atlas/llm/anthropic"
	"github.com/atlas-go/atlas/llm/ollama"
	"github.com/atlas-go/atlas/llm/openai"
	"github.com/atlas-go/atlas/mcp"
	"github.com/atlas-go/atlas/pipeline"
	"github.com/atlas-go/atlas/tools"
)

// Atlas is the top-level orchestrator. All fields are wired once in New and
// safe for concurrent use afterwards.
type Atlas struct {
	cfg    *config.Config
	logger zerolog.Logger

	pipelines *pipeline.Registry
	runner    *pipeline.Runner
	agents    *agent.Registry
	resolver  *agent.Resolver
	tools     *tools.Registry
	providers *llm.ProviderRegistry
	mcp       *mcp.Manager
	executor  *agent.Executor

	clientsMu sync.Mutex
	clients   map[llm.ClientKey]llm.Client
}

// Option customizes Atlas construction.
type Option func(*options)

type options struct {
	logger *zerolog.Logger
}

// WithLogger overrides the default logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// New builds an Atlas from configuration: hooks are defined, the pipeline
// kill-switch and per-pipeline disables are applied, configured agents are
// registered, and the provider registry is seeded. MCP servers are not
// contacted here; call ConnectMCP when their tools are needed.
func New(cfg *config.Config, opts ...Option) (*Atlas, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := zerolog.Nop()
	if o.logger != nil {
		log = *o.logger
	}

	pipelines := pipeline.NewRegistry(log)
	runner := pipeline.NewRunner(pipelines, log)
	agents := agent.NewRegistry(log)
	resolver := agent.NewResolver(agents)
	toolReg := tools.NewRegistry(log)

	providers := llm.NewProviderRegistry(&llm.ProviderConfig{
		AnthropicAPIKey: cfg.Anthropic.APIKey,
		AnthropicModel:  cfg.Anthropic.Model,
		OllamaHost:      cfg.Ollama.Host,
		OllamaModel:     cfg.Ollama.Model,
		OpenAIAPIKey:    cfg.OpenAI.APIKey,
		OpenAIBaseURL:   cfg.OpenAI.BaseURL,
		OpenAIModel:     cfg.OpenAI.Model,
		OpenAIOrg:       cfg.OpenAI.Organization,
	}, cfg.Providers)

	a := &Atlas{
		cfg:       cfg,
		logger:    log,
		pipelines: pipelines,
		runner:    runner,
		agents:    agents,
		resolver:  resolver,
		tools:     toolReg,
		providers: providers,
		mcp:       mcp.NewManager(log, toolReg),
		clients:   make(map[llm.ClientKey]llm.Client),
	}

	executor, err := agent.NewExecutor(
		log, resolver, pipelines, runner, toolReg, providers, a, retryPolicy(cfg.Retry),
	)
	if err != nil {
		return nil, err
	}
	a.executor = executor

	// NewExecutor defined the hooks; the config switches apply on top.
	if !cfg.Pipelines.IsEnabled() {
		pipelines.DisableAll()
	}
	for _, name := range cfg.Pipelines.Disabled {
		pipelines.SetActive(name, false)
	}

	for _, agentCfg := range cfg.Agents {
		agents.Register(agent.FromConfig(agentCfg))
	}

	return a, nil
}

// ConnectMCP connects every configured MCP server and registers their tools.
// Unreachable servers are skipped with a warning.
func (a *Atlas) ConnectMCP(ctx context.Context) {
	servers := make([]config.MCPServerConfig, 0, len(a.cfg.MCPServers))
	for _, server := range a.cfg.MCPServers {
		servers = append(servers, *server)
	}
	a.mcp.ConnectAll(ctx, servers)
}

// Close releases held resources, currently the MCP connections.
func (a *Atlas) Close() error {
	return a.mcp.Close()
}

// Pipelines exposes the pipeline registry for handler registration.
func (a *Atlas) Pipelines() *pipeline.Registry { return a.pipelines }

// Runner exposes the pipeline runner for callers driving custom pipelines.
func (a *Atlas) Runner() *pipeline.Runner { return a.runner }

// Agents exposes the agent registry.
func (a *Atlas) Agents() *agent.Registry { return a.agents }

// Tools exposes the tool registry.
func (a *Atlas) Tools() *tools.Registry { return a.tools }

// Providers exposes the provider registry.
func (a *Atlas) Providers() *llm.ProviderRegistry { return a.providers }

// Executor exposes the agent executor for callers that prefer it over the
// request builder.
func (a *Atlas) Executor() *agent.Executor { return a.executor }

// Agent starts a fluent request against an agent reference: an Agent
// instance, a registered key, or a constructor function.
func (a *Atlas) Agent(ref any) *PendingRequest {
	return &PendingRequest{atlas: a, ref: ref, execCtx: agent.NewContext()}
}

// ClientFor implements agent.ClientFactory with per-key caching. Clients are
// stateless HTTP wrappers; one per distinct key is plenty.
func (a *Atlas) ClientFor(key *llm.ClientKey) (llm.Client, error) {
	a.clientsMu.Lock()
	defer a.clientsMu.Unlock()

	if client, ok := a.clients[*key]; ok {
		return client, nil
	}

	var client llm.Client
	var err error
	switch key.Provider {
	case llm.ProviderAnthropic:
		client, err = anthropic.New(key.APIKey, a.logger)
	case llm.ProviderOpenAI:
		client, err = openai.New(key.APIKey, key.BaseURL, key.Model, key.Organization)
	case llm.ProviderOllama:
		client, err = ollama.New(key.Host, key.Model)
	default:
		err = fmt.Errorf("unknown provider: %s", key.Provider)
	}
	if err != nil {
		return nil, err
	}

	a.clients[*key] = client
	return client, nil
}

func retryPolicy(cfg config.RetryConfig) llm.RetryPolicy {
	policy := llm.DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		policy.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		policy.MaxInterval = cfg.MaxInterval
	}
	return policy
}
