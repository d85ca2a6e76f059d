package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/atlas-go/atlas/llm"
	"github.com/atlas-go/atlas/pipeline"
	"github.com/atlas-go/atlas/tools"
)

// ClientFactory builds (and may cache) provider clients for resolved client
// keys. The executor treats the returned client as an opaque gateway.
type ClientFactory interface {
	ClientFor(key *llm.ClientKey) (llm.Client, error)
}

// StreamCallback is invoked for each text delta of a streaming execution.
// Returning an error cancels the stream.
type StreamCallback func(text string) error

// Executor orchestrates one chat/tool-use turn for a resolved agent: it
// builds the system prompt and tool set through hooks, invokes the provider,
// runs the tool-use loop, and routes failures through the error pipeline.
type Executor struct {
	resolver     *Resolver
	pipelines    *pipeline.Registry
	runner       *pipeline.Runner
	toolRegistry *tools.Registry
	specs        *tools.SpecBuilder
	providers    *llm.ProviderRegistry
	clients      ClientFactory
	retry        llm.RetryPolicy
	logger       zerolog.Logger
}

// NewExecutor creates an executor with all required collaborators.
func NewExecutor(
	logger zerolog.Logger,
	resolver *Resolver,
	pipelines *pipeline.Registry,
	runner *pipeline.Runner,
	toolRegistry *tools.Registry,
	providers *llm.ProviderRegistry,
	clients ClientFactory,
	retry llm.RetryPolicy,
) (*Executor, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required for Executor")
	}
	if pipelines == nil || runner == nil {
		return nil, fmt.Errorf("pipeline registry and runner are required for Executor")
	}
	if toolRegistry == nil {
		return nil, fmt.Errorf("tool registry is required for Executor")
	}
	if providers == nil {
		return nil, fmt.Errorf("provider registry is required for Executor")
	}
	if clients == nil {
		return nil, fmt.Errorf("client factory is required for Executor")
	}

	DefineHooks(pipelines)

	return &Executor{
		resolver:     resolver,
		pipelines:    pipelines,
		runner:       runner,
		toolRegistry: toolRegistry,
		specs:        tools.NewSpecBuilder(toolRegistry, logger),
		providers:    providers,
		clients:      clients,
		retry:        retry,
		logger:       logger.With().Str("component", "agentExecutor").Logger(),
	}, nil
}

// Execute runs one turn for an agent reference (instance, registered key, or
// constructor) and returns the final response.
func (e *Executor) Execute(ctx context.Context, ref any, input string, execCtx Context) (*llm.Response, error) {
	return e.execute(ctx, ref, input, execCtx, nil, nil)
}

// ExecuteStructured runs one turn requesting structured output per schema.
func (e *Executor) ExecuteStructured(ctx context.Context, ref any, input string, execCtx Context, schema *llm.Schema) (*llm.Response, error) {
	return e.execute(ctx, ref, input, execCtx, schema, nil)
}

// Stream runs one turn, invoking cb for each text delta. The returned
// response carries the assembled content.
func (e *Executor) Stream(ctx context.Context, ref any, input string, execCtx Context, cb StreamCallback) (*llm.Response, error) {
	return e.execute(ctx, ref, input, execCtx, nil, cb)
}

func (e *Executor) execute(ctx context.Context, ref any, input string, execCtx Context, schema *llm.Schema, cb StreamCallback) (*llm.Response, error) {
	ag, err := e.resolver.Resolve(ref)
	if err != nil {
		return nil, err
	}

	log := e.logger.With().Str("agentKey", ag.Key()).Logger()
	log.Info().Msg("Executing agent")

	// Validation and before-execute run outside the recoverable section: a
	// failure here aborts the execution without consulting the error
	// pipeline.
	bag := e.baseBag(ag, input, execCtx)
	if err := e.hook(ctx, HookContextValidate, bag, execCtx); err != nil {
		return nil, &ExecutionError{AgentKey: ag.Key(), Err: err}
	}
	if err := e.hook(ctx, HookBeforeExecute, bag, execCtx); err != nil {
		return nil, &ExecutionError{AgentKey: ag.Key(), Err: err}
	}
	if c, ok := bag[BagContext].(Context); ok {
		execCtx = c
	}
	if s, ok := bag[BagInput].(string); ok {
		input = s
	}

	resp, err := e.attempt(ctx, ag, input, execCtx, schema, cb)
	if err != nil {
		return e.recover(ctx, ag, input, execCtx, err)
	}

	log.Info().Msg("Agent execution completed")
	return resp, nil
}

// attempt covers the recoverable section of the state machine: prompt
// building, tool merging, the provider call with its tool-use loop, and the
// after-execute hook. Any error returned here is routed through the error
// pipeline by the caller.
func (e *Executor) attempt(ctx context.Context, ag Agent, input string, execCtx Context, schema *llm.Schema, cb StreamCallback) (*llm.Response, error) {
	prompt, err := e.buildSystemPrompt(ctx, ag, input, execCtx)
	if err != nil {
		return nil, err
	}

	specs, err := e.mergeTools(ctx, ag, input, execCtx)
	if err != nil {
		return nil, err
	}

	client, key, temperature, err := e.clientFor(ag, execCtx)
	if err != nil {
		return nil, err
	}

	maxTokens := execCtx.MaxTokens()
	if maxTokens == 0 {
		maxTokens = ag.MaxTokens()
	}

	messages := execCtx.Messages()
	messages = append(messages, userMessage(input, execCtx.Attachments()))

	req := &llm.Request{
		Model:       key.Model,
		Messages:    messages,
		System:      prompt,
		Tools:       specs,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Schema:      schema,
	}

	resp, err := e.runToolLoop(ctx, client, req, ag, execCtx, cb)
	if err != nil {
		return nil, err
	}

	bag := e.baseBag(ag, input, execCtx)
	bag[BagResponse] = resp
	if err := e.hook(ctx, HookAfterExecute, bag, execCtx); err != nil {
		return nil, err
	}
	if r, ok := bag[BagResponse].(*llm.Response); ok && r != nil {
		resp = r
	}

	return resp, nil
}

// buildSystemPrompt renders the agent's template through the prompt hooks.
func (e *Executor) buildSystemPrompt(ctx context.Context, ag Agent, input string, execCtx Context) (string, error) {
	bag := e.baseBag(ag, input, execCtx)
	bag[BagPrompt] = ag.SystemPrompt()

	if err := e.hook(ctx, HookPromptBeforeBuild, bag, execCtx); err != nil {
		return "", err
	}

	bag[BagPrompt] = RenderPrompt(bag.String(BagPrompt), execCtx.Variables())

	if err := e.hook(ctx, HookPromptAfterBuild, bag, execCtx); err != nil {
		return "", err
	}
	return bag.String(BagPrompt), nil
}

// mergeTools gathers tools from the agent's declared set, the agent's MCP
// servers, and the context overrides, then runs the merge and resolve hooks.
func (e *Executor) mergeTools(ctx context.Context, ag Agent, input string, execCtx Context) ([]llm.ToolSpec, error) {
	agentTools := e.specs.Resolve(ag.Tools())
	mcpTools := e.specs.Resolve(mcpPatterns(ag.MCPServers()))
	contextTools := e.specs.Resolve(execCtx.Tools())

	bag := e.baseBag(ag, input, execCtx)
	bag[BagAgentTools] = agentTools
	bag[BagMCPTools] = mcpTools
	bag[BagContextTools] = contextTools
	bag[BagMergedTools] = dedupTools(agentTools, mcpTools, contextTools)

	if err := e.hook(ctx, HookToolsMerged, bag, execCtx); err != nil {
		return nil, err
	}
	merged, _ := bag[BagMergedTools].([]tools.Tool)

	if err := e.hook(ctx, HookToolBeforeResolve, bag, execCtx); err != nil {
		return nil, err
	}
	if m, ok := bag[BagMergedTools].([]tools.Tool); ok {
		merged = m
	}

	specs := e.specs.Specs(merged)
	bag[BagToolSpecs] = specs
	if err := e.hook(ctx, HookToolAfterResolve, bag, execCtx); err != nil {
		return nil, err
	}
	if s, ok := bag[BagToolSpecs].([]llm.ToolSpec); ok {
		specs = s
	}

	return specs, nil
}

// recover runs the error pipeline and honors a typed recovery response.
// The pipeline always runs, active or not: error observers must not be
// silently skippable. A recovery value of the wrong type is ignored and the
// original error propagates, wrapped once.
func (e *Executor) recover(ctx context.Context, ag Agent, input string, execCtx Context, cause error) (*llm.Response, error) {
	e.logger.Warn().Str("agentKey", ag.Key()).Err(cause).Msg("Agent execution failed; running error pipeline")

	bag := e.baseBag(ag, input, execCtx)
	bag[BagError] = cause

	if pipeErr := e.runner.RunWith(ctx, HookOnError, bag, execCtx.Middleware(HookOnError), nil); pipeErr != nil {
		e.logger.Warn().Err(pipeErr).Msg("Error pipeline itself failed; propagating original error")
	}

	if recovery, ok := bag[BagRecovery].(*llm.Response); ok && recovery != nil {
		e.logger.Info().Str("agentKey", ag.Key()).Msg("Error pipeline supplied a recovery response")
		return recovery, nil
	}

	return nil, &ExecutionError{AgentKey: ag.Key(), Err: cause}
}

// clientFor resolves the provider/model for this execution (context override
// first, then the agent's preference list) and wraps the client with the
// effective retry policy.
func (e *Executor) clientFor(ag Agent, execCtx Context) (llm.Client, *llm.ClientKey, *float64, error) {
	prefs := ag.Preferences()
	if execCtx.Provider() != "" {
		prefs = []llm.Preference{{Provider: execCtx.Provider(), Model: execCtx.Model()}}
	}

	key, err := e.providers.Resolve(ag.Key(), prefs)
	if err != nil {
		return nil, nil, nil, err
	}

	var temperature *float64
	for _, pref := range prefs {
		if pref.Provider == key.Provider && pref.Temperature != nil {
			temperature = pref.Temperature
			break
		}
	}

	client, err := e.clients.ClientFor(key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build %s client: %w", key.Provider, err)
	}

	policy := e.retry
	if override := execCtx.Retry(); override != nil {
		policy = *override
	}
	client = llm.WithRetry(client, policy, e.logger)

	return client, key, temperature, nil
}

// hook runs a named pipeline with the context's per-request middleware
// merged in, honoring the pipeline's active state.
func (e *Executor) hook(ctx context.Context, name string, bag pipeline.Bag, execCtx Context) error {
	return e.runner.RunIfActiveWith(ctx, name, bag, execCtx.Middleware(name), nil)
}

func (e *Executor) baseBag(ag Agent, input string, execCtx Context) pipeline.Bag {
	return pipeline.Bag{
		BagAgent:   ag,
		BagInput:   input,
		BagContext: execCtx,
	}
}

// userMessage builds the current user message, merging any attachments into
// it.
func userMessage(input string, attachments []llm.ImageBlock) llm.Message {
	blocks := []llm.ContentBlock{
		{Type: llm.ContentBlockTypeText, Text: input},
	}
	for i := range attachments {
		blocks = append(blocks, llm.ContentBlock{
			Type:  llm.ContentBlockTypeImage,
			Image: &attachments[i],
		})
	}
	return llm.Message{Role: llm.RoleUser, Content: blocks}
}

// mcpPatterns expands MCP server names into the name patterns their tools
// are registered under.
func mcpPatterns(servers []string) []string {
	patterns := make([]string, 0, len(servers))
	for _, server := range servers {
		if server == "" {
			continue
		}
		patterns = append(patterns, server+"_.*")
	}
	return patterns
}

// dedupTools merges tool lists preserving first-seen order.
func dedupTools(lists ...[]tools.Tool) []tools.Tool {
	seen := make(map[string]bool)
	var merged []tools.Tool
	for _, list := range lists {
		for _, t := range list {
			if seen[t.Name()] {
				continue
			}
			seen[t.Name()] = true
			merged = append(merged, t)
		}
	}
	return merged
}
