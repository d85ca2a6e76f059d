package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/atlas-go/atlas/config"
	"github.com/atlas-go/atlas/llm"
	"github.com/atlas-go/atlas/pipeline"
	"github.com/atlas-go/atlas/tools"
)

// fakeClient scripts provider behavior per call index and records every
// request it receives.
type fakeClient struct {
	mu       sync.Mutex
	requests []*llm.Request
	respond  func(call int, req *llm.Request) (*llm.Response, error)
	stream   func(call int, req *llm.Request) (llm.Stream, error)
}

func (c *fakeClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	call := len(c.requests)
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.respond == nil {
		return nil, fmt.Errorf("fakeClient: no respond function")
	}
	return c.respond(call, req)
}

func (c *fakeClient) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	c.mu.Lock()
	call := len(c.requests)
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.stream == nil {
		return nil, fmt.Errorf("fakeClient: no stream function")
	}
	return c.stream(call, req)
}

func (c *fakeClient) request(t *testing.T, i int) *llm.Request {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.requests) {
		t.Fatalf("expected at least %d requests, got %d", i+1, len(c.requests))
	}
	return c.requests[i]
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// fakeStream replays a fixed event sequence.
type fakeStream struct {
	events  []*llm.StreamEvent
	idx     int
	current *llm.StreamEvent
	err     error
}

func (s *fakeStream) Next() bool {
	if s.err != nil || s.idx >= len(s.events) {
		return false
	}
	s.current = s.events[s.idx]
	s.idx++
	return true
}

func (s *fakeStream) Event() *llm.StreamEvent { return s.current }
func (s *fakeStream) Err() error              { return s.err }
func (s *fakeStream) Close() error            { return nil }

type fakeFactory struct {
	client llm.Client
}

func (f fakeFactory) ClientFor(key *llm.ClientKey) (llm.Client, error) {
	return f.client, nil
}

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Content:      []llm.ContentBlock{{Type: llm.ContentBlockTypeText, Text: text}},
		Usage:        &llm.Usage{InputTokens: 10, OutputTokens: 5},
		FinishReason: llm.FinishReasonStop,
	}
}

func toolUseResponse(id, name string, input map[string]interface{}) *llm.Response {
	return &llm.Response{
		Content: []llm.ContentBlock{
			{Type: llm.ContentBlockTypeToolUse, ToolUse: &llm.ToolUseBlock{ID: id, Name: name, Input: input}},
		},
		Usage:        &llm.Usage{InputTokens: 10, OutputTokens: 5},
		FinishReason: llm.FinishReasonToolUse,
	}
}

type fixture struct {
	pipelines *pipeline.Registry
	runner    *pipeline.Runner
	agents    *Registry
	toolReg   *tools.Registry
	client    *fakeClient
	executor  *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()
	pipelines := pipeline.NewRegistry(log)
	runner := pipeline.NewRunner(pipelines, log)
	agents := NewRegistry(log)
	resolver := NewResolver(agents)
	toolReg := tools.NewRegistry(log)
	providers := llm.NewProviderRegistry(
		&llm.ProviderConfig{AnthropicAPIKey: "test-key"},
		[]string{llm.ProviderAnthropic},
	)
	client := &fakeClient{}

	executor, err := NewExecutor(log, resolver, pipelines, runner, toolReg, providers, fakeFactory{client}, llm.RetryPolicy{MaxAttempts: 1})
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}

	return &fixture{
		pipelines: pipelines,
		runner:    runner,
		agents:    agents,
		toolReg:   toolReg,
		client:    client,
		executor:  executor,
	}
}

func (f *fixture) registerAgent(cfg *config.AgentConfig) Agent {
	ag := FromConfig(cfg)
	f.agents.Register(ag)
	return ag
}

func (f *fixture) defaultAgent() Agent {
	return f.registerAgent(&config.AgentConfig{
		Key:          "helper",
		Name:         "Helper",
		SystemPrompt: "You are {name}, a helpful assistant.",
		MaxTokens:    1024,
	})
}

func TestExecutor_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.defaultAgent()
	f.client.respond = func(call int, req *llm.Request) (*llm.Response, error) {
		return textResponse("hello back"), nil
	}

	execCtx := NewContext().WithVariable("name", "Helper")
	resp, err := f.executor.Execute(context.Background(), "helper", "hi there", execCtx)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if resp.Text() != "hello back" {
		t.Errorf("expected 'hello back', got %q", resp.Text())
	}

	req := f.client.request(t, 0)
	if req.System != "You are Helper, a helpful assistant." {
		t.Errorf("system prompt not rendered: %q", req.System)
	}
	if req.MaxTokens != 1024 {
		t.Errorf("expected agent max tokens 1024, got %d", req.MaxTokens)
	}
	if req.Model != "claude-haiku-4-5" {
		t.Errorf("expected default model, got %q", req.Model)
	}
	if len(req.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content[0].Text != "hi there" {
		t.Errorf("unexpected user message: %+v", req.Messages[0])
	}
}

func TestExecutor_HookOrder(t *testing.T) {
	f := newFixture(t)
	f.defaultAgent()
	f.client.respond = func(call int, req *llm.Request) (*llm.Response, error) {
		return textResponse("ok"), nil
	}

	var order []string
	record := func(hook string) {
		f.pipelines.Register(hook, pipeline.HandlerFunc(func(ctx context.Context, bag pipeline.Bag, next pipeline.Next) error {
			order = append(order, hook)
			return next(ctx, bag)
		}), 0, nil)
	}
	hooks := []string{
		HookContextValidate,
		HookBeforeExecute,
		HookPromptBeforeBuild,
		HookPromptAfterBuild,
		HookToolsMerged,
		HookToolBeforeResolve,
		HookToolAfterResolve,
		HookAfterExecute,
	}
	for _, hook := range hooks {
		record(hook)
	}

	if _, err := f.executor.Execute(context.Background(), "helper", "hi", NewContext()); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if len(order) != len(hooks) {
		t.Fatalf("expected %d hook runs, got %v", len(hooks), order)
	}
	for i, hook := range hooks {
		if order[i] != hook {
			t.Fatalf("hook order mismatch at %d: got %v, want %v", i, order, hooks)
		}
	}
}

func TestExecutor_PromptHooksRewrite(t *testing.T) {
	f := newFixture(t)
	f.defaultAgent()
	f.client.respond = func(call int, req *llm.Request) (*llm.Response, error) {
		return textResponse("ok"), nil
	}

	// before_build swaps the template; after_build appends to the rendered
	// prompt.
	f.pipelines.Register(HookPromptBeforeBuild, pipeline.HandlerFunc(func(ctx context.Context, bag pipeline.Bag, next pipeline.Next) error {
		bag[BagPrompt] = "Rewritten for {name}."
		return next(ctx, bag)
	}), 0, nil)
	f.pipelines.Register(HookPromptAfterBuild, pipeline.HandlerFunc(func(ctx context.Context, bag pipeline.Bag, next pipeline.Next) error {
		bag[BagPrompt] = bag.String(BagPrompt) + " Be brief."
		return next(ctx, bag)
	}), 0, nil)

	execCtx := NewContext().WithVariable("name", "Ava")
	if _, err := f.executor.Execute(context.Background(), "helper", "hi", execCtx); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	req := f.client.request(t, 0)
	if req.System != "Rewritten for Ava. Be brief." {
		t.Errorf("prompt hooks not applied: %q", req.System)
	}
}

func TestExecutor_ValidateAbortSkipsErrorPipeline(t *testing.T) {
	f := newFixture(t)
	f.defaultAgent()

	boom := errors.New("context rejected")
	f.pipelines.Register(HookContextValidate, pipeline.HandlerFunc(func(ctx context.Context, bag pipeline.Bag, next pipeline.Next) error {
		return boom
	}), 0, nil)

	errorPipelineRan := false
	f.pipelines.Register(HookOnError, pipeline.HandlerFunc(func(ctx context.Context, bag pipeline.Bag, next pipeline.Next) error {
		errorPipelineRan = true
		return next(ctx, bag)
	}), 0, nil)

	_, err := f.executor.Execute(context.Background(), "helper", "hi", NewContext())
	if !errors.Is(err, boom) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.AgentKey != "helper" {
		t.Fatalf("expected ExecutionError for agent helper, got %v", err)
	}
	if errorPipelineRan {
		t.Error("validation failures must not consult the error pipeline")
	}
	if f.client.callCount() != 0 {
		t.Error("provider must not be called after a validation failure")
	}
}

func TestExecutor_BeforeExecuteRewritesInput(t *testing.T) {
	f := newFixture(t)
	f.defaultAgent()
	f.client.respond = func(call int, req *llm.Request) (*llm.Response, error) {
		return textResponse("ok"), nil
	}

	f.pipelines.Register(HookBeforeExecute, pipeline.HandlerFunc(func(ctx context.Context, bag pipeline.Bag, next pipeline.Next) error {
		bag[BagInput] = "rewritten input"
		return next(ctx, bag)
	}), 0, nil)

	if _, err := f.executor.Execute(context.Background(), "helper", "original", NewContext()); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	req := f.client.request(t, 0)
	if req.Messages[0].Content[0].Text != "rewritten input" {
		t.Errorf("before_execute input rewrite not honored: %q", req.Messages[0].Content[0].Text)
	}
}

func TestExecutor_ProviderErrorRecovery(t *testing.T) {
	providerErr := errors.New("provider down")

	t.Run("no recovery propagates wrapped cause", func(t *testing.T) {
		f := newFixture(t)
		f.defaultAgent()
		f.client.respond = func(call int, req *llm.Request) (*llm.Response, error) {
			return nil, providerErr
		}

		errorPipelineRan := false
		f.pipelines.Register(HookOnError, pipeline.HandlerFunc(func(ctx context.Context, bag pipeline.Bag, next pipeline.Next) error {
			errorPipelineRan = true
			if _, ok := bag[BagError].(error); !ok {
				t.Error("error pipeline should see the cause in the bag")
			}
			return next(ctx, bag)
		}), 0, nil)

		_, err := f.executor.Execute(context.Background(), "helper", "hi", NewContext())
		if !errors.Is(err, providerErr) {
			t.Fatalf("expected provider error, got %v", err)
		}
		if !errorPipelineRan {
			t.Error("error pipeline should have run")
		}
	})

	t.Run("typed recovery response honored", func(t *testing.T) {
		f := newFixture(t)
		f.defaultAgent()
		f.client.respond = func(call int, req *llm.Request) (*llm.Response, error) {
			return nil, providerErr
		}

		f.pipelines.Register(HookOnError, pipeline.HandlerFunc(func(ctx context.Context, bag pipeline.Bag, next pipeline.Next) error {
			bag[BagRecovery] = textResponse("recovered")
			return next(ctx, bag)
		}), 0, nil)

		resp, err := f.executor.Execute(context.Background(), "helper", "hi", NewContext())
		if err != nil {
			t.Fatalf("expected recovery, got error %v", err)
		}
		if resp.Text() != "recovered" {
			t.Errorf("expected recovered response, got %q", resp.Text())
		}
	})

	t.Run("wrong-typed recovery ignored", func(t *testing.T) {
		f := newFixture(t)
		f.defaultAgent()
		f.client.respond = func(call int, req *llm.Request) (*llm.Response, error) {
			return nil, providerErr
		}

		f.pipelines.Register(HookOnError, pipeline.HandlerFunc(func(ctx context.Context, bag pipeline.Bag, next pipeline.Next) error {
			bag[BagRecovery] = "just a string"
			return next(ctx, bag)
		}), 0, nil)

		_, err := f.executor.Execute(context.Background(), "helper", "hi", NewContext())
		if !errors.Is(err, providerErr) {
			t.Fatalf("wrong-typed recovery must be ignored, got %v", err)
		}
	})

	t.Run("error pipeline runs even when disabled", func(t *testing.T) {
		f := newFixture(t)
		f.defaultAgent()
		f.client.respond = func(call int, req *llm.Request) (*llm.Response, error) {
			return nil, providerErr
		}
		f.pipelines.DisableAll()

		f.pipelines.Register(HookOnError, pipeline.HandlerFunc(func(ctx context.Context, bag pipeline.Bag, next pipeline.Next) error {
			bag[BagRecovery] = textResponse("recovered anyway")
			return next(ctx, bag)
		}), 0, nil)

		resp, err := f.executor.Execute(context.Background(), "helper", "hi", NewContext())
		if err != nil {
			t.Fatalf("expected recovery, got error %v", err)
		}
		if resp.Text() != "recovered anyway" {
			t.Errorf("error pipeline must run regardless of active state, got %q", resp.Text())
		}
	})
}

func TestExecutor_AfterExecuteErrorRoutesToErrorPipeline(t *testing.T) {
	f := newFixture(t)
	f.defaultAgent()
	f.client.respond = func(call int, req *llm.Request) (*llm.Response, error) {
		return textResponse("ok"), nil
	}

	afterErr := errors.New("post-processing failed")
	f.pipelines.Register(HookAfterExecute, pipeline.HandlerFunc(func(ctx context.Context, bag pipeline.Bag, next pipeline.Next) error {
		return afterErr
	}), 0, nil)

	f.pipelines.Register(HookOnError, pipeline.HandlerFunc(func(ctx context.Context, bag pipeline.Bag, next pipeline.Next) error {
		bag[BagRecovery] = textResponse("salvaged")
		return next(ctx, bag)
	}), 0, nil)

	resp, err := f.executor.Execute(context.Background(), "helper", "hi", NewContext())
	if err != nil {
		t.Fatalf("expected recovery, got error %v", err)
	}
	if resp.Text() != "salvaged" {
		t.Errorf("after_execute errors must route through the error pipeline, got %q", resp.Text())
	}
}

func TestExecutor_AfterExecuteReplacesResponse(t *testing.T) {
	f := newFixture(t)
	f.defaultAgent()
	f.client.respond = func(call int, req *llm.Request) (*llm.Response, error) {
		return textResponse("raw"), nil
	}

	f.pipelines.Register(HookAfterExecute, pipeline.HandlerFunc(func(ctx context.Context, bag pipeline.Bag, next pipeline.Next) error {
		bag[BagResponse] = textResponse("polished")
		return next(ctx, bag)
	}), 0, nil)

	resp, err := f.executor.Execute(context.Background(), "helper", "hi", NewContext())
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if resp.Text() != "polished" {
		t.Errorf("after_execute response replacement not honored, got %q", resp.Text())
	}
}

func TestExecutor_DisabledHooksSkipped(t *testing.T) {
	f := newFixture(t)
	f.defaultAgent()
	f.client.respond = func(call int, req *llm.Request) (*llm.Response, error) {
		return textResponse("ok"), nil
	}

	ran := false
	f.pipelines.Register(HookBeforeExecute, pipeline.HandlerFunc(func(ctx context.Context, bag pipeline.Bag, next pipeline.Next) error {
		ran = true
		return next(ctx, bag)
	}), 0, nil)
	f.pipelines.SetActive(HookBeforeExecute, false)

	if _, err := f.executor.Execute(context.Background(), "helper", "hi", NewContext()); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if ran {
		t.Error("handlers on a disabled hook must not run")
	}
}

func TestExecutor_PerRequestMiddleware(t *testing.T) {
	f := newFixture(t)
	f.defaultAgent()
	f.client.respond = func(call int, req *llm.Request) (*llm.Response, error) {
		return textResponse("ok"), nil
	}

	execCtx := NewContext().WithMiddleware(HookBeforeExecute, pipeline.HandlerFunc(func(ctx context.Context, bag pipeline.Bag, next pipeline.Next) error {
		bag[BagInput] = "per-request input"
		return next(ctx, bag)
	}), 0)

	if _, err := f.executor.Execute(context.Background(), "helper", "original", execCtx); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if got := f.client.request(t, 0).Messages[0].Content[0].Text; got != "per-request input" {
		t.Errorf("per-request middleware not applied: %q", got)
	}

	// A second turn without the middleware is unaffected.
	if _, err := f.executor.Execute(context.Background(), "helper", "original", NewContext()); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if got := f.client.request(t, 1).Messages[0].Content[0].Text; got != "original" {
		t.Errorf("per-request middleware leaked into a later turn: %q", got)
	}
}

func TestExecutor_ContextOverrides(t *testing.T) {
	f := newFixture(t)
	f.defaultAgent()
	f.client.respond = func(call int, req *llm.Request) (*llm.Response, error) {
		return textResponse("ok"), nil
	}

	history := []llm.Message{
		llm.NewTextMessage(llm.RoleUser, "earlier question"),
		llm.NewTextMessage(llm.RoleAssistant, "earlier answer"),
	}
	execCtx := NewContext().
		WithMessages(history).
		WithMaxTokens(256).
		WithAttachment(llm.ImageBlock{MIMEType: "image/png", Data: "aGk="})

	if _, err := f.executor.Execute(context.Background(), "helper", "follow-up", execCtx); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	req := f.client.request(t, 0)
	if req.MaxTokens != 256 {
		t.Errorf("context max tokens override not honored, got %d", req.MaxTokens)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("expected history plus user message, got %d messages", len(req.Messages))
	}
	last := req.Messages[2]
	if len(last.Content) != 2 {
		t.Fatalf("expected text plus attachment, got %d blocks", len(last.Content))
	}
	if last.Content[1].Type != llm.ContentBlockTypeImage || last.Content[1].Image.MIMEType != "image/png" {
		t.Errorf("attachment not merged into user message: %+v", last.Content[1])
	}
}

func TestExecutor_ExecuteStructured(t *testing.T) {
	f := newFixture(t)
	f.defaultAgent()
	f.client.respond = func(call int, req *llm.Request) (*llm.Response, error) {
		return textResponse(`{"answer": 42}`), nil
	}

	schema := &llm.Schema{
		Name: "answer",
		Definition: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"answer": map[string]interface{}{"type": "integer"}},
		},
	}
	resp, err := f.executor.ExecuteStructured(context.Background(), "helper", "hi", NewContext(), schema)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if resp.Text() != `{"answer": 42}` {
		t.Errorf("unexpected structured payload: %q", resp.Text())
	}

	req := f.client.request(t, 0)
	if req.Schema == nil || req.Schema.Name != "answer" {
		t.Errorf("schema not threaded to the provider request: %+v", req.Schema)
	}
}

func TestExecutor_UnknownAgent(t *testing.T) {
	f := newFixture(t)
	_, err := f.executor.Execute(context.Background(), "ghost", "hi", NewContext())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExecutor_ToolMerge(t *testing.T) {
	f := newFixture(t)
	f.registerAgent(&config.AgentConfig{
		Key:          "helper",
		SystemPrompt: "You help.",
		MaxTokens:    1024,
		Tools:        []string{"alpha", "shared"},
	})
	f.client.respond = func(call int, req *llm.Request) (*llm.Response, error) {
		return textResponse("ok"), nil
	}

	register := func(name string) {
		f.toolReg.Register(tools.New(name, name+" tool", llm.ToolSchema{Type: "object"},
			func(ctx context.Context, args json.RawMessage, tc *tools.Context) (*tools.Result, error) {
				return tools.TextResult("ok"), nil
			}))
	}
	register("alpha")
	register("shared")
	register("extra")

	// "shared" appears in both the agent set and the context override; the
	// merged specs must list it once.
	execCtx := NewContext().WithTools("shared", "extra")
	if _, err := f.executor.Execute(context.Background(), "helper", "hi", execCtx); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	req := f.client.request(t, 0)
	names := make([]string, 0, len(req.Tools))
	for _, spec := range req.Tools {
		names = append(names, spec.Name)
	}
	want := []string{"alpha", "shared", "extra"}
	if len(names) != len(want) {
		t.Fatalf("expected tools %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected tools %v, got %v", want, names)
		}
	}
}

func TestExecutor_ToolsMergedHookFilters(t *testing.T) {
	f := newFixture(t)
	f.registerAgent(&config.AgentConfig{
		Key:          "helper",
		SystemPrompt: "You help.",
		MaxTokens:    1024,
		Tools:        []string{"alpha", "beta"},
	})
	f.client.respond = func(call int, req *llm.Request) (*llm.Response, error) {
		return textResponse("ok"), nil
	}

	for _, name := range []string{"alpha", "beta"} {
		f.toolReg.Register(tools.New(name, name, llm.ToolSchema{Type: "object"},
			func(ctx context.Context, args json.RawMessage, tc *tools.Context) (*tools.Result, error) {
				return tools.TextResult("ok"), nil
			}))
	}

	f.pipelines.Register(HookToolsMerged, pipeline.HandlerFunc(func(ctx context.Context, bag pipeline.Bag, next pipeline.Next) error {
		merged, _ := bag[BagMergedTools].([]tools.Tool)
		var kept []tools.Tool
		for _, tool := range merged {
			if tool.Name() != "beta" {
				kept = append(kept, tool)
			}
		}
		bag[BagMergedTools] = kept
		return next(ctx, bag)
	}), 0, nil)

	if _, err := f.executor.Execute(context.Background(), "helper", "hi", NewContext()); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	req := f.client.request(t, 0)
	if len(req.Tools) != 1 || req.Tools[0].Name != "alpha" {
		t.Errorf("merged-tools hook filter not honored: %+v", req.Tools)
	}
}
