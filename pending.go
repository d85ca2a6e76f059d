package atlas

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atlas-go/atlas/agent"
	"github.com/atlas-go/atlas/llm"
	"github.com/atlas-go/atlas/pipeline"
)

// PendingRequest is the fluent builder for one agent turn. Builder methods
// accumulate into an execution context; the As*/Stream terminals run the
// turn. The builder is not safe for concurrent use.
type PendingRequest struct {
	atlas   *Atlas
	ref     any
	execCtx agent.Context
	schema  *llm.Schema
}

// WithMessages sets the prior conversation history.
func (p *PendingRequest) WithMessages(messages []llm.Message) *PendingRequest {
	p.execCtx = p.execCtx.WithMessages(messages)
	return p
}

// WithVariables sets the system prompt template variables.
func (p *PendingRequest) WithVariables(vars map[string]string) *PendingRequest {
	p.execCtx = p.execCtx.WithVariables(vars)
	return p
}

// WithVariable adds one template variable.
func (p *PendingRequest) WithVariable(name, value string) *PendingRequest {
	p.execCtx = p.execCtx.WithVariable(name, value)
	return p
}

// WithMetadata sets the opaque metadata bag visible to hooks and tools.
func (p *PendingRequest) WithMetadata(meta map[string]any) *PendingRequest {
	p.execCtx = p.execCtx.WithMetadata(meta)
	return p
}

// Using overrides provider and model for this turn.
func (p *PendingRequest) Using(provider, model string) *PendingRequest {
	p.execCtx = p.execCtx.Using(provider, model)
	return p
}

// WithMaxTokens overrides the output token budget for this turn.
func (p *PendingRequest) WithMaxTokens(maxTokens int64) *PendingRequest {
	p.execCtx = p.execCtx.WithMaxTokens(maxTokens)
	return p
}

// WithThread tags the turn with a conversation identifier.
func (p *PendingRequest) WithThread(threadID string) *PendingRequest {
	p.execCtx = p.execCtx.WithThread(threadID)
	return p
}

// WithAttachment adds a media attachment to the outgoing user message.
func (p *PendingRequest) WithAttachment(att llm.ImageBlock) *PendingRequest {
	p.execCtx = p.execCtx.WithAttachment(att)
	return p
}

// WithTools grants extra tool name patterns beyond the agent's declared set.
func (p *PendingRequest) WithTools(patterns ...string) *PendingRequest {
	p.execCtx = p.execCtx.WithTools(patterns...)
	return p
}

// WithMiddleware attaches a pipeline handler to a hook for this turn only.
func (p *PendingRequest) WithMiddleware(hook string, handler pipeline.Handler, priority int) *PendingRequest {
	p.execCtx = p.execCtx.WithMiddleware(hook, handler, priority)
	return p
}

// WithRetry overrides the provider retry policy for this turn.
func (p *PendingRequest) WithRetry(policy llm.RetryPolicy) *PendingRequest {
	p.execCtx = p.execCtx.WithRetry(policy)
	return p
}

// WithSchema requests structured output matching a JSON schema. The
// response text is the raw JSON payload.
func (p *PendingRequest) WithSchema(schema llm.Schema) *PendingRequest {
	p.schema = &schema
	return p
}

// AsResponse runs the turn and returns the full response.
func (p *PendingRequest) AsResponse(ctx context.Context, input string) (*llm.Response, error) {
	if p.schema != nil {
		return p.atlas.executor.ExecuteStructured(ctx, p.ref, input, p.execCtx, p.schema)
	}
	return p.atlas.executor.Execute(ctx, p.ref, input, p.execCtx)
}

// AsText runs the turn and returns the concatenated response text.
func (p *PendingRequest) AsText(ctx context.Context, input string) (string, error) {
	resp, err := p.AsResponse(ctx, input)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// AsStructured runs the turn with the configured schema and unmarshals the
// JSON payload into v.
func (p *PendingRequest) AsStructured(ctx context.Context, input string, v any) error {
	if p.schema == nil {
		return fmt.Errorf("AsStructured requires WithSchema")
	}
	resp, err := p.atlas.executor.ExecuteStructured(ctx, p.ref, input, p.execCtx, p.schema)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(resp.Text()), v); err != nil {
		return fmt.Errorf("structured response did not match schema %s: %w", p.schema.Name, err)
	}
	return nil
}

// Stream runs the turn, invoking cb for each text delta, and returns the
// assembled response.
func (p *PendingRequest) Stream(ctx context.Context, input string, cb agent.StreamCallback) (*llm.Response, error) {
	return p.atlas.executor.Stream(ctx, p.ref, input, p.execCtx, cb)
}
