package tools

import (
	"context"
	"encoding/json"

	"github.com/atlas-go/atlas/llm"
)

// Tool is a named, typed callable exposed to the model for invocation during
// a turn. Implementations declare their own identifier via Name; the
// registry keys on it.
type Tool interface {
	// Name returns the tool's unique identifier. Must match
	// ^[a-zA-Z0-9_-]{1,128}$ to be safe across providers.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON schema for the tool's input parameters.
	Schema() llm.ToolSchema

	// Handle executes the tool with parsed arguments and a call context.
	Handle(ctx context.Context, args json.RawMessage, tc *Context) (*Result, error)
}

// Result is the outcome of a tool invocation fed back to the model.
type Result struct {
	Text    string
	IsError bool
}

// TextResult wraps a plain string as a successful result.
func TextResult(text string) *Result {
	return &Result{Text: text}
}

// ErrorResult wraps an error message as an error result.
func ErrorResult(text string) *Result {
	return &Result{Text: text, IsError: true}
}

// JSONResult marshals v as a successful result. Marshal failures degrade to
// an error result rather than failing the call.
func JSONResult(v any) *Result {
	b, err := json.Marshal(v)
	if err != nil {
		return ErrorResult("failed to encode tool result: " + err.Error())
	}
	return &Result{Text: string(b)}
}

// Context carries per-call information into a tool handler. It is
// constructed fresh for every invocation.
type Context struct {
	// AgentKey identifies the agent on whose behalf the tool runs.
	AgentKey string

	// CallID is the provider-assigned tool call ID, or a generated one.
	CallID string

	// ThreadID identifies the conversation, when the caller supplied one.
	ThreadID string

	// Metadata is the opaque key/value bag from the execution context.
	Metadata map[string]any
}

// HandlerFunc is the signature for function-backed tools.
type HandlerFunc func(ctx context.Context, args json.RawMessage, tc *Context) (*Result, error)

// funcTool adapts a plain function to the Tool interface.
type funcTool struct {
	name        string
	description string
	schema      llm.ToolSchema
	fn          HandlerFunc
}

// New creates a Tool from a name, description, input schema, and handler
// function.
func New(name, description string, schema llm.ToolSchema, fn HandlerFunc) Tool {
	return &funcTool{
		name:        name,
		description: description,
		schema:      schema,
		fn:          fn,
	}
}

func (t *funcTool) Name() string           { return t.name }
func (t *funcTool) Description() string    { return t.description }
func (t *funcTool) Schema() llm.ToolSchema { return t.schema }

func (t *funcTool) Handle(ctx context.Context, args json.RawMessage, tc *Context) (*Result, error) {
	return t.fn(ctx, args, tc)
}
