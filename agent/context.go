package agent

import (
	"maps"

	"github.com/atlas-go/atlas/llm"
	"github.com/atlas-go/atlas/pipeline"
)

// Context is the immutable per-execution value threaded through an agent
// turn: prior messages, template variables, metadata, provider/model
// overrides, attachments, extra tools, and per-request middleware. Every
// mutator returns a new Context; the original is never altered, so a hook
// that receives a derived context downstream can never retroactively affect
// upstream state.
type Context struct {
	messages    []llm.Message
	variables   map[string]string
	metadata    map[string]any
	provider    string
	model       string
	maxTokens   int64
	threadID    string
	attachments []llm.ImageBlock
	extraTools  []string
	middleware  map[string][]pipeline.Registration
	retry       *llm.RetryPolicy
}

// NewContext returns an empty execution context.
func NewContext() Context {
	return Context{}
}

// Messages returns the prior conversation messages.
func (c Context) Messages() []llm.Message {
	out := make([]llm.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// WithMessages returns a context with the message history replaced.
func (c Context) WithMessages(messages []llm.Message) Context {
	c.messages = make([]llm.Message, len(messages))
	copy(c.messages, messages)
	return c
}

// Variables returns the template variables.
func (c Context) Variables() map[string]string {
	return maps.Clone(c.variables)
}

// WithVariables returns a context with the variables replaced.
func (c Context) WithVariables(vars map[string]string) Context {
	c.variables = maps.Clone(vars)
	return c
}

// WithVariable returns a context with one variable added.
func (c Context) WithVariable(name, value string) Context {
	merged := maps.Clone(c.variables)
	if merged == nil {
		merged = make(map[string]string, 1)
	}
	merged[name] = value
	c.variables = merged
	return c
}

// MergeVariables returns a context with vars merged over the existing
// variables.
func (c Context) MergeVariables(vars map[string]string) Context {
	merged := maps.Clone(c.variables)
	if merged == nil {
		merged = make(map[string]string, len(vars))
	}
	maps.Copy(merged, vars)
	c.variables = merged
	return c
}

// Metadata returns the opaque metadata bag available to hooks.
func (c Context) Metadata() map[string]any {
	return maps.Clone(c.metadata)
}

// WithMetadata returns a context with the metadata replaced.
func (c Context) WithMetadata(meta map[string]any) Context {
	c.metadata = maps.Clone(meta)
	return c
}

// MergeMetadata returns a context with meta merged over the existing
// metadata.
func (c Context) MergeMetadata(meta map[string]any) Context {
	merged := maps.Clone(c.metadata)
	if merged == nil {
		merged = make(map[string]any, len(meta))
	}
	maps.Copy(merged, meta)
	c.metadata = merged
	return c
}

// Provider returns the provider override, or "".
func (c Context) Provider() string { return c.provider }

// Model returns the model override, or "".
func (c Context) Model() string { return c.model }

// Using returns a context with provider and model overridden for this
// execution only.
func (c Context) Using(provider, model string) Context {
	c.provider = provider
	c.model = model
	return c
}

// MaxTokens returns the output token budget override, or 0.
func (c Context) MaxTokens() int64 { return c.maxTokens }

// WithMaxTokens returns a context with the output token budget overridden.
func (c Context) WithMaxTokens(maxTokens int64) Context {
	c.maxTokens = maxTokens
	return c
}

// ThreadID returns the conversation identifier, or "".
func (c Context) ThreadID() string { return c.threadID }

// WithThread returns a context bound to a conversation identifier.
func (c Context) WithThread(threadID string) Context {
	c.threadID = threadID
	return c
}

// Attachments returns the media attachments merged into the latest user
// message at provider-call time.
func (c Context) Attachments() []llm.ImageBlock {
	out := make([]llm.ImageBlock, len(c.attachments))
	copy(out, c.attachments)
	return out
}

// WithAttachment returns a context with an attachment appended.
func (c Context) WithAttachment(att llm.ImageBlock) Context {
	appended := make([]llm.ImageBlock, len(c.attachments), len(c.attachments)+1)
	copy(appended, c.attachments)
	c.attachments = append(appended, att)
	return c
}

// Tools returns the context-level tool override patterns.
func (c Context) Tools() []string {
	out := make([]string, len(c.extraTools))
	copy(out, c.extraTools)
	return out
}

// WithTools returns a context with extra tool patterns merged in addition
// to the agent's declared tools.
func (c Context) WithTools(patterns ...string) Context {
	appended := make([]string, len(c.extraTools), len(c.extraTools)+len(patterns))
	copy(appended, c.extraTools)
	c.extraTools = append(appended, patterns...)
	return c
}

// Middleware returns the per-request handlers for a hook name. These are
// merged with globally registered handlers for the duration of one
// execution only.
func (c Context) Middleware(hook string) []pipeline.Registration {
	regs := c.middleware[hook]
	out := make([]pipeline.Registration, len(regs))
	copy(out, regs)
	return out
}

// WithMiddleware returns a context with a handler attached to a hook for
// this execution only. The global pipeline registry is never touched.
func (c Context) WithMiddleware(hook string, handler pipeline.Handler, priority int) Context {
	mw := make(map[string][]pipeline.Registration, len(c.middleware)+1)
	for name, regs := range c.middleware {
		cp := make([]pipeline.Registration, len(regs))
		copy(cp, regs)
		mw[name] = cp
	}
	mw[hook] = append(mw[hook], pipeline.Registration{Handler: handler, Priority: priority})
	c.middleware = mw
	return c
}

// Retry returns the per-request retry policy override, or nil.
func (c Context) Retry() *llm.RetryPolicy {
	if c.retry == nil {
		return nil
	}
	cp := *c.retry
	return &cp
}

// WithRetry returns a context with the retry policy overridden.
func (c Context) WithRetry(policy llm.RetryPolicy) Context {
	c.retry = &policy
	return c
}
