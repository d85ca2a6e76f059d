package llm

import (
	"encoding/json"
	"strings"
)

// MessageRole represents the role of a message in a conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message represents a single message in a conversation.
// This is provider-neutral and can represent user, assistant, or system messages.
type Message struct {
	Role    MessageRole
	Content []ContentBlock
}

// ContentBlockType represents the type of content block.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeImage      ContentBlockType = "image"
	ContentBlockTypeToolUse    ContentBlockType = "tool_use"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
)

// ContentBlock represents a single content block within a message.
// It can be text, an image attachment, a tool use, or a tool result.
type ContentBlock struct {
	Type       ContentBlockType
	Text       string           // For text blocks
	Image      *ImageBlock      // For image blocks
	ToolUse    *ToolUseBlock    // For tool use blocks
	ToolResult *ToolResultBlock // For tool result blocks
}

// ImageBlock represents an image attachment within a message.
// Either Data (base64-encoded) or URL is set, not both.
type ImageBlock struct {
	MIMEType string
	Data     string
	URL      string
}

// ToolUseBlock represents a tool invocation request from the assistant.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]interface{} // JSON-serializable input parameters
}

// ToolResultBlock represents the result of a tool invocation.
type ToolResultBlock struct {
	ID      string
	Content string // JSON-serialized result
	IsError bool
}

// ToolSpec represents a tool definition that can be provided to an LLM.
type ToolSpec struct {
	Name        string
	Description string
	Schema      ToolSchema
}

// ToolSchema represents the JSON schema for a tool's input parameters.
type ToolSchema struct {
	Type        string
	Properties  map[string]interface{}
	Required    []string
	ExtraFields map[string]interface{} // For any additional schema fields
}

// Schema describes the expected shape of a structured-output response.
// When set on a Request, providers that support constrained output use it;
// otherwise it is appended to the system prompt as an instruction.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]interface{} // JSON schema document
}

// Instruction renders the schema as a system prompt instruction, for
// providers without native constrained output.
func (s *Schema) Instruction() string {
	doc, err := json.Marshal(s.Definition)
	if err != nil {
		doc = []byte("{}")
	}
	return "Respond with a single JSON object matching this JSON schema, with no surrounding prose or markdown:\n" + string(doc)
}

// Request represents a complete LLM API request.
type Request struct {
	Model       string
	Messages    []Message
	System      string
	Tools       []ToolSpec
	MaxTokens   int64
	Temperature *float64 // Optional temperature override
	Schema      *Schema  // Optional structured-output schema
}

// Clone returns a shallow copy of the request with its own message slice.
// The tool loop mutates the message list between iterations; cloning keeps
// the caller's request intact.
func (r *Request) Clone() *Request {
	cp := *r
	cp.Messages = make([]Message, len(r.Messages))
	copy(cp.Messages, r.Messages)
	return &cp
}

// FinishReason describes why the model stopped generating.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonToolUse   FinishReason = "tool_use"
	FinishReasonMaxTokens FinishReason = "max_tokens"
	FinishReasonOther     FinishReason = "other"
)

// Response represents a complete LLM API response.
type Response struct {
	Content      []ContentBlock
	Usage        *Usage
	FinishReason FinishReason
}

// Text concatenates all text blocks in the response.
func (r *Response) Text() string {
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == ContentBlockTypeText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns all tool use blocks in the response.
func (r *Response) ToolCalls() []*ToolUseBlock {
	var calls []*ToolUseBlock
	for _, block := range r.Content {
		if block.Type == ContentBlockTypeToolUse && block.ToolUse != nil {
			calls = append(calls, block.ToolUse)
		}
	}
	return calls
}

// Usage represents token usage information from an LLM response.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	// Provider-specific usage fields can be added here
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Add accumulates usage from another response, used by the tool loop to
// report totals across iterations.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

// StreamDeltaType represents the type of streaming delta.
type StreamDeltaType string

const (
	StreamDeltaTypeText      StreamDeltaType = "text"
	StreamDeltaTypeToolUse   StreamDeltaType = "tool_use"
	StreamDeltaTypeToolInput StreamDeltaType = "tool_input"
)

// StreamDelta represents a single delta in a streaming response.
type StreamDelta struct {
	Type      StreamDeltaType
	Text      string        // For text deltas
	ToolUse   *ToolUseBlock // For tool use start
	ToolInput string        // For tool input JSON deltas
}

// StreamEventType represents the type of streaming event.
type StreamEventType string

const (
	StreamEventTypeContentBlock StreamEventType = "content_block"
	StreamEventTypeContentDelta StreamEventType = "content_delta"
	StreamEventTypeStop         StreamEventType = "stop"
)

// StreamEvent represents a complete streaming event.
type StreamEvent struct {
	Type  StreamEventType
	Delta *StreamDelta
	Usage *Usage
	Done  bool
}

// NewTextMessage creates a message with a single text content block.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{
		Role: role,
		Content: []ContentBlock{
			{Type: ContentBlockTypeText, Text: text},
		},
	}
}
