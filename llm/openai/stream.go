package openai

import (
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/atlas-go/atlas/llm"
)

// stream translates OpenAI chat completion chunks into neutral stream
// events. One chunk may yield several events (tool start plus input delta),
// so translated events queue up and drain before the next Recv.
type stream struct {
	inner      *openai.ChatCompletionStream
	current    *llm.StreamEvent
	queue      []*llm.StreamEvent
	lastToolID string
	err        error
	done       bool
}

func newStream(inner *openai.ChatCompletionStream) *stream {
	return &stream{inner: inner}
}

// Next implements llm.Stream.
func (s *stream) Next() bool {
	for {
		if len(s.queue) > 0 {
			s.current = s.queue[0]
			s.queue = s.queue[1:]
			return true
		}
		if s.done || s.err != nil {
			return false
		}

		response, err := s.inner.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return false
			}
			s.err = convertError(err)
			return false
		}
		s.translate(response)
	}
}

// Event implements llm.Stream.
func (s *stream) Event() *llm.StreamEvent { return s.current }

// Err implements llm.Stream.
func (s *stream) Err() error { return s.err }

// Close implements llm.Stream.
func (s *stream) Close() error {
	s.done = true
	if s.inner != nil {
		return s.inner.Close()
	}
	return nil
}

func (s *stream) translate(response openai.ChatCompletionStreamResponse) {
	if len(response.Choices) == 0 {
		return
	}
	choice := response.Choices[0]

	if choice.Delta.Content != "" {
		s.queue = append(s.queue, &llm.StreamEvent{
			Type:  llm.StreamEventTypeContentDelta,
			Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: choice.Delta.Content},
		})
	}

	for _, toolCall := range choice.Delta.ToolCalls {
		// A chunk with a fresh ID starts a new tool call; chunks without an
		// ID continue the arguments of the current one.
		if toolCall.ID != "" && toolCall.ID != s.lastToolID {
			s.lastToolID = toolCall.ID
			s.queue = append(s.queue, &llm.StreamEvent{
				Type: llm.StreamEventTypeContentBlock,
				Delta: &llm.StreamDelta{
					Type: llm.StreamDeltaTypeToolUse,
					ToolUse: &llm.ToolUseBlock{
						ID:    toolCall.ID,
						Name:  toolCall.Function.Name,
						Input: make(map[string]interface{}),
					},
				},
			})
		}
		if toolCall.Function.Arguments != "" {
			s.queue = append(s.queue, &llm.StreamEvent{
				Type:  llm.StreamEventTypeContentDelta,
				Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeToolInput, ToolInput: toolCall.Function.Arguments},
			})
		}
	}

	if choice.FinishReason != "" {
		var usage *llm.Usage
		if response.Usage != nil && response.Usage.TotalTokens > 0 {
			usage = &llm.Usage{
				InputTokens:  int64(response.Usage.PromptTokens),
				OutputTokens: int64(response.Usage.CompletionTokens),
			}
		}
		s.queue = append(s.queue, &llm.StreamEvent{
			Type:  llm.StreamEventTypeStop,
			Usage: usage,
			Done:  true,
		})
		s.done = true
	}
}
