package anthropic

import (
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/atlas-go/atlas/llm"
)

// stream translates Anthropic SSE events into neutral stream events. It is
// pull-based: each Next advances the underlying stream until a translatable
// event appears.
type stream struct {
	inner   *ssestream.Stream[anthropic.MessageStreamEventUnion]
	current *llm.StreamEvent
	usage   *llm.Usage
	inTool  bool
	err     error
	done    bool
}

func newStream(inner *ssestream.Stream[anthropic.MessageStreamEventUnion]) *stream {
	return &stream{inner: inner}
}

// Next implements llm.Stream.
func (s *stream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	for s.inner.Next() {
		if event := s.translate(s.inner.Current()); event != nil {
			s.current = event
			return true
		}
	}
	if err := s.inner.Err(); err != nil {
		s.err = llm.NewProviderError("anthropic stream failed", err)
	}
	s.done = true
	return false
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

func (s *stream) translate(event anthropic.MessageStreamEventUnion) *llm.StreamEvent {
	switch evt := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if block, ok := evt.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			s.inTool = true
			return &llm.StreamEvent{
				Type: llm.StreamEventTypeContentBlock,
				Delta: &llm.StreamDelta{
					Type: llm.StreamDeltaTypeToolUse,
					ToolUse: &llm.ToolUseBlock{
						ID:    block.ID,
						Name:  block.Name,
						Input: make(map[string]interface{}),
					},
				},
			}
		}

	case anthropic.ContentBlockDeltaEvent:
		switch d := evt.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if d.Text != "" {
				return &llm.StreamEvent{
					Type:  llm.StreamEventTypeContentDelta,
					Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: d.Text},
				}
			}
		case anthropic.InputJSONDelta:
			if s.inTool && d.PartialJSON != "" {
				return &llm.StreamEvent{
					Type:  llm.StreamEventTypeContentDelta,
					Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeToolInput, ToolInput: d.PartialJSON},
				}
			}
		}

	case anthropic.ContentBlockStopEvent:
		s.inTool = false

	case anthropic.MessageDeltaEvent:
		s.usage = &llm.Usage{
			InputTokens:              evt.Usage.InputTokens,
			OutputTokens:             evt.Usage.OutputTokens,
			CacheCreationInputTokens: evt.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     evt.Usage.CacheReadInputTokens,
		}

	case anthropic.MessageStopEvent:
		s.done = true
		return &llm.StreamEvent{
			Type:  llm.StreamEventTypeStop,
			Usage: s.usage,
			Done:  true,
		}
	}
	return nil
}
