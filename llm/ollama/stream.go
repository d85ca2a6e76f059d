package ollama

import (
	"context"

	"github.com/ollama/ollama/api"

	"github.com/atlas-go/atlas/llm"
)

// stream adapts Ollama's callback-based chat API to the pull-based
// llm.Stream. A goroutine runs the chat call and feeds translated events
// through a channel; Close cancels the underlying request.
type stream struct {
	events  chan *llm.StreamEvent
	errCh   chan error
	cancel  context.CancelFunc
	current *llm.StreamEvent
	err     error
	done    bool
}

func newStream(ctx context.Context, client *api.Client, req *api.ChatRequest) *stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &stream{
		events: make(chan *llm.StreamEvent, 16),
		errCh:  make(chan error, 1),
		cancel: cancel,
	}
	go s.run(ctx, client, req)
	return s
}

// Next implements llm.Stream.
func (s *stream) Next() bool {
	if s.done || s.err != nil {
		return false
	}
	select {
	case event, ok := <-s.events:
		if !ok {
			s.done = true
			return false
		}
		s.current = event
		if event.Done {
			s.done = true
		}
		return true
	case err := <-s.errCh:
		s.err = err
		return false
	}
}

// Event implements llm.Stream.
func (s *stream) Event() *llm.StreamEvent { return s.current }

// Err implements llm.Stream.
func (s *stream) Err() error { return s.err }

// Close implements llm.Stream.
func (s *stream) Close() error {
	s.cancel()
	s.done = true
	return nil
}

func (s *stream) run(ctx context.Context, client *api.Client, req *api.ChatRequest) {
	defer close(s.events)

	err := client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			if err := s.emit(ctx, &llm.StreamEvent{
				Type:  llm.StreamEventTypeContentDelta,
				Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: resp.Message.Content},
			}); err != nil {
				return err
			}
		}

		// Ollama delivers tool calls whole, not as argument deltas; each one
		// becomes a single complete content block event.
		for _, toolCall := range resp.Message.ToolCalls {
			if err := s.emit(ctx, &llm.StreamEvent{
				Type: llm.StreamEventTypeContentBlock,
				Delta: &llm.StreamDelta{
					Type:    llm.StreamDeltaTypeToolUse,
					ToolUse: fromToolCall(toolCall),
				},
			}); err != nil {
				return err
			}
		}

		if resp.Done {
			return s.emit(ctx, &llm.StreamEvent{
				Type:  llm.StreamEventTypeStop,
				Usage: usageFrom(&resp),
				Done:  true,
			})
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		s.errCh <- llm.NewProviderError("ollama stream failed", err)
	}
}

// emit delivers an event unless the consumer has gone away.
func (s *stream) emit(ctx context.Context, event *llm.StreamEvent) error {
	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
