// Package anthropic implements llm.Client against the Anthropic Messages
// API.
package anthropic

import (
	"context"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/atlas-go/atlas/llm"
)

// Client implements llm.Client for Anthropic's API.
type Client struct {
	client *anthropic.Client
	logger zerolog.Logger
}

// New creates an Anthropic-backed client.
func New(apiKey string, logger zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		client: &client,
		logger: logger.With().Str("component", "anthropicClient").Logger(),
	}, nil
}

// Synchronous implements llm.Client.
func (c *Client) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, llm.NewProviderError("anthropic request failed", err)
	}

	usage := &llm.Usage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}
	c.logCacheStats(usage)

	return &llm.Response{
		Content:      fromContentBlocks(message.Content),
		Usage:        usage,
		FinishReason: fromStopReason(string(message.StopReason)),
	}, nil
}

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	return newStream(stream), nil
}

// buildParams assembles the Messages API parameters. The system prompt is
// sent as a cached block; Anthropic caches the full prefix (tools, system,
// messages) up to the block carrying cache_control, so tools ride along.
func buildParams(req *llm.Request) (anthropic.MessageNewParams, error) {
	if req == nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("request is required")
	}

	msgs, err := toMessageParams(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("failed to convert messages: %w", err)
	}

	system := req.System
	if req.Schema != nil {
		// No native constrained output; the schema rides in as a system
		// instruction.
		system += "\n\n" + req.Schema.Instruction()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  msgs,
		System: []anthropic.TextBlockParam{
			{Text: system, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Tools: toToolParams(req.Tools),
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params, nil
}

func (c *Client) logCacheStats(usage *llm.Usage) {
	if usage.CacheCreationInputTokens == 0 && usage.CacheReadInputTokens == 0 {
		return
	}
	c.logger.Debug().
		Int64("inputTokens", usage.InputTokens).
		Int64("cacheCreationTokens", usage.CacheCreationInputTokens).
		Int64("cacheReadTokens", usage.CacheReadInputTokens).
		Msg("Prompt cache stats")
}

func fromStopReason(reason string) llm.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return llm.FinishReasonStop
	case "tool_use":
		return llm.FinishReasonToolUse
	case "max_tokens":
		return llm.FinishReasonMaxTokens
	default:
		return llm.FinishReasonOther
	}
}
