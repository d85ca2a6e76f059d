// Package openai implements llm.Client against the OpenAI chat completions
// API (and compatible endpoints via a custom base URL).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/atlas-go/atlas/llm"
)

// The OpenAI API does not expose retry-after on rate limit errors through
// the SDK; fall back to a fixed interval.
const defaultRetryAfter = 60 * time.Second

// Client implements llm.Client for OpenAI's API.
type Client struct {
	client *openai.Client
	model  string
}

// New creates an OpenAI-backed client. baseURL and organization are
// optional; model is the default when a request leaves it empty.
func New(apiKey, baseURL, model, organization string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if organization != "" {
		config.OrgID = organization
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Synchronous implements llm.Client.
func (c *Client) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	chatReq, err := c.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	chatResp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, convertError(err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, llm.NewProviderError("no choices in OpenAI response", nil)
	}

	choice := chatResp.Choices[0]
	var content []llm.ContentBlock
	if choice.Message.Content != "" {
		content = append(content, llm.ContentBlock{
			Type: llm.ContentBlockTypeText,
			Text: choice.Message.Content,
		})
	}
	for _, toolCall := range choice.Message.ToolCalls {
		content = append(content, llm.ContentBlock{
			Type:    llm.ContentBlockTypeToolUse,
			ToolUse: fromToolCall(toolCall),
		})
	}

	return &llm.Response{
		Content: content,
		Usage: &llm.Usage{
			InputTokens:  int64(chatResp.Usage.PromptTokens),
			OutputTokens: int64(chatResp.Usage.CompletionTokens),
		},
		FinishReason: fromFinishReason(choice.FinishReason),
	}, nil
}

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	chatReq, err := c.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	inner, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, convertError(err)
	}
	return newStream(inner), nil
}

func (c *Client) buildRequest(req *llm.Request, streaming bool) (openai.ChatCompletionRequest, error) {
	if req == nil {
		return openai.ChatCompletionRequest{}, fmt.Errorf("request is required")
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return openai.ChatCompletionRequest{}, fmt.Errorf("model is required")
	}

	msgs, err := toMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, fmt.Errorf("failed to convert messages: %w", err)
	}
	if req.System != "" {
		msgs = append([]openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		}}, msgs...)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
		Stream:   streaming,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toTools(req.Tools)
		chatReq.ToolChoice = "auto"
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if req.Schema != nil {
		format, err := toResponseFormat(req.Schema)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		chatReq.ResponseFormat = format
	}

	return chatReq, nil
}

// toResponseFormat maps a structured-output schema onto OpenAI's native
// json_schema response format.
func toResponseFormat(schema *llm.Schema) (*openai.ChatCompletionResponseFormat, error) {
	doc, err := json.Marshal(schema.Definition)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output schema: %w", err)
	}
	return &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:        schema.Name,
			Description: schema.Description,
			Schema:      json.RawMessage(doc),
			Strict:      true,
		},
	}, nil
}

func fromFinishReason(reason openai.FinishReason) llm.FinishReason {
	switch reason {
	case openai.FinishReasonStop:
		return llm.FinishReasonStop
	case openai.FinishReasonToolCalls:
		return llm.FinishReasonToolUse
	case openai.FinishReasonLength:
		return llm.FinishReasonMaxTokens
	default:
		return llm.FinishReasonOther
	}
}

// convertError maps OpenAI API errors onto llm error types so the retry
// layer can classify them.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return llm.NewProviderError("OpenAI API error", err)
	}

	switch apiErr.HTTPStatusCode {
	case http.StatusTooManyRequests:
		retryAfter := defaultRetryAfter
		return llm.NewRateLimitError(
			fmt.Sprintf("OpenAI rate limit: %s", apiErr.Message),
			&retryAfter,
			err,
		)
	case http.StatusRequestEntityTooLarge:
		return llm.NewRequestTooLargeError(
			fmt.Sprintf("OpenAI request too large: %s", apiErr.Message),
			err,
		)
	case http.StatusBadRequest:
		return &llm.Error{
			Type:        llm.ErrorTypeInvalidRequest,
			Message:     fmt.Sprintf("OpenAI invalid request: %s", apiErr.Message),
			StatusCode:  apiErr.HTTPStatusCode,
			ProviderErr: err,
		}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Message:     fmt.Sprintf("OpenAI server error: %s", apiErr.Message),
			Retryable:   true,
			StatusCode:  apiErr.HTTPStatusCode,
			ProviderErr: err,
		}
	default:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Message:     fmt.Sprintf("OpenAI API error: %s", apiErr.Message),
			StatusCode:  apiErr.HTTPStatusCode,
			ProviderErr: err,
		}
	}
}
