// Package ollama implements llm.Client against a local or remote Ollama
// server.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/atlas-go/atlas/llm"
)

// Client implements llm.Client for Ollama's chat API.
type Client struct {
	client *api.Client
	model  string
}

// New creates an Ollama-backed client. An empty host falls back to the
// OLLAMA_HOST environment variable or the local default.
func New(host, model string) (*Client, error) {
	var client *api.Client
	if host != "" {
		baseURL, err := parseHost(host)
		if err != nil {
			return nil, fmt.Errorf("invalid host: %w", err)
		}
		client = api.NewClient(baseURL, &http.Client{})
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
	}

	return &Client{client: client, model: model}, nil
}

func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// Synchronous implements llm.Client.
func (c *Client) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	chatReq, err := c.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	var chatResp api.ChatResponse
	err = c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		chatResp = resp
		return nil
	})
	if err != nil {
		return nil, llm.NewProviderError("ollama chat request failed", err)
	}

	var content []llm.ContentBlock
	if chatResp.Message.Content != "" {
		content = append(content, llm.ContentBlock{
			Type: llm.ContentBlockTypeText,
			Text: chatResp.Message.Content,
		})
	}
	for _, toolCall := range chatResp.Message.ToolCalls {
		content = append(content, llm.ContentBlock{
			Type:    llm.ContentBlockTypeToolUse,
			ToolUse: fromToolCall(toolCall),
		})
	}

	finish := llm.FinishReasonStop
	if len(chatResp.Message.ToolCalls) > 0 {
		finish = llm.FinishReasonToolUse
	}

	return &llm.Response{
		Content:      content,
		Usage:        usageFrom(&chatResp),
		FinishReason: finish,
	}, nil
}

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	chatReq, err := c.buildRequest(req, true)
	if err != nil {
		return nil, err
	}
	return newStream(ctx, c.client, chatReq), nil
}

func (c *Client) buildRequest(req *llm.Request, streaming bool) (*api.ChatRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	msgs, err := toMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}
	if req.System != "" {
		msgs = append([]api.Message{{Role: "system", Content: req.System}}, msgs...)
	}

	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   &streaming,
		Options:  make(map[string]interface{}),
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toTools(req.Tools)
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Options["temperature"] = *req.Temperature
	}
	if req.Schema != nil {
		// Ollama constrains output directly with a JSON schema format.
		doc, err := json.Marshal(req.Schema.Definition)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal output schema: %w", err)
		}
		chatReq.Format = json.RawMessage(doc)
	}

	return chatReq, nil
}

func usageFrom(resp *api.ChatResponse) *llm.Usage {
	usage := &llm.Usage{}
	if resp.PromptEvalCount > 0 {
		usage.InputTokens = int64(resp.PromptEvalCount)
	}
	if resp.EvalCount > 0 {
		usage.OutputTokens = int64(resp.EvalCount)
	}
	return usage
}
