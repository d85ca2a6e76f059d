package mcp

import (
	"context"
	"fmt"
	"net/url"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// HTTPClient implements Client over the streamable HTTP transport.
type HTTPClient struct {
	client  *client.Client
	baseURL string
	logger  zerolog.Logger
}

// NewHTTPClient creates a client for an HTTP-reachable MCP server.
func NewHTTPClient(logger zerolog.Logger, baseURL string) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required for HTTP MCP client")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}

	mcpClient, err := client.NewStreamableHttpClient(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP MCP client: %w", err)
	}

	return &HTTPClient{
		client:  mcpClient,
		baseURL: baseURL,
		logger:  logger.With().Str("component", "mcpHTTPClient").Str("baseURL", baseURL).Logger(),
	}, nil
}

// Start initializes the connection. Some servers handle the handshake inside
// Start; others require an explicit Initialize, and older ones only accept
// an earlier protocol version, so failures fall back through both.
func (c *HTTPClient) Start(ctx context.Context) error {
	if err := c.client.Start(ctx); err == nil {
		c.logger.Info().Msg("MCP HTTP connection established")
		return nil
	}

	protocolVersions := []string{
		"2024-11-05",
		mcp.LATEST_PROTOCOL_VERSION,
	}

	var lastErr error
	for _, version := range protocolVersions {
		initReq := mcp.InitializeRequest{
			Params: mcp.InitializeParams{
				ProtocolVersion: version,
				Capabilities:    mcp.ClientCapabilities{},
				ClientInfo: mcp.Implementation{
					Name:    "atlas",
					Version: "1.0.0",
				},
			},
		}
		if _, err := c.client.Initialize(ctx, initReq); err != nil {
			lastErr = err
			continue
		}
		if err := c.client.Start(ctx); err != nil {
			lastErr = err
			continue
		}
		c.logger.Info().Str("protocolVersion", version).Msg("MCP HTTP connection established")
		return nil
	}

	return fmt.Errorf("failed to start HTTP MCP client: %w", lastErr)
}

// ListTools returns all tools advertised by the server.
func (c *HTTPClient) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	c.logger.Debug().Int("toolCount", len(result.Tools)).Msg("Received tools from MCP server")

	return lo.Map(result.Tools, func(tool mcp.Tool, _ int) ToolDefinition {
		return toolDefinitionFrom(tool)
	}), nil
}

// InvokeTool calls a tool on the server.
func (c *HTTPClient) InvokeTool(ctx context.Context, name string, input map[string]interface{}) (*InvokeResult, error) {
	result, err := c.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: input},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke tool %s: %w", name, err)
	}
	return invokeResultFrom(result), nil
}

// Close tears down the connection.
func (c *HTTPClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
