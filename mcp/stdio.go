package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// StdioClient implements Client over an MCP server launched as a child
// process speaking the protocol on stdin/stdout.
type StdioClient struct {
	client  *client.Client
	command string
	args    []string
	logger  zerolog.Logger
}

// NewStdioClient creates a client for a command-launched MCP server. The
// command string may carry embedded arguments; explicit args are appended
// after them.
func NewStdioClient(logger zerolog.Logger, command string, args, env []string) (*StdioClient, error) {
	if command == "" {
		return nil, fmt.Errorf("command is required for stdio MCP client")
	}

	parts := strings.Fields(command)
	cmd := parts[0]
	cmdArgs := append(parts[1:], args...)

	mcpClient, err := client.NewStdioMCPClient(cmd, env, cmdArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdio MCP client: %w", err)
	}

	return &StdioClient{
		client:  mcpClient,
		command: cmd,
		args:    cmdArgs,
		logger:  logger.With().Str("component", "mcpStdioClient").Str("command", cmd).Logger(),
	}, nil
}

// Start initializes the protocol handshake with the child process.
func (c *StdioClient) Start(ctx context.Context) error {
	c.logger.Debug().Msg("Initializing stdio MCP connection")

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "atlas",
				Version: "1.0.0",
			},
		},
	}

	// Initialize can hang on a slow-starting server; run it under the
	// caller's context so cancellation wins.
	initDone := make(chan error, 1)
	go func() {
		_, initErr := c.client.Initialize(ctx, initReq)
		initDone <- initErr
	}()

	select {
	case err := <-initDone:
		if err != nil {
			return fmt.Errorf("failed to initialize MCP client: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during initialize: %w", ctx.Err())
	}

	if err := c.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	c.logger.Info().Msg("MCP stdio connection established")
	return nil
}

// ListTools returns all tools advertised by the server.
func (c *StdioClient) ListTools(ctx context.Context) ([]ToolDefinition, error) {
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
func (c *StdioClient) InvokeTool(ctx context.Context, name string, input map[string]interface{}) (*InvokeResult, error) {
	result, err := c.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: input},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke tool %s: %w", name, err)
	}
	return invokeResultFrom(result), nil
}

// Close terminates the child process connection.
func (c *StdioClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func toolDefinitionFrom(tool mcp.Tool) ToolDefinition {
	inputSchema := map[string]interface{}{
		"type": tool.InputSchema.Type,
	}
	if tool.InputSchema.Properties != nil {
		inputSchema["properties"] = tool.InputSchema.Properties
	}
	if len(tool.InputSchema.Required) > 0 {
		inputSchema["required"] = tool.InputSchema.Required
	}
	if len(tool.InputSchema.Defs) > 0 {
		inputSchema["$defs"] = tool.InputSchema.Defs
	}
	return ToolDefinition{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: inputSchema,
	}
}

func invokeResultFrom(result *mcp.CallToolResult) *InvokeResult {
	var texts []string
	for _, content := range result.Content {
		if textContent, ok := mcp.AsTextContent(content); ok {
			texts = append(texts, textContent.Text)
		} else if s := mcp.GetTextFromContent(content); s != "" {
			texts = append(texts, s)
		}
	}
	return &InvokeResult{
		Text:    strings.Join(texts, "\n"),
		IsError: result.IsError,
	}
}
