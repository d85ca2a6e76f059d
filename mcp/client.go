package mcp

import (
	"context"
)

// ToolDefinition describes a tool advertised by an MCP server.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Client is the transport-neutral interface for talking to one MCP server.
type Client interface {
	// Start initializes the connection.
	Start(ctx context.Context) error

	// ListTools returns all tools the server advertises.
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// InvokeTool calls a tool by its server-side name.
	InvokeTool(ctx context.Context, name string, input map[string]interface{}) (*InvokeResult, error)

	// Close tears down the connection.
	Close() error
}

// InvokeResult is the normalized outcome of an MCP tool call.
type InvokeResult struct {
	Text    string
	IsError bool
}
