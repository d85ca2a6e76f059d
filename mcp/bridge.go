package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/atlas-go/atlas/config"
	"github.com/atlas-go/atlas/llm"
	"github.com/atlas-go/atlas/tools"
)

// Manager owns the connections to configured MCP servers and bridges their
// tools into the local tool registry. Bridged tools are registered under
// "<server>_<tool>" with dots sanitized to underscores, so agents reference
// them with the pattern "<server>_.*".
type Manager struct {
	mu       sync.Mutex
	clients  map[string]Client
	registry *tools.Registry
	logger   zerolog.Logger
}

// NewManager creates a manager bridging into the given tool registry.
func NewManager(logger zerolog.Logger, registry *tools.Registry) *Manager {
	return &Manager{
		clients:  make(map[string]Client),
		registry: registry,
		logger:   logger.With().Str("component", "mcpManager").Logger(),
	}
}

// Connect starts a client for one configured server, lists its tools, and
// registers each as a bridged tool. A server with both URL and command set
// prefers the URL transport.
func (m *Manager) Connect(ctx context.Context, cfg config.MCPServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("MCP server config requires a name")
	}

	var cli Client
	var err error
	switch {
	case cfg.URL != "":
		cli, err = NewHTTPClient(m.logger, cfg.URL)
	case cfg.Command != "":
		cli, err = NewStdioClient(m.logger, cfg.Command, cfg.Args, cfg.Env)
	default:
		return fmt.Errorf("MCP server %s: either url or command must be set", cfg.Name)
	}
	if err != nil {
		return fmt.Errorf("MCP server %s: %w", cfg.Name, err)
	}

	if err := cli.Start(ctx); err != nil {
		cli.Close()
		return fmt.Errorf("MCP server %s: %w", cfg.Name, err)
	}

	defs, err := cli.ListTools(ctx)
	if err != nil {
		cli.Close()
		return fmt.Errorf("MCP server %s: %w", cfg.Name, err)
	}

	for _, def := range defs {
		m.registry.Register(newBridgedTool(cfg.Name, def, cli))
	}
	m.logger.Info().Str("server", cfg.Name).Int("toolCount", len(defs)).Msg("Registered MCP server tools")

	m.mu.Lock()
	if old, ok := m.clients[cfg.Name]; ok {
		old.Close()
	}
	m.clients[cfg.Name] = cli
	m.mu.Unlock()
	return nil
}

// ConnectAll connects every configured server. Servers that fail to connect
// are logged and skipped; a partially available tool set beats aborting the
// whole process.
func (m *Manager) ConnectAll(ctx context.Context, servers []config.MCPServerConfig) {
	for _, cfg := range servers {
		if err := m.Connect(ctx, cfg); err != nil {
			m.logger.Warn().Err(err).Str("server", cfg.Name).Msg("Skipping unavailable MCP server")
		}
	}
}

// Close tears down all server connections.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name, cli := range m.clients {
		if err := cli.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing MCP server %s: %w", name, err)
		}
		delete(m.clients, name)
	}
	return firstErr
}

// SafeName sanitizes an MCP tool name for provider APIs, which reject dots.
func SafeName(server, tool string) string {
	return server + "_" + strings.ReplaceAll(tool, ".", "_")
}

// bridgedTool exposes one remote MCP tool as a local tools.Tool.
type bridgedTool struct {
	name       string
	remoteName string
	definition ToolDefinition
	client     Client
}

func newBridgedTool(server string, def ToolDefinition, cli Client) *bridgedTool {
	return &bridgedTool{
		name:       SafeName(server, def.Name),
		remoteName: def.Name,
		definition: def,
		client:     cli,
	}
}

func (t *bridgedTool) Name() string        { return t.name }
func (t *bridgedTool) Description() string { return t.definition.Description }

func (t *bridgedTool) Schema() llm.ToolSchema {
	schema := llm.ToolSchema{Type: "object"}
	if s, ok := t.definition.InputSchema["type"].(string); ok && s != "" {
		schema.Type = s
	}
	if props, ok := t.definition.InputSchema["properties"].(map[string]interface{}); ok {
		schema.Properties = props
	}
	if req, ok := t.definition.InputSchema["required"].([]string); ok {
		schema.Required = req
	} else if raw, ok := t.definition.InputSchema["required"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if defs, ok := t.definition.InputSchema["$defs"]; ok {
		schema.ExtraFields = map[string]interface{}{"$defs": defs}
	}
	return schema
}

func (t *bridgedTool) Handle(ctx context.Context, args json.RawMessage, tc *tools.Context) (*tools.Result, error) {
	var input map[string]interface{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("invalid arguments for MCP tool %s: %w", t.name, err)
		}
	}

	result, err := t.client.InvokeTool(ctx, t.remoteName, input)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return tools.ErrorResult(result.Text), nil
	}
	return tools.TextResult(result.Text), nil
}
