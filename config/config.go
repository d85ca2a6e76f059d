package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// PipelinesConfig controls the middleware pipeline engine.
type PipelinesConfig struct {
	// Enabled is the global kill-switch. When false, every defined pipeline
	// starts inactive at boot. SetActive calls made afterwards win.
	// Pointer so an explicit `enabled: false` survives the defaults merge.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Disabled lists individual pipeline names to deactivate at boot.
	Disabled []string `yaml:"disabled,omitempty"`
}

// IsEnabled reports the global pipeline switch, defaulting to true.
func (p PipelinesConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// RetryConfig seeds the default retry policy for provider calls.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts,omitempty"`
	InitialInterval time.Duration `yaml:"initial_interval,omitempty"`
	MaxInterval     time.Duration `yaml:"max_interval,omitempty"`
}

// AnthropicConfig represents configuration for the Anthropic provider.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model,omitempty"`
}

// OllamaConfig represents configuration for the Ollama provider.
type OllamaConfig struct {
	Host    string `yaml:"host,omitempty"`    // default: "http://localhost:11434"
	Model   string `yaml:"model,omitempty"`   // default model name
	Timeout int    `yaml:"timeout,omitempty"` // request timeout in seconds
}

// OpenAIConfig represents configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty"`
	Model        string `yaml:"model,omitempty"`
	Organization string `yaml:"organization,omitempty"`
}

// LLMPreference represents a single provider/model preference for an agent.
// Agents can specify multiple preferences in order; the first available
// provider wins.
type LLMPreference struct {
	Provider    string   `yaml:"provider" json:"provider"`
	Model       string   `yaml:"model,omitempty" json:"model,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
}

// AgentConfig represents the configuration for a single agent.
type AgentConfig struct {
	Key          string          `yaml:"key" json:"key"`
	Name         string          `yaml:"name" json:"name"`
	SystemPrompt string          `yaml:"system_prompt" json:"system_prompt"`
	MaxTokens    int64           `yaml:"max_tokens" json:"max_tokens"`
	Tools        []string        `yaml:"tools" json:"tools"`
	MCPServers   []string        `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`
	LLM          []LLMPreference `yaml:"llm,omitempty" json:"llm,omitempty"`
}

// MCPServerConfig represents configuration for an MCP server.
type MCPServerConfig struct {
	Name    string   `yaml:"name,omitempty"`
	Command string   `yaml:"command,omitempty"` // For STDIO transport
	URL     string   `yaml:"url,omitempty"`     // For HTTP transport
	Args    []string `yaml:"args,omitempty"`    // Additional args for STDIO command
	Env     []string `yaml:"env,omitempty"`     // Environment variables for STDIO
}

// Config is the root Atlas configuration.
type Config struct {
	// Provider credentials and defaults
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	Ollama    OllamaConfig    `yaml:"ollama,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`

	// Providers lists the enabled provider names, in preference order.
	Providers []string `yaml:"providers,omitempty"`

	Pipelines PipelinesConfig `yaml:"pipelines,omitempty"`
	Retry     RetryConfig     `yaml:"retry,omitempty"`

	Agents     map[string]*AgentConfig     `yaml:"agents,omitempty"`
	MCPServers map[string]*MCPServerConfig `yaml:"mcp_servers,omitempty"`
}

// DefaultPath returns the default config file path. Can be overridden via
// the ATLAS_CONFIG_PATH environment variable.
func DefaultPath() string {
	if envPath := os.Getenv("ATLAS_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.atlas/config.yaml"
	}
	return filepath.Join(homeDir, ".atlas", "config.yaml")
}

// Default returns the built-in defaults applied under any loaded file.
func Default() *Config {
	return &Config{
		Providers: []string{"anthropic"},
		Ollama: OllamaConfig{
			Host:    "http://localhost:11434",
			Timeout: 60,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 1 * time.Second,
			MaxInterval:     30 * time.Second,
		},
		Agents:     make(map[string]*AgentConfig),
		MCPServers: make(map[string]*MCPServerConfig),
	}
}

// Load reads configuration from path and merges it over the defaults. A
// missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err != nil {
		return cfg, nil
	}

	raw, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
	}

	var loaded Config
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", expandedPath, err)
	}

	if err := mergo.Merge(cfg, loaded, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}

	cfg.applyAgentDefaults()
	return cfg, nil
}

// Parse decodes configuration from raw YAML and merges it over the defaults.
// Used by tests and embedders that carry config out-of-band.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()

	var loaded Config
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := mergo.Merge(cfg, loaded, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}

	cfg.applyAgentDefaults()
	return cfg, nil
}

// applyAgentDefaults fills per-agent fields that can be derived from the map
// key or have sensible defaults.
func (c *Config) applyAgentDefaults() {
	if c.Agents == nil {
		c.Agents = make(map[string]*AgentConfig)
	}
	if c.MCPServers == nil {
		c.MCPServers = make(map[string]*MCPServerConfig)
	}
	for name, serverCfg := range c.MCPServers {
		if serverCfg.Name == "" {
			serverCfg.Name = name
		}
	}
	for key, agentCfg := range c.Agents {
		if agentCfg.Key == "" {
			agentCfg.Key = key
		}
		if agentCfg.Name == "" {
			agentCfg.Name = agentCfg.Key
		}
		if agentCfg.MaxTokens == 0 {
			agentCfg.MaxTokens = 2048
		}
	}
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
