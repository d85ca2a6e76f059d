package llm

import (
	"fmt"
	"os"
	"sync"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
)

// Preference represents a single provider/model preference. Agents declare
// an ordered list of these and the registry picks the first one that is both
// enabled and configured.
type Preference struct {
	Provider    string
	Model       string
	Temperature *float64
}

// ClientKey uniquely identifies an LLM client configuration. The registry
// resolves preferences into keys; client construction and caching is the
// caller's concern.
type ClientKey struct {
	Provider     string
	Model        string
	APIKey       string // For credential-based providers
	Host         string // For Ollama
	BaseURL      string // For OpenAI
	Organization string // For OpenAI
}

// ProviderConfig holds the provider credentials and defaults the registry
// resolves against.
type ProviderConfig struct {
	AnthropicAPIKey string
	AnthropicModel  string
	OllamaHost      string
	OllamaModel     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	OpenAIOrg       string
}

// ProviderRegistry manages LLM provider selection and configuration
// resolution. Shared between concurrent executions; reads dominate.
type ProviderRegistry struct {
	enabledProviders map[string]bool
	mu               sync.RWMutex
	config           *ProviderConfig
}

// NewProviderRegistry creates a new ProviderRegistry with the given config
// and enabled providers.
func NewProviderRegistry(providerConfig *ProviderConfig, enabledProviders []string) *ProviderRegistry {
	enabledMap := make(map[string]bool)
	for _, p := range enabledProviders {
		enabledMap[p] = true
	}

	return &ProviderRegistry{
		enabledProviders: enabledMap,
		config:           providerConfig,
	}
}

// IsProviderEnabled checks if a provider is in the enabled providers list.
func (r *ProviderRegistry) IsProviderEnabled(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabledProviders[provider]
}

// IsProviderConfigured checks if a provider has the required configuration
// (API keys, hosts, etc.).
func (r *ProviderRegistry) IsProviderConfigured(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isConfiguredLocked(provider)
}

// Resolve resolves an ordered preference list into a ClientKey for the first
// available provider. An empty list falls back to the first enabled and
// configured provider with its default model.
func (r *ProviderRegistry) Resolve(agentKey string, prefs []Preference) (*ClientKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(prefs) > 0 {
		var attempted []string
		for _, pref := range prefs {
			attempted = append(attempted, pref.Provider)
			if !r.enabledProviders[pref.Provider] {
				continue
			}
			if !r.isConfiguredLocked(pref.Provider) {
				continue
			}
			key, err := r.clientKeyLocked(pref.Provider, pref.Model)
			if err != nil {
				continue
			}
			return key, nil
		}
		return nil, fmt.Errorf("agent %s: no available provider from preferences %v (enabled: %v)",
			agentKey, attempted, r.enabledListLocked())
	}

	for _, provider := range []string{ProviderAnthropic, ProviderOpenAI, ProviderOllama} {
		if !r.enabledProviders[provider] || !r.isConfiguredLocked(provider) {
			continue
		}
		key, err := r.clientKeyLocked(provider, "")
		if err != nil {
			continue
		}
		return key, nil
	}

	return nil, fmt.Errorf("agent %s: no enabled provider is configured (enabled: %v)",
		agentKey, r.enabledListLocked())
}

func (r *ProviderRegistry) isConfiguredLocked(provider string) bool {
	switch provider {
	case ProviderAnthropic:
		return r.config.AnthropicAPIKey != "" || os.Getenv("ANTHROPIC_API_KEY") != ""
	case ProviderOllama:
		// Ollama needs no credentials; the host has a default.
		return true
	case ProviderOpenAI:
		return r.config.OpenAIAPIKey != "" || os.Getenv("OPENAI_API_KEY") != ""
	default:
		return false
	}
}

func (r *ProviderRegistry) clientKeyLocked(provider, modelOverride string) (*ClientKey, error) {
	key := &ClientKey{
		Provider: provider,
		Model:    modelOverride,
	}

	switch provider {
	case ProviderAnthropic:
		apiKey := r.config.AnthropicAPIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic API key not configured")
		}
		key.APIKey = apiKey
		if key.Model == "" {
			key.Model = r.config.AnthropicModel
		}
		if key.Model == "" {
			key.Model = "claude-haiku-4-5"
		}

	case ProviderOllama:
		host := r.config.OllamaHost
		if host == "" {
			host = os.Getenv("OLLAMA_HOST")
		}
		if host == "" {
			host = "http://localhost:11434"
		}
		key.Host = host
		if key.Model == "" {
			key.Model = r.config.OllamaModel
		}
		if key.Model == "" {
			return nil, fmt.Errorf("ollama model not specified and no default configured")
		}

	case ProviderOpenAI:
		apiKey := r.config.OpenAIAPIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai API key not configured")
		}
		key.APIKey = apiKey
		key.BaseURL = r.config.OpenAIBaseURL
		key.Organization = r.config.OpenAIOrg
		if key.Model == "" {
			key.Model = r.config.OpenAIModel
		}
		if key.Model == "" {
			key.Model = "gpt-4o-mini"
		}

	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	return key, nil
}

func (r *ProviderRegistry) enabledListLocked() []string {
	var providers []string
	for p := range r.enabledProviders {
		providers = append(providers, p)
	}
	return providers
}
