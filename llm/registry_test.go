package llm

import (
	"testing"
)

func TestProviderRegistry_IsProviderEnabled(t *testing.T) {
	registry := NewProviderRegistry(&ProviderConfig{}, []string{"anthropic", "ollama"})

	if !registry.IsProviderEnabled("anthropic") {
		t.Error("anthropic should be enabled")
	}
	if !registry.IsProviderEnabled("ollama") {
		t.Error("ollama should be enabled")
	}
	if registry.IsProviderEnabled("openai") {
		t.Error("openai should not be enabled")
	}
}

func TestProviderRegistry_IsProviderConfigured(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	registry := NewProviderRegistry(&ProviderConfig{}, []string{"anthropic"})
	if registry.IsProviderConfigured("anthropic") {
		t.Error("anthropic should not be configured without API key")
	}

	registry2 := NewProviderRegistry(&ProviderConfig{AnthropicAPIKey: "test-key"}, []string{"anthropic"})
	if !registry2.IsProviderConfigured("anthropic") {
		t.Error("anthropic should be configured with API key")
	}

	// Ollama needs no credentials.
	registry3 := NewProviderRegistry(&ProviderConfig{}, []string{"ollama"})
	if !registry3.IsProviderConfigured("ollama") {
		t.Error("ollama should always be configured")
	}

	registry4 := NewProviderRegistry(&ProviderConfig{}, []string{"openai"})
	if registry4.IsProviderConfigured("openai") {
		t.Error("openai should not be configured without API key")
	}

	registry5 := NewProviderRegistry(&ProviderConfig{OpenAIAPIKey: "test-key"}, []string{"openai"})
	if !registry5.IsProviderConfigured("openai") {
		t.Error("openai should be configured with API key")
	}
}

func TestProviderRegistry_Resolve_WithPreferences(t *testing.T) {
	registry := NewProviderRegistry(&ProviderConfig{
		AnthropicAPIKey: "test-key",
		OllamaHost:      "http://localhost:11434",
		OllamaModel:     "mistral:20b",
	}, []string{"anthropic", "ollama"})

	prefs := []Preference{
		{Provider: ProviderAnthropic, Model: "claude-sonnet-4-20250514"},
		{Provider: ProviderOllama, Model: "mistral:20b"},
	}

	key, err := registry.Resolve("test-agent", prefs)
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if key.Provider != ProviderAnthropic {
		t.Errorf("Expected provider 'anthropic', got '%s'", key.Provider)
	}
	if key.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Expected model 'claude-sonnet-4-20250514', got '%s'", key.Model)
	}
	if key.APIKey != "test-key" {
		t.Errorf("Expected configured API key, got '%s'", key.APIKey)
	}
}

func TestProviderRegistry_Resolve_WithoutPreferences(t *testing.T) {
	registry := NewProviderRegistry(&ProviderConfig{
		AnthropicAPIKey: "test-key",
		OllamaHost:      "http://localhost:11434",
		OllamaModel:     "mistral:20b",
	}, []string{ProviderAnthropic, ProviderOllama})

	key, err := registry.Resolve("test-agent", nil)
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if key.Provider != ProviderAnthropic {
		t.Errorf("Expected provider 'anthropic' (first available), got '%s'", key.Provider)
	}
	if key.Model != "claude-haiku-4-5" {
		t.Errorf("Expected provider default model, got '%s'", key.Model)
	}
}

func TestProviderRegistry_Resolve_Fallback(t *testing.T) {
	// Ollama preferred but not enabled; anthropic picks up the slack.
	registry := NewProviderRegistry(&ProviderConfig{AnthropicAPIKey: "test-key"}, []string{"anthropic"})

	prefs := []Preference{
		{Provider: ProviderOllama, Model: "mistral:20b"},
		{Provider: ProviderAnthropic, Model: "claude-haiku-4-5"},
	}

	key, err := registry.Resolve("test-agent", prefs)
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if key.Provider != ProviderAnthropic {
		t.Errorf("Expected provider 'anthropic' (fallback), got '%s'", key.Provider)
	}
}

func TestProviderRegistry_Resolve_SkipsUnconfigured(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	// Anthropic is enabled but has no key; ollama is fully configured.
	registry := NewProviderRegistry(&ProviderConfig{
		OllamaHost:  "http://localhost:11434",
		OllamaModel: "mistral:20b",
	}, []string{"anthropic", "ollama"})

	prefs := []Preference{
		{Provider: ProviderAnthropic},
		{Provider: ProviderOllama},
	}

	key, err := registry.Resolve("test-agent", prefs)
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if key.Provider != ProviderOllama {
		t.Errorf("Expected provider 'ollama', got '%s'", key.Provider)
	}
	if key.Model != "mistral:20b" {
		t.Errorf("Expected default ollama model, got '%s'", key.Model)
	}
}

func TestProviderRegistry_Resolve_NoAvailableProvider(t *testing.T) {
	registry := NewProviderRegistry(&ProviderConfig{}, []string{})

	if _, err := registry.Resolve("test-agent", nil); err == nil {
		t.Error("Expected error when no providers are enabled")
	}

	registry2 := NewProviderRegistry(&ProviderConfig{AnthropicAPIKey: "test-key"}, []string{"anthropic"})
	prefs := []Preference{{Provider: "unknown-provider"}}
	if _, err := registry2.Resolve("test-agent", prefs); err == nil {
		t.Error("Expected error when no preferred provider is available")
	}
}

func TestProviderRegistry_Resolve_OllamaRequiresModel(t *testing.T) {
	registry := NewProviderRegistry(&ProviderConfig{OllamaHost: "http://localhost:11434"}, []string{"ollama"})

	// No model in the preference and no default configured.
	if _, err := registry.Resolve("test-agent", []Preference{{Provider: ProviderOllama}}); err == nil {
		t.Error("Expected error when ollama has no model at all")
	}

	// An explicit model in the preference is enough.
	key, err := registry.Resolve("test-agent", []Preference{{Provider: ProviderOllama, Model: "llama3"}})
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if key.Model != "llama3" {
		t.Errorf("Expected model 'llama3', got '%s'", key.Model)
	}
}
