// Package llm defines the provider-neutral gateway Atlas uses to talk to
// LLM providers. The orchestration core depends only on the Client interface
// and the request/response types in this package; provider-specific adapters
// live in the subpackages (anthropic, openai, ollama).
package llm
