package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Type tags for the supported backend kinds.
const (
	TypeOllama           = "ollama"
	TypeOpenAICompatible = "openai-compatible"
)

var knownTypes = map[string]bool{
	TypeOllama:           true,
	TypeOpenAICompatible: true,
}

// KnownType reports whether tag names a supported backend kind.
func KnownType(tag string) bool { return knownTypes[tag] }

// Types returns the supported backend type tags.
func Types() []string {
	return []string{TypeOllama, TypeOpenAICompatible}
}

// Provider generates vector embeddings against one external backend.
type Provider interface {
	// Type returns the backend type tag.
	Type() string
	// GenerateEmbedding embeds text with the named model, or the configured
	// default model when model is empty. Failures are *Error values.
	GenerateEmbedding(ctx context.Context, text, model string) (*EmbeddingResult, error)
	// ListModels returns the backend's model catalog. Failures are *Error values.
	ListModels(ctx context.Context) ([]ModelInfo, error)
	// IsModelAvailable reports whether name appears in the catalog,
	// case-sensitive. An unreachable backend reads as unavailable.
	IsModelAvailable(ctx context.Context, name string) bool
	// GetModelInfo returns catalog metadata for name, or nil when unknown
	// or the backend is unreachable.
	GetModelInfo(ctx context.Context, name string) *ModelInfo
}

// ModelInfo describes an embedding model. Produced by adapters, never persisted.
type ModelInfo struct {
	Name          string  `json:"name"`
	Provider      string  `json:"provider"`
	Dimension     int     `json:"dimension,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	PricePerToken float64 `json:"price_per_token,omitempty"`
}

// EmbeddingResult is one generated embedding.
type EmbeddingResult struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
	Provider  string    `json:"provider"`
}

// Config holds the settings needed to construct an adapter.
type Config struct {
	Type         string            `json:"type"`
	BaseURL      string            `json:"base_url"`
	APIKey       string            `json:"api_key"`
	DefaultModel string            `json:"default_model"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Timeout      time.Duration     `json:"timeout,omitempty"`
}

// New constructs the adapter for cfg.Type.
func New(cfg Config) (Provider, error) {
	switch cfg.Type {
	case TypeOllama:
		return NewOllamaProvider(cfg), nil
	case TypeOpenAICompatible:
		return NewOpenAIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// httpClient builds the adapter HTTP client with the configured timeout.
func httpClient(cfg Config) *http.Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// lookupModel finds name in models by exact, case-sensitive match.
func lookupModel(models []ModelInfo, name string) *ModelInfo {
	for i := range models {
		if models[i].Name == name {
			return &models[i]
		}
	}
	return nil
}
