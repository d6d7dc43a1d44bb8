package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// OllamaProvider implements Provider against an Ollama embeddings API.
type OllamaProvider struct {
	baseURL      string
	defaultModel string
	client       *http.Client
}

// NewOllamaProvider creates an adapter for the given Config.
func NewOllamaProvider(cfg Config) *OllamaProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL:      baseURL,
		defaultModel: cfg.DefaultModel,
		client:       httpClient(cfg),
	}
}

func (p *OllamaProvider) Type() string { return TypeOllama }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// GenerateEmbedding posts text to /api/embeddings.
func (p *OllamaProvider) GenerateEmbedding(ctx context.Context, text, model string) (*EmbeddingResult, error) {
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, NewModelError(TypeOllama, "", "no model specified and no default model configured")
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, NewModelError(TypeOllama, model, "marshal request: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, connectionFailure(TypeOllama, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, connectionFailure(TypeOllama, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, classifyHTTP(TypeOllama, model, resp, respBody)
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, NewConnectionError(TypeOllama, "decode response: "+err.Error(), err)
	}
	if len(result.Embedding) == 0 {
		return nil, NewModelError(TypeOllama, model, "backend returned an empty embedding")
	}

	return &EmbeddingResult{
		Embedding: result.Embedding,
		Model:     model,
		Provider:  TypeOllama,
	}, nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ollamaDimensions maps well-known local embedding models to vector sizes.
var ollamaDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,
}

// ListModels queries /api/tags for the locally available model catalog.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, connectionFailure(TypeOllama, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, connectionFailure(TypeOllama, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, classifyHTTP(TypeOllama, "", resp, respBody)
	}

	var result ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, NewConnectionError(TypeOllama, "decode response: "+err.Error(), err)
	}

	models := make([]ModelInfo, 0, len(result.Models))
	for _, m := range result.Models {
		info := ModelInfo{Name: m.Name, Provider: TypeOllama}
		if dim, ok := ollamaDimensions[trimTag(m.Name)]; ok {
			info.Dimension = dim
		}
		models = append(models, info)
	}
	return models, nil
}

// IsModelAvailable reports catalog membership; an unreachable backend reads
// as unavailable rather than an error.
func (p *OllamaProvider) IsModelAvailable(ctx context.Context, name string) bool {
	models, err := p.ListModels(ctx)
	if err != nil {
		return false
	}
	return lookupModel(models, name) != nil
}

// GetModelInfo returns catalog metadata for name, or nil.
func (p *OllamaProvider) GetModelInfo(ctx context.Context, name string) *ModelInfo {
	models, err := p.ListModels(ctx)
	if err != nil {
		return nil
	}
	return lookupModel(models, name)
}

// trimTag strips an Ollama ":tag" suffix (e.g. "nomic-embed-text:latest").
func trimTag(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == ':' {
			return name[:i]
		}
	}
	return name
}
