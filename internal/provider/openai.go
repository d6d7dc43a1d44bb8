package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// OpenAIProvider implements Provider against an OpenAI-compatible
// embeddings API (OpenAI itself, or any server speaking the same protocol).
type OpenAIProvider struct {
	baseURL      string
	apiKey       string
	defaultModel string
	client       *http.Client
}

// NewOpenAIProvider creates an adapter for the given Config.
func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		client:       httpClient(cfg),
	}
}

func (p *OpenAIProvider) Type() string { return TypeOpenAICompatible }

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// GenerateEmbedding posts text to /embeddings with bearer auth.
func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text, model string) (*EmbeddingResult, error) {
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, NewModelError(TypeOpenAICompatible, "", "no model specified and no default model configured")
	}

	body, err := json.Marshal(openAIEmbedRequest{Model: model, Input: text})
	if err != nil {
		return nil, NewModelError(TypeOpenAICompatible, model, "marshal request: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, connectionFailure(TypeOpenAICompatible, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, connectionFailure(TypeOpenAICompatible, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, classifyHTTP(TypeOpenAICompatible, model, resp, respBody)
	}

	var result openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, NewConnectionError(TypeOpenAICompatible, "decode response: "+err.Error(), err)
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, NewModelError(TypeOpenAICompatible, model, "backend returned an empty embedding")
	}

	return &EmbeddingResult{
		Embedding: result.Data[0].Embedding,
		Model:     model,
		Provider:  TypeOpenAICompatible,
	}, nil
}

// openAIModelCatalog carries metadata for known hosted embedding models.
// Servers that only speak the protocol return their own names via /models.
var openAIModelCatalog = map[string]ModelInfo{
	"text-embedding-3-small": {
		Name: "text-embedding-3-small", Provider: TypeOpenAICompatible,
		Dimension: 1536, MaxTokens: 8191, PricePerToken: 0.00000002,
	},
	"text-embedding-3-large": {
		Name: "text-embedding-3-large", Provider: TypeOpenAICompatible,
		Dimension: 3072, MaxTokens: 8191, PricePerToken: 0.00000013,
	},
	"text-embedding-ada-002": {
		Name: "text-embedding-ada-002", Provider: TypeOpenAICompatible,
		Dimension: 1536, MaxTokens: 8191, PricePerToken: 0.0000001,
	},
}

type openAIModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels queries /models and enriches known entries with static metadata.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, connectionFailure(TypeOpenAICompatible, err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, connectionFailure(TypeOpenAICompatible, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, classifyHTTP(TypeOpenAICompatible, "", resp, respBody)
	}

	var result openAIModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, NewConnectionError(TypeOpenAICompatible, "decode response: "+err.Error(), err)
	}

	models := make([]ModelInfo, 0, len(result.Data))
	for _, m := range result.Data {
		if known, ok := openAIModelCatalog[m.ID]; ok {
			models = append(models, known)
			continue
		}
		models = append(models, ModelInfo{Name: m.ID, Provider: TypeOpenAICompatible})
	}
	return models, nil
}

// IsModelAvailable reports catalog membership; an unreachable backend reads
// as unavailable rather than an error.
func (p *OpenAIProvider) IsModelAvailable(ctx context.Context, name string) bool {
	models, err := p.ListModels(ctx)
	if err != nil {
		return false
	}
	return lookupModel(models, name) != nil
}

// GetModelInfo returns catalog metadata for name, or nil.
func (p *OpenAIProvider) GetModelInfo(ctx context.Context, name string) *ModelInfo {
	models, err := p.ListModels(ctx)
	if err != nil {
		return nil
	}
	return lookupModel(models, name)
}
