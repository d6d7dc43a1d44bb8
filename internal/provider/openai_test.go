package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newOpenAIServer fakes an OpenAI-compatible backend that checks the
// bearer token and serves one known embedding model.
func newOpenAIServer(apiKey string) *httptest.Server {
	mux := http.NewServeMux()
	authorized := func(r *http.Request) bool {
		return apiKey == "" || r.Header.Get("Authorization") == "Bearer "+apiKey
	}
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
			return
		}
		var req openAIEmbedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model == "throttled-model" {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"rate limit exceeded"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": req.Model,
			"data":  []map[string]interface{}{{"embedding": []float32{0.5, 0.5}}},
		})
	})
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{
				{"id": "text-embedding-3-small"},
				{"id": "custom-embedder"},
			},
		})
	})
	return httptest.NewServer(mux)
}

func TestOpenAIGenerateEmbedding(t *testing.T) {
	srv := newOpenAIServer("sk-test")
	defer srv.Close()

	p := NewOpenAIProvider(Config{
		BaseURL:      srv.URL,
		APIKey:       "sk-test",
		DefaultModel: "text-embedding-3-small",
	})

	result, err := p.GenerateEmbedding(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 2 {
		t.Fatalf("got dimension %d, want 2", len(result.Embedding))
	}
	if result.Model != "text-embedding-3-small" {
		t.Errorf("expected default model, got %q", result.Model)
	}
}

func TestOpenAIGenerateEmbedding_BadCredential(t *testing.T) {
	srv := newOpenAIServer("sk-real")
	defer srv.Close()

	p := NewOpenAIProvider(Config{BaseURL: srv.URL, APIKey: "sk-wrong", DefaultModel: "m"})

	_, err := p.GenerateEmbedding(context.Background(), "hello", "")
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if perr.Kind != KindAuth {
		t.Errorf("got kind %q, want %q", perr.Kind, KindAuth)
	}
}

func TestOpenAIGenerateEmbedding_RateLimited(t *testing.T) {
	srv := newOpenAIServer("")
	defer srv.Close()

	p := NewOpenAIProvider(Config{BaseURL: srv.URL})

	_, err := p.GenerateEmbedding(context.Background(), "hello", "throttled-model")
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if perr.Kind != KindRateLimit {
		t.Errorf("got kind %q, want %q", perr.Kind, KindRateLimit)
	}
	if perr.RetryAfter != 7 {
		t.Errorf("got retry-after %d, want 7", perr.RetryAfter)
	}
}

func TestOpenAIListModels_StaticMetadata(t *testing.T) {
	srv := newOpenAIServer("")
	defer srv.Close()

	p := NewOpenAIProvider(Config{BaseURL: srv.URL})

	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d models, want 2", len(models))
	}
	known := models[0]
	if known.Name != "text-embedding-3-small" || known.Dimension != 1536 || known.MaxTokens != 8191 {
		t.Errorf("known model missing static metadata: %+v", known)
	}
	unknown := models[1]
	if unknown.Name != "custom-embedder" || unknown.Dimension != 0 {
		t.Errorf("unknown model should carry no metadata: %+v", unknown)
	}
}

func TestOpenAIGetModelInfo(t *testing.T) {
	srv := newOpenAIServer("")
	defer srv.Close()

	p := NewOpenAIProvider(Config{BaseURL: srv.URL})
	ctx := context.Background()

	if info := p.GetModelInfo(ctx, "text-embedding-3-small"); info == nil || info.Dimension != 1536 {
		t.Errorf("expected metadata for known model, got %+v", info)
	}
	if info := p.GetModelInfo(ctx, "nope"); info != nil {
		t.Errorf("expected nil for unknown model, got %+v", info)
	}
}

func TestNewFactory(t *testing.T) {
	if _, err := New(Config{Type: TypeOllama}); err != nil {
		t.Errorf("ollama: unexpected error: %v", err)
	}
	if _, err := New(Config{Type: TypeOpenAICompatible}); err != nil {
		t.Errorf("openai-compatible: unexpected error: %v", err)
	}
	if _, err := New(Config{Type: "mystery"}); err == nil {
		t.Error("expected error for unknown type tag")
	}
}

func TestKnownType(t *testing.T) {
	if !KnownType(TypeOllama) || !KnownType(TypeOpenAICompatible) {
		t.Error("expected built-in types to be known")
	}
	if KnownType("mystery") {
		t.Error("expected unknown tag to be rejected")
	}
}
