package provider

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func respWith(status int, headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{StatusCode: status, Status: http.StatusText(status), Header: h}
}

func TestClassifyHTTP(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"unauthorized", 401, `{"error":"invalid api key"}`, KindAuth},
		{"forbidden", 403, "forbidden", KindAuth},
		{"rate limited", 429, "slow down", KindRateLimit},
		{"not found", 404, `model "x" not found, try pulling it first`, KindModel},
		{"bad request", 400, "invalid input", KindModel},
		{"unprocessable", 422, "model_not_found", KindModel},
		{"server error", 500, "boom", KindConnection},
		{"bad gateway", 502, "", KindConnection},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := classifyHTTP(TypeOllama, "m1", respWith(c.status, nil), []byte(c.body))
			if err.Kind != c.want {
				t.Errorf("status %d: got kind %q, want %q", c.status, err.Kind, c.want)
			}
			if err.Provider != TypeOllama {
				t.Errorf("expected provider %q, got %q", TypeOllama, err.Provider)
			}
		})
	}
}

func TestClassifyHTTPRetryAfter(t *testing.T) {
	err := classifyHTTP(TypeOpenAICompatible, "", respWith(429, map[string]string{"Retry-After": "30"}), nil)
	if err.Kind != KindRateLimit {
		t.Fatalf("got kind %q, want %q", err.Kind, KindRateLimit)
	}
	if err.RetryAfter != 30 {
		t.Errorf("got retry-after %d, want 30", err.RetryAfter)
	}
}

func TestClassifyHTTPModelCarriesName(t *testing.T) {
	err := classifyHTTP(TypeOllama, "nomic-embed-text", respWith(404, nil), []byte("model not found"))
	if err.Model != "nomic-embed-text" {
		t.Errorf("expected model name on model error, got %q", err.Model)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewConnectionError(TypeOllama, "request failed", cause)
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose the cause")
	}
	var perr *Error
	if !errors.As(error(err), &perr) {
		t.Error("expected errors.As to match *Error")
	}
}

func TestErrorMessageShape(t *testing.T) {
	err := NewModelError(TypeOpenAICompatible, "text-embedding-3-small", "unknown model")
	msg := err.Error()
	for _, want := range []string{"model error", TypeOpenAICompatible, "unknown model", "text-embedding-3-small"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}
