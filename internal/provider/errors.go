package provider

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Kind classifies a provider failure. Every error leaving an adapter
// carries exactly one kind; anything unclassifiable is a connection error.
type Kind string

const (
	// KindConnection is a network or transport failure reaching the backend.
	KindConnection Kind = "connection"
	// KindModel means the requested model is unknown, unsupported, or the
	// request body was rejected as malformed by the backend.
	KindModel Kind = "model"
	// KindAuth means the credential is missing, invalid, or expired.
	KindAuth Kind = "authentication"
	// KindRateLimit means the backend signaled throttling.
	KindRateLimit Kind = "rate_limit"
)

// Error is the single error vocabulary adapters expose to the rest of the
// system. Callers never see backend-specific error shapes.
type Error struct {
	Kind       Kind
	Provider   string
	Model      string
	Message    string
	Code       string
	RetryAfter int // seconds, rate-limit only, 0 when unknown
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Provider != "" {
		b.WriteString(" (")
		b.WriteString(e.Provider)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Model != "" {
		b.WriteString(" [model ")
		b.WriteString(e.Model)
		b.WriteString("]")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewConnectionError wraps a transport failure.
func NewConnectionError(provider, message string, cause error) *Error {
	return &Error{Kind: KindConnection, Provider: provider, Message: message, Err: cause}
}

// NewModelError reports an unknown or misconfigured model.
func NewModelError(provider, model, message string) *Error {
	return &Error{Kind: KindModel, Provider: provider, Model: model, Message: message}
}

// NewAuthError reports a missing or rejected credential.
func NewAuthError(provider, message string) *Error {
	return &Error{Kind: KindAuth, Provider: provider, Message: message}
}

// NewRateLimitError reports throttling with an optional retry-after hint.
func NewRateLimitError(provider, message string, retryAfter int) *Error {
	return &Error{Kind: KindRateLimit, Provider: provider, Message: message, RetryAfter: retryAfter}
}

// modelNotFoundMarkers are substrings backends use to reject unknown models
// inside otherwise generic 400/404 responses.
var modelNotFoundMarkers = []string{
	"model not found",
	"model_not_found",
	"does not exist",
	"not found, try pulling it",
}

// classifyHTTP maps a non-2xx backend response to a taxonomy error.
// 401/403 -> auth, 429 -> rate limit, 400/404/422 with a model marker (or any
// 404) -> model, everything else -> connection.
func classifyHTTP(providerType, model string, resp *http.Response, body []byte) *Error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	code := strconv.Itoa(resp.StatusCode)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Kind: KindAuth, Provider: providerType, Message: msg, Code: code}
	case http.StatusTooManyRequests:
		retryAfter := 0
		if v := resp.Header.Get("Retry-After"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				retryAfter = n
			}
		}
		return &Error{Kind: KindRateLimit, Provider: providerType, Message: msg, Code: code, RetryAfter: retryAfter}
	case http.StatusNotFound:
		return &Error{Kind: KindModel, Provider: providerType, Model: model, Message: msg, Code: code}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		lower := strings.ToLower(msg)
		for _, marker := range modelNotFoundMarkers {
			if strings.Contains(lower, marker) {
				return &Error{Kind: KindModel, Provider: providerType, Model: model, Message: msg, Code: code}
			}
		}
		// Malformed request bodies rejected by the backend count as model errors.
		return &Error{Kind: KindModel, Provider: providerType, Model: model, Message: msg, Code: code}
	}
	return &Error{Kind: KindConnection, Provider: providerType, Message: msg, Code: code}
}

// connectionFailure wraps a transport-level error from the HTTP client.
func connectionFailure(providerType string, err error) *Error {
	return NewConnectionError(providerType, fmt.Sprintf("request failed: %v", err), err)
}
