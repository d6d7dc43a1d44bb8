package provider

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Facade holds the single active adapter and routes embedding requests
// through it. It is the only component with mutable provider state; callers
// receive an injected instance rather than a package-level singleton.
type Facade struct {
	mu      sync.RWMutex
	current Provider
	logger  *zap.Logger
}

// NewFacade creates a Facade with no adapter installed.
func NewFacade(logger *zap.Logger) *Facade {
	return &Facade{logger: logger}
}

// snapshot returns the current adapter, or nil when none is installed.
func (f *Facade) snapshot() Provider {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// SwitchProvider builds an adapter from cfg, smoke-tests it with one
// ListModels call, and only on success installs it as current. On failure
// the prior adapter stays installed.
func (f *Facade) SwitchProvider(ctx context.Context, cfg Config) error {
	next, err := New(cfg)
	if err != nil {
		return err
	}
	if _, err := next.ListModels(ctx); err != nil {
		f.logger.Warn("provider switch rejected",
			zap.String("type", cfg.Type), zap.Error(err))
		return err
	}

	f.mu.Lock()
	f.current = next
	f.mu.Unlock()

	f.logger.Info("provider switched", zap.String("type", cfg.Type))
	return nil
}

// Clear removes the current adapter. Used when the active connection is
// deleted and nothing replaces it.
func (f *Facade) Clear() {
	f.mu.Lock()
	f.current = nil
	f.mu.Unlock()
}

// CurrentProvider returns the active adapter's type tag, or "" when none.
func (f *Facade) CurrentProvider() string {
	if p := f.snapshot(); p != nil {
		return p.Type()
	}
	return ""
}

// Providers returns the configured backend type tags.
func (f *Facade) Providers() []string { return Types() }

// GenerateEmbedding delegates to the current adapter.
func (f *Facade) GenerateEmbedding(ctx context.Context, text, model string) (*EmbeddingResult, error) {
	p := f.snapshot()
	if p == nil {
		return nil, NewConnectionError("", "no active provider configured", nil)
	}
	return p.GenerateEmbedding(ctx, text, model)
}

// ListModels delegates to the current adapter.
func (f *Facade) ListModels(ctx context.Context) ([]ModelInfo, error) {
	p := f.snapshot()
	if p == nil {
		return nil, NewConnectionError("", "no active provider configured", nil)
	}
	return p.ListModels(ctx)
}

// IsModelAvailable delegates to the current adapter; no adapter reads as
// unavailable.
func (f *Facade) IsModelAvailable(ctx context.Context, name string) bool {
	p := f.snapshot()
	if p == nil {
		return false
	}
	return p.IsModelAvailable(ctx, name)
}

// GetModelInfo delegates to the current adapter, nil when none.
func (f *Facade) GetModelInfo(ctx context.Context, name string) *ModelInfo {
	p := f.snapshot()
	if p == nil {
		return nil
	}
	return p.GetModelInfo(ctx, name)
}
