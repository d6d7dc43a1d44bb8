package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/skarde/vectorloom/internal/cache"
	"github.com/skarde/vectorloom/internal/provider"
	"github.com/skarde/vectorloom/internal/store"
	"go.uber.org/zap"
)

// Store is the slice of the connection store the service needs.
type Store interface {
	ListConnections(ctx context.Context) ([]*store.Connection, error)
	GetConnection(ctx context.Context, id int64) (*store.Connection, error)
	GetActiveConnection(ctx context.Context) (*store.Connection, error)
	CreateConnection(ctx context.Context, in store.ConnectionInput) (*store.Connection, error)
	UpdateConnection(ctx context.Context, id int64, patch store.ConnectionPatch) (*store.Connection, error)
	DeleteConnection(ctx context.Context, id int64) (bool, error)
	SetActiveConnection(ctx context.Context, id int64) error
	ConnectionCredential(ctx context.Context, id int64) (string, error)
}

// Service manages connections and keeps the provider facade's adapter in
// step with the single active connection.
type Service struct {
	store  Store
	facade *provider.Facade
	cache  *cache.EmbeddingCache // optional, nil disables caching
	logger *zap.Logger
}

// NewService wires the connection store to the provider facade.
func NewService(st Store, facade *provider.Facade, emCache *cache.EmbeddingCache, logger *zap.Logger) *Service {
	return &Service{store: st, facade: facade, cache: emCache, logger: logger}
}

// TestRequest names an existing connection or carries an inline config.
type TestRequest struct {
	ConnectionID int64  `json:"connection_id,omitempty"`
	Type         string `json:"type,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
	APIKey       string `json:"api_key,omitempty"`
}

// TestResult is always a value, never an error: failures carry a message.
type TestResult struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Models  []provider.ModelInfo `json:"models,omitempty"`
}

// List returns all connections; API keys are never part of the projection.
func (s *Service) List(ctx context.Context) ([]*store.Connection, error) {
	return s.store.ListConnections(ctx)
}

// Get returns one connection, or nil when missing.
func (s *Service) Get(ctx context.Context, id int64) (*store.Connection, error) {
	return s.store.GetConnection(ctx, id)
}

// GetActive returns the single active connection, or nil when none.
func (s *Service) GetActive(ctx context.Context) (*store.Connection, error) {
	return s.store.GetActiveConnection(ctx)
}

// Create validates the type tag and persists a new connection.
func (s *Service) Create(ctx context.Context, in store.ConnectionInput) (*store.Connection, error) {
	if !provider.KnownType(in.Type) {
		return nil, fmt.Errorf("unknown connection type %q", in.Type)
	}
	return s.store.CreateConnection(ctx, in)
}

// Update applies a partial patch. A patched type tag must be recognized.
// When the active connection changes, its adapter is rebuilt.
func (s *Service) Update(ctx context.Context, id int64, patch store.ConnectionPatch) (*store.Connection, error) {
	if patch.Type != nil && !provider.KnownType(*patch.Type) {
		return nil, fmt.Errorf("unknown connection type %q", *patch.Type)
	}
	conn, err := s.store.UpdateConnection(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if conn.IsActive {
		if err := s.rebuildFacade(ctx, conn); err != nil {
			s.logger.Warn("active connection updated but adapter rebuild failed",
				zap.Int64("id", id), zap.Error(err))
		}
	}
	return conn, nil
}

// Delete removes a connection. Deleting the active one clears the facade;
// callers must activate another connection to resume serving.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	conn, err := s.store.GetConnection(ctx, id)
	if err != nil {
		return false, err
	}
	deleted, err := s.store.DeleteConnection(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted && conn != nil && conn.IsActive {
		s.facade.Clear()
		s.logger.Info("active connection deleted, no provider installed", zap.Int64("id", id))
	}
	return deleted, nil
}

// Activate makes one connection active and rebuilds the facade adapter
// from it. Returns store.ErrNotFound for a missing id.
func (s *Service) Activate(ctx context.Context, id int64) (*store.Connection, error) {
	if err := s.store.SetActiveConnection(ctx, id); err != nil {
		return nil, err
	}
	conn, err := s.store.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, store.ErrNotFound
	}
	if err := s.rebuildFacade(ctx, conn); err != nil {
		return nil, fmt.Errorf("activate connection %d: %w", id, err)
	}
	return conn, nil
}

// RestoreActive rebuilds the facade from the persisted active connection,
// if any. Called at startup.
func (s *Service) RestoreActive(ctx context.Context) error {
	conn, err := s.store.GetActiveConnection(ctx)
	if err != nil {
		return err
	}
	if conn == nil {
		s.logger.Info("no active connection, provider facade starts empty")
		return nil
	}
	return s.rebuildFacade(ctx, conn)
}

// rebuildFacade swaps the facade adapter to one built from conn.
func (s *Service) rebuildFacade(ctx context.Context, conn *store.Connection) error {
	apiKey, err := s.store.ConnectionCredential(ctx, conn.ID)
	if err != nil {
		return err
	}
	return s.facade.SwitchProvider(ctx, provider.Config{
		Type:         conn.Type,
		BaseURL:      conn.BaseURL,
		APIKey:       apiKey,
		DefaultModel: conn.DefaultModel,
		Metadata:     conn.Metadata,
	})
}

// TestConnection builds a transient adapter and lists its models. Nothing
// is persisted and provider errors never escape as errors.
func (s *Service) TestConnection(ctx context.Context, req TestRequest) *TestResult {
	cfg, err := s.testConfig(ctx, req)
	if err != nil {
		return &TestResult{Success: false, Message: err.Error()}
	}

	adapter, err := provider.New(cfg)
	if err != nil {
		return &TestResult{Success: false, Message: err.Error()}
	}
	models, err := adapter.ListModels(ctx)
	if err != nil {
		return &TestResult{Success: false, Message: fmt.Sprintf("connection test failed: %v", err)}
	}
	return &TestResult{
		Success: true,
		Message: fmt.Sprintf("connection ok, %d models available", len(models)),
		Models:  models,
	}
}

// testConfig resolves a TestRequest to an adapter config, loading the
// stored credential when an existing connection is named.
func (s *Service) testConfig(ctx context.Context, req TestRequest) (provider.Config, error) {
	if req.ConnectionID != 0 {
		conn, err := s.store.GetConnection(ctx, req.ConnectionID)
		if err != nil {
			return provider.Config{}, err
		}
		if conn == nil {
			return provider.Config{}, fmt.Errorf("connection %d not found", req.ConnectionID)
		}
		apiKey, err := s.store.ConnectionCredential(ctx, conn.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return provider.Config{}, err
		}
		return provider.Config{
			Type:         conn.Type,
			BaseURL:      conn.BaseURL,
			APIKey:       apiKey,
			DefaultModel: conn.DefaultModel,
			Metadata:     conn.Metadata,
		}, nil
	}
	if !provider.KnownType(req.Type) {
		return provider.Config{}, fmt.Errorf("unknown connection type %q", req.Type)
	}
	return provider.Config{Type: req.Type, BaseURL: req.BaseURL, APIKey: req.APIKey}, nil
}

// GenerateEmbedding embeds text through the active provider, consulting the
// embedding cache first when one is configured.
func (s *Service) GenerateEmbedding(ctx context.Context, text, model string) (*provider.EmbeddingResult, error) {
	resolved := model
	if resolved == "" {
		if conn, err := s.store.GetActiveConnection(ctx); err == nil && conn != nil {
			resolved = conn.DefaultModel
		}
	}

	if s.cache != nil && resolved != "" {
		if vec := s.cache.Get(ctx, resolved, text); vec != nil {
			return &provider.EmbeddingResult{
				Embedding: vec,
				Model:     resolved,
				Provider:  s.facade.CurrentProvider(),
			}, nil
		}
	}

	result, err := s.facade.GenerateEmbedding(ctx, text, model)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, result.Model, text, result.Embedding)
	}
	return result, nil
}
