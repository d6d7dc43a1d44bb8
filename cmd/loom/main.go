package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/skarde/vectorloom/internal/api"
	"github.com/skarde/vectorloom/internal/batch"
	"github.com/skarde/vectorloom/internal/cache"
	"github.com/skarde/vectorloom/internal/config"
	"github.com/skarde/vectorloom/internal/connection"
	"github.com/skarde/vectorloom/internal/provider"
	"github.com/skarde/vectorloom/internal/search"
	"github.com/skarde/vectorloom/internal/store"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger := newLogger(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	logger.Info("Starting vectorloom...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/loom.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize PostgreSQL store
	st, err := store.New(cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("PostgreSQL unavailable", zap.Error(err))
	}
	if err := st.Migrate(context.Background(), "migrations"); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// Optional Redis embedding cache
	var emCache *cache.EmbeddingCache
	if cfg.Database.Redis.URL != "" {
		c, cacheErr := cache.New(cfg.Database.Redis.URL, 24*time.Hour, logger)
		if cacheErr != nil {
			logger.Warn("Redis unavailable, running without embedding cache", zap.Error(cacheErr))
		} else {
			emCache = c
			logger.Info("Embedding cache initialized")
		}
	}

	// Provider facade rebuilt from the persisted active connection
	facade := provider.NewFacade(logger)
	svc := connection.NewService(st, facade, emCache, logger)

	if err := bootstrapConnection(context.Background(), cfg, svc); err != nil {
		logger.Warn("bootstrap connection failed", zap.Error(err))
	}
	if err := svc.RestoreActive(context.Background()); err != nil {
		logger.Warn("active connection restore failed, provider facade starts empty", zap.Error(err))
	}

	engine := search.NewEngine(st, logger)
	orchestrator := batch.New(svc, st, cfg.Batch.Width, logger)

	// Build HTTP handler
	handler := api.NewHandler(svc, facade, st, engine, orchestrator, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("vectorloom listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down vectorloom...")
	srv.Shutdown(context.Background())
	if emCache != nil {
		emCache.Close()
	}
	st.Close()
}

// newLogger builds a zap logger for the configured level.
func newLogger(level string) *zap.Logger {
	if level == "production" {
		logger, _ := zap.NewProduction()
		return logger
	}
	logger, _ := zap.NewDevelopment()
	return logger
}

// bootstrapConnection creates and activates the configured connection when
// the connections table is empty, so a fresh install can serve immediately.
func bootstrapConnection(ctx context.Context, cfg *config.Config, svc *connection.Service) error {
	if cfg.Bootstrap.Type == "" {
		return nil
	}
	existing, err := svc.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	name := cfg.Bootstrap.Name
	if name == "" {
		name = "bootstrap"
	}
	conn, err := svc.Create(ctx, store.ConnectionInput{
		Name:         name,
		Type:         cfg.Bootstrap.Type,
		BaseURL:      cfg.Bootstrap.BaseURL,
		APIKey:       cfg.Bootstrap.APIKey,
		DefaultModel: cfg.Bootstrap.DefaultModel,
	})
	if err != nil {
		return err
	}
	_, err = svc.Activate(ctx, conn.ID)
	return err
}
