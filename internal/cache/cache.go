package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EmbeddingCache memoizes generated embeddings in Redis, keyed by the
// model and a digest of the input text. The service runs without it when
// Redis is unavailable.
type EmbeddingCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

const keyPrefix = "loom:emb:"

// New connects to Redis and returns a ready cache.
func New(redisURL string, ttl time.Duration, logger *zap.Logger) (*EmbeddingCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EmbeddingCache{rdb: rdb, ttl: ttl, logger: logger}, nil
}

// key derives the cache key for one (model, text) pair.
func key(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return keyPrefix + model + ":" + hex.EncodeToString(sum[:])
}

// Get returns the cached vector for (model, text), or nil on a miss.
// Cache failures read as misses.
func (c *EmbeddingCache) Get(ctx context.Context, model, text string) []float32 {
	data, err := c.rdb.Get(ctx, key(model, text)).Bytes()
	if err != nil {
		return nil
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		c.logger.Warn("cache entry corrupt, dropping", zap.String("model", model), zap.Error(err))
		c.rdb.Del(ctx, key(model, text))
		return nil
	}
	return vec
}

// Set stores a vector for (model, text). Failures are logged, not returned;
// the cache is best-effort.
func (c *EmbeddingCache) Set(ctx context.Context, model, text string, vec []float32) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key(model, text), data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("model", model), zap.Error(err))
	}
}

// Close tears down the Redis client.
func (c *EmbeddingCache) Close() error {
	return c.rdb.Close()
}
