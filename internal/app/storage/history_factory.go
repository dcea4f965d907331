package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/offline-sync/internal/config"
	"github.com/stacklok/offline-sync/internal/store"
)

// RedisHistoryFactory wraps another factory and moves the sync history log into Redis
type RedisHistoryFactory struct {
	inner  Factory
	config *config.RedisConfig
	client *redis.Client
}

var _ Factory = (*RedisHistoryFactory)(nil)

// NewRedisHistoryFactory decorates inner. The Redis connection is opened in CreateStore.
func NewRedisHistoryFactory(inner Factory, cfg *config.RedisConfig) *RedisHistoryFactory {
	return &RedisHistoryFactory{inner: inner, config: cfg}
}

// CreateStore opens the wrapped store and the Redis client
func (r *RedisHistoryFactory) CreateStore(ctx context.Context) (store.Store, error) {
	inner, err := r.inner.CreateStore(ctx)
	if err != nil {
		return nil, err
	}

	client, err := store.NewRedisClient(ctx, r.config.Addr, r.config.GetPassword(), r.config.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis history: %w", err)
	}
	r.client = client

	return store.NewRedisHistory(inner, client, r.config.HistoryKey, r.config.HistoryMaxLen), nil
}

// Cleanup closes the Redis client and the wrapped factory
func (r *RedisHistoryFactory) Cleanup() {
	if r.client != nil {
		if err := r.client.Close(); err != nil {
			slog.Error("Failed to close redis client", "error", err)
		}
		r.client = nil
	}
	r.inner.Cleanup()
}
