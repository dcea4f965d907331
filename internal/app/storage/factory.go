// Package storage builds the queue store selected by configuration. Each
// factory owns the resources behind its store (file lock, connection pool,
// Redis client) and releases them in Cleanup.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stacklok/offline-sync/internal/config"
	"github.com/stacklok/offline-sync/internal/store"
)

//go:generate mockgen -destination=mocks/mock_factory.go -package=mocks -source=factory.go Factory

// Factory creates the persistent queue store for one backend
type Factory interface {
	// CreateStore opens the store. It is called once per application.
	CreateStore(ctx context.Context) (store.Store, error)

	// Cleanup releases resources held by the factory and the store it created
	Cleanup()
}

// NewStorageFactory returns the factory for the configured storage type. When
// Redis is configured the sync history log is moved into Redis for any backend.
// dbOpts only apply to the database backend.
func NewStorageFactory(ctx context.Context, cfg *config.Config, dbOpts ...DatabaseFactoryOption) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	var (
		factory Factory
		err     error
	)
	switch cfg.GetStorageType() {
	case config.StorageTypeMemory:
		factory = NewMemoryFactory(cfg)
	case config.StorageTypeFile:
		factory, err = NewFileFactory(cfg)
	case config.StorageTypeDatabase:
		factory, err = NewDatabaseFactory(ctx, cfg, dbOpts...)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.GetStorageType())
	}
	if err != nil {
		return nil, err
	}

	if cfg.Redis != nil && cfg.Redis.Addr != "" {
		slog.Info("Sync history stored in Redis", "addr", cfg.Redis.Addr, "key", cfg.Redis.HistoryKey)
		return NewRedisHistoryFactory(factory, cfg.Redis), nil
	}
	return factory, nil
}
