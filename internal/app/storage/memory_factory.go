package storage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/stacklok/offline-sync/internal/config"
	"github.com/stacklok/offline-sync/internal/store"
)

// MemoryFactory creates a process-local store. Nothing survives a restart.
type MemoryFactory struct {
	config *config.Config

	mu    sync.Mutex
	store *store.MemoryStore
}

var _ Factory = (*MemoryFactory)(nil)

// NewMemoryFactory creates a new in-memory storage factory
func NewMemoryFactory(cfg *config.Config) *MemoryFactory {
	return &MemoryFactory{config: cfg}
}

// CreateStore returns the in-memory store
func (m *MemoryFactory) CreateStore(_ context.Context) (store.Store, error) {
	slog.Warn("Using in-memory queue store, queued entries are lost on restart")

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		m.store = store.NewMemoryStore()
	}
	return m.store, nil
}

// Cleanup is a no-op for memory storage
func (*MemoryFactory) Cleanup() {
	slog.Debug("Cleaning up memory storage factory (no-op)")
}
