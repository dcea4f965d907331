package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/stacklok/offline-sync/internal/config"
	"github.com/stacklok/offline-sync/internal/store"
)

// FileFactory creates a store persisted as a JSON snapshot on local disk
type FileFactory struct {
	config *config.Config
	path   string

	mu    sync.Mutex
	store *store.FileStore
}

var _ Factory = (*FileFactory)(nil)

// NewFileFactory creates a new file-based storage factory, ensuring the
// snapshot directory exists
func NewFileFactory(cfg *config.Config) (*FileFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	path := cfg.GetFileStoragePath()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}

	slog.Info("Creating file-based storage factory", "path", path)

	return &FileFactory{
		config: cfg,
		path:   path,
	}, nil
}

// CreateStore opens the snapshot, taking the inter-process lock
func (f *FileFactory) CreateStore(_ context.Context) (store.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.store != nil {
		return f.store, nil
	}
	st, err := store.NewFileStore(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file store: %w", err)
	}
	f.store = st
	return st, nil
}

// Cleanup releases the file lock
func (f *FileFactory) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.store == nil {
		return
	}
	if err := f.store.Close(); err != nil {
		slog.Error("Failed to close file store", "error", err)
	}
	f.store = nil
}
