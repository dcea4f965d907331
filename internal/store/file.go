package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileStore is a MemoryStore whose contents are written to a JSON file after
// every mutation. An exclusive lock file keeps a second process from opening the
// same store.
type FileStore struct {
	*MemoryStore

	path string
	lock *flock.Flock
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (or creates) the store at path
func NewFileStore(path string, opts ...MemoryOption) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock store file %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("store file %s is in use by another process", path)
	}

	fs := &FileStore{
		MemoryStore: NewMemoryStore(opts...),
		path:        path,
		lock:        lock,
	}

	snap, err := fs.load()
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if snap != nil {
		fs.restore(snap)
	}
	fs.commit = fs.save

	return fs, nil
}

// Path returns the location of the snapshot file
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) load() (*Snapshot, error) {
	// #nosec G304 -- path comes from operator configuration
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal store file %s: %w", f.path, err)
	}
	if snap.Version > snapshotVersion {
		return nil, fmt.Errorf("store file %s has unsupported version %d", f.path, snap.Version)
	}
	return &snap, nil
}

func (f *FileStore) save(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store snapshot: %w", err)
	}

	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary store file: %w", err)
	}

	if err := os.Rename(tempPath, f.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename store file: %w", err)
	}
	return nil
}

// Close releases the lock file
func (f *FileStore) Close() error {
	if err := f.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock store file: %w", err)
	}
	return nil
}
