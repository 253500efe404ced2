// Package local implements a snapshot store on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/JakeFAU/taped/internal/storage"
)

const lockRetryDelay = 50 * time.Millisecond

// Config captures the parameters for the local snapshot store.
type Config struct {
	// Path is the snapshot file, e.g. metadata.json.
	Path string `mapstructure:"path" yaml:"path"`
}

// SnapshotStore writes the snapshot with a temp file and rename. A sibling
// .lock file serializes access between processes sharing the file; mu does
// the same between goroutines, since the file lock is per descriptor.
type SnapshotStore struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
}

// New creates a local snapshot store, creating the parent directory if needed.
func New(cfg Config) (*SnapshotStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	dir := filepath.Dir(cfg.Path)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat snapshot directory: %w", err)
		}
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("snapshot directory path is not a directory")
	}

	if info, err := os.Stat(cfg.Path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("snapshot path %q is a directory", cfg.Path)
	}

	return &SnapshotStore{
		path: cfg.Path,
		lock: flock.New(cfg.Path + ".lock"),
	}, nil
}

// Path returns the snapshot file location.
func (s *SnapshotStore) Path() string {
	return s.path
}

// Load reads the snapshot under a shared lock.
func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock snapshot for read: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock snapshot for read: not acquired")
	}
	defer func() {
		_ = s.lock.Unlock()
	}()

	// #nosec G304 -- the snapshot path comes from operator configuration.
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// Save writes data to a temp file in the same directory, syncs it, and
// renames it over the snapshot under an exclusive lock.
func (s *SnapshotStore) Save(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock snapshot for write: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock snapshot for write: not acquired")
	}
	defer func() {
		_ = s.lock.Unlock()
	}()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	committed = true
	return nil
}
