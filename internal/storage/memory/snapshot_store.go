// Package memory keeps the snapshot in-memory for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/taped/internal/storage"
)

// SnapshotStore holds the latest snapshot in process memory.
type SnapshotStore struct {
	mu    sync.RWMutex
	data  []byte
	saves int
}

// NewSnapshotStore creates an empty store. Seed, when non-nil, is returned
// by Load until the first Save.
func NewSnapshotStore(seed []byte) *SnapshotStore {
	s := &SnapshotStore{}
	if seed != nil {
		s.data = append([]byte(nil), seed...)
	}
	return s
}

// Load returns a copy of the stored snapshot.
func (s *SnapshotStore) Load(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), s.data...), nil
}

// Save stores a copy of data.
func (s *SnapshotStore) Save(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte{}, data...)
	s.saves++
	return nil
}

// Saves reports how many times Save was called.
func (s *SnapshotStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
