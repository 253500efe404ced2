// Package storage defines the snapshot persistence contract.
// Backends (local file, Google Cloud Storage, Postgres, memory) all persist
// the same JSON document: an object keyed by cassette uuid.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/taped/internal/catalog"
)

// ErrNotFound is returned by Load when no snapshot has been saved yet.
var ErrNotFound = errors.New("snapshot not found")

// Provider persists and restores encoded catalog snapshots.
type Provider interface {
	// Load returns the most recent snapshot or ErrNotFound.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the snapshot. Readers never see a partial write.
	Save(ctx context.Context, data []byte) error
}

// Encode serializes a catalog into the snapshot format.
func Encode(c catalog.Catalog) ([]byte, error) {
	if c == nil {
		c = catalog.Catalog{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot. Records whose key disagrees with their uuid
// field are rejected.
func Decode(data []byte) (catalog.Catalog, error) {
	var c catalog.Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if c == nil {
		c = catalog.Catalog{}
	}
	for id, cassette := range c {
		if cassette.UUID != id {
			return nil, fmt.Errorf("decode snapshot: key %s does not match cassette uuid %s", id, cassette.UUID)
		}
	}
	return c, nil
}

// NoOpProvider never has a snapshot and discards saves. It is useful for
// running without persistence.
type NoOpProvider struct{}

// Load always returns ErrNotFound.
func (NoOpProvider) Load(_ context.Context) ([]byte, error) {
	return nil, ErrNotFound
}

// Save does nothing and always returns nil.
func (NoOpProvider) Save(_ context.Context, _ []byte) error {
	return nil
}
