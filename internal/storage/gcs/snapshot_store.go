// Package gcs provides a snapshot store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	snapshot "github.com/JakeFAU/taped/internal/storage"
)

// DefaultObject is used when Config.Object is empty.
const DefaultObject = "metadata.json"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Object string
}

// SnapshotStore keeps the snapshot as a single object. GCS object writes are
// atomic: readers see the previous generation until the upload completes.
type SnapshotStore struct {
	client *storage.Client
	bucket string
	object string
}

// New creates a GCS-backed snapshot store.
func New(client *storage.Client, cfg Config) (*SnapshotStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	object := strings.TrimSpace(cfg.Object)
	if object == "" {
		object = DefaultObject
	}
	return &SnapshotStore{
		client: client,
		bucket: cfg.Bucket,
		object: object,
	}, nil
}

// URI returns the gs:// location of the snapshot.
func (s *SnapshotStore) URI() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

// Load downloads the snapshot object.
func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Save uploads data as the snapshot object.
func (s *SnapshotStore) Save(ctx context.Context, data []byte) error {
	writer := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
