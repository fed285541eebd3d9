// Package gcs archives page snapshots in Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// SnapshotStore writes raw page archives to a configured GCS bucket.
type SnapshotStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed snapshot store.
func New(client *storage.Client, cfg Config) (*SnapshotStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &SnapshotStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// PutObject uploads the snapshot to the configured bucket and returns a
// gs:// URI.
func (s *SnapshotStore) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("write snapshot: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
