// Package memory stores page snapshots in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// SnapshotStore keeps archives in-memory and returns memory:// URIs.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewSnapshotStore creates an empty in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{data: make(map[string][]byte)}
}

// PutObject keeps a copy of the snapshot and returns its URI.
func (s *SnapshotStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns the stored snapshot, if present.
func (s *SnapshotStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Len reports the number of stored snapshots.
func (s *SnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
