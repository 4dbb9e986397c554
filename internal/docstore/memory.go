package docstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of the Store interface.
// Useful for testing and development.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[string]string),
	}
}

// ReadContent returns the current content of a file.
func (m *MemoryStore) ReadContent(_ context.Context, fileID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	content, ok := m.files[fileID]
	if !ok {
		return "", ErrFileNotFound
	}

	return content, nil
}

// WriteContent replaces the content of an existing file.
func (m *MemoryStore) WriteContent(_ context.Context, fileID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[fileID]; !ok {
		return ErrFileNotFound
	}

	m.files[fileID] = content

	return nil
}

// Exists checks whether a file exists.
func (m *MemoryStore) Exists(_ context.Context, fileID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.files[fileID]

	return ok, nil
}

// CreateFile creates a file with initial content.
func (m *MemoryStore) CreateFile(_ context.Context, fileID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[fileID]; ok {
		return ErrFileExists
	}

	m.files[fileID] = content

	return nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
