package auth

import (
	"context"
	"sync"
)

// grantKey uniquely identifies a participant-project grant.
type grantKey struct {
	participantID string
	projectID     string
}

// MemoryStore is an in-memory implementation of the Store interface.
type MemoryStore struct {
	mu     sync.RWMutex
	grants map[grantKey]Level
}

// NewMemoryStore creates a new in-memory grant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grants: make(map[grantKey]Level),
	}
}

// CheckAccess reports whether the participant holds any grant on the project.
func (m *MemoryStore) CheckAccess(_ context.Context, participantID, projectID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.grants[grantKey{participantID: participantID, projectID: projectID}]

	return ok, nil
}

// Grant gives a participant a level on a project.
func (m *MemoryStore) Grant(participantID, projectID string, level Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.grants[grantKey{participantID: participantID, projectID: projectID}] = level

	return nil
}

// Revoke removes a participant's grant on a project.
func (m *MemoryStore) Revoke(participantID, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := grantKey{participantID: participantID, projectID: projectID}

	if _, ok := m.grants[key]; !ok {
		return ErrGrantNotFound
	}

	delete(m.grants, key)

	return nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
