package mfa

import (
	"context"
	"sync"
)

// MemoryStore is an in-process SecretStore for tests and single-node setups.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*memoryEnrollment
}

type memoryEnrollment struct {
	secret      []byte
	lastCounter int64
	codes       map[[32]byte]bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*memoryEnrollment)}
}

func (m *MemoryStore) GetEnrollment(_ context.Context, userID string) (Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.users[userID]
	if !ok {
		return Enrollment{}, ErrNotEnrolled
	}
	return Enrollment{Secret: append([]byte(nil), e.secret...), LastCounter: e.lastCounter}, nil
}

func (m *MemoryStore) SaveEnrollment(_ context.Context, userID string, secret []byte, backupHashes [][32]byte) error {
	codes := make(map[[32]byte]bool, len(backupHashes))
	for _, h := range backupHashes {
		codes[h] = false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = &memoryEnrollment{
		secret:      append([]byte(nil), secret...),
		lastCounter: -1,
		codes:       codes,
	}
	return nil
}

func (m *MemoryStore) AdvanceCounter(_ context.Context, userID string, counter int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.users[userID]
	if !ok || counter <= e.lastCounter {
		return false, nil
	}
	e.lastCounter = counter
	return true, nil
}

func (m *MemoryStore) ConsumeBackupCode(_ context.Context, userID string, hash [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.users[userID]
	if !ok {
		return false, nil
	}
	used, exists := e.codes[hash]
	if !exists || used {
		return false, nil
	}
	e.codes[hash] = true
	return true, nil
}
