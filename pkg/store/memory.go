package store

import "sync"

// MemoryStore is an in-memory Store implementation.
// Useful for testing and development. Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Load returns the record for key.
func (m *MemoryStore) Load(key string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	return rec, ok, nil
}

// Save stores or replaces the record for key.
func (m *MemoryStore) Save(key string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[key] = rec
	return nil
}

// Delete removes the record for key.
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, key)
	return nil
}

var _ Store = (*MemoryStore)(nil)
