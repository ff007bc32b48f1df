package snapshot

import (
	"context"
	"sync"
)

// Backend is the narrow async key-value contract the store persists
// through. Implementations exist over memory and SQLite; anything that can
// save, load, list, delete and clear JSON-portable records qualifies.
type Backend interface {
	// Save persists a record, overwriting any record with the same id.
	Save(ctx context.Context, rec *Record) error

	// Load retrieves a record by id.
	// Returns (nil, nil) if no record exists (no error).
	Load(ctx context.Context, id string) (*Record, error)

	// List returns all records in unspecified order.
	List(ctx context.Context) ([]*Record, error)

	// Delete removes a record by id. Returns false if the id was absent.
	Delete(ctx context.Context, id string) (bool, error)

	// Clear removes all records.
	Clear(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error
}

// MemoryBackend is a map-based Backend for tests and ephemeral use.
type MemoryBackend struct {
	mu   sync.RWMutex
	recs map[string]*Record
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{recs: make(map[string]*Record)}
}

// Save persists a record in memory.
func (m *MemoryBackend) Save(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.ID] = rec
	return nil
}

// Load retrieves a record by id, or (nil, nil) when absent.
func (m *MemoryBackend) Load(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recs[id], nil
}

// List returns all records.
func (m *MemoryBackend) List(_ context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, len(m.recs))
	for _, rec := range m.recs {
		out = append(out, rec)
	}
	return out, nil
}

// Delete removes a record, reporting whether it existed.
func (m *MemoryBackend) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.recs[id]
	delete(m.recs, id)
	return ok, nil
}

// Clear removes all records.
func (m *MemoryBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = make(map[string]*Record)
	return nil
}

// Close is a no-op for the memory backend.
func (m *MemoryBackend) Close() error { return nil }

// Compile-time interface check
var _ Backend = (*MemoryBackend)(nil)
