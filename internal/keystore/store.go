package keystore

import (
	"context"
	"sync"
	"time"
)

// KeyRecord is the persisted form of the two-generation key window.
type KeyRecord struct {
	Current   []byte    `json:"current"`
	Previous  []byte    `json:"previous,omitempty"`
	RotatedAt time.Time `json:"rotated_at"`
}

// SecretStore persists the key window so restarts (and sibling
// processes sharing the cache) see the same signing material.
type SecretStore interface {
	// LoadKeys returns the stored record, or (nil, nil) when none exists.
	LoadKeys(ctx context.Context) (*KeyRecord, error)

	// SaveKeys stores the record, replacing any previous one.
	SaveKeys(ctx context.Context, rec *KeyRecord) error
}

// MemoryStore is the in-process SecretStore used when no shared cache is
// configured. Keys then live only as long as the process.
type MemoryStore struct {
	mu  sync.Mutex
	rec *KeyRecord
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LoadKeys returns a copy of the stored record.
func (s *MemoryStore) LoadKeys(_ context.Context) (*KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, nil
	}
	rec := *s.rec
	return &rec, nil
}

// SaveKeys stores a copy of rec.
func (s *MemoryStore) SaveKeys(_ context.Context, rec *KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.rec = &cp
	return nil
}
