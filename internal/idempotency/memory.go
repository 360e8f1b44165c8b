package idempotency

import (
	"context"
	"sync"
)

// MemoryStore is the reference in-process replay store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	locks   KeyedLocks
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Load(_ context.Context, scopeKey string) (*Record, error) {
	s.mu.RLock()
	rec, ok := s.records[scopeKey]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec)
}

func (s *MemoryStore) Save(_ context.Context, scopeKey string, rec Record) error {
	stored, err := cloneRecord(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[scopeKey]; ok && liveAt(&existing, rec.CreatedAt) {
		return ErrScopeTaken
	}
	s.records[scopeKey] = *stored
	return nil
}

func (s *MemoryStore) LockScope(ctx context.Context, scopeKey string) (func(), error) {
	return s.locks.Lock(ctx, scopeKey)
}

// Len returns the number of stored records, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cloneRecord(rec Record) (*Record, error) {
	out := rec
	if rec.ResultEnvelope != nil {
		env, err := rec.ResultEnvelope.Clone()
		if err != nil {
			return nil, err
		}
		out.ResultEnvelope = env
	}
	return &out, nil
}
