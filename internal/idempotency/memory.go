package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs tests and
// single-process deployments; the postgres store in internal/db is the
// durable implementation.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record // keyHash → record
}

// NewMemoryStore creates an empty in-memory idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

func (s *MemoryStore) CheckAndSet(ctx context.Context, key, tenantID string, ttl time.Duration, payloadHash string) (*Record, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	keyHash := HashKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.records[keyHash]; ok {
		if now.Before(existing.ExpiresAt) {
			if existing.PayloadHash != "" && payloadHash != "" && existing.PayloadHash != payloadHash {
				return nil, false, ErrConflict
			}
			return copyRecord(existing), false, nil
		}
		// Expired record; the key is free again.
		delete(s.records, keyHash)
	}

	rec := &Record{
		Key:         key,
		KeyHash:     keyHash,
		TenantID:    tenantID,
		Status:      StatusPending,
		PayloadHash: payloadHash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	s.records[keyHash] = rec
	return copyRecord(rec), true, nil
}

func (s *MemoryStore) Complete(ctx context.Context, keyHash, runID string, result map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[keyHash]
	if !ok {
		return ErrNotFound
	}
	if rec.Terminal() {
		return ErrTerminal
	}
	rec.Status = StatusCompleted
	rec.RunID = runID
	rec.Result = result
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, keyHash, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[keyHash]
	if !ok {
		return ErrNotFound
	}
	if rec.Terminal() {
		return ErrTerminal
	}
	rec.Status = StatusFailed
	rec.Error = errMsg
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[HashKey(key)]
	return ok && time.Now().Before(rec.ExpiresAt), nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[HashKey(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) Cleanup(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	deleted := 0
	for keyHash, rec := range s.records {
		if rec.ExpiresAt.After(now) {
			continue
		}
		delete(s.records, keyHash)
		deleted++
		if deleted == CleanupBatchSize {
			break
		}
	}
	return deleted, nil
}

// copyRecord returns a shallow copy so callers cannot mutate stored state.
func copyRecord(r *Record) *Record {
	cp := *r
	return &cp
}
