package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type lease struct {
	token     string
	expiresAt time.Time
}

// MemoryManager is a mutex-guarded in-memory Manager for tests and
// single-process deployments. The postgres manager in internal/db is the
// cross-replica implementation.
type MemoryManager struct {
	mu     sync.Mutex
	leases map[string]lease // resource → lease
}

// NewMemoryManager creates an empty in-memory lock manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		leases: make(map[string]lease),
	}
}

func (m *MemoryManager) Acquire(ctx context.Context, resource string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if l, ok := m.leases[resource]; ok && l.expiresAt.After(now) {
		return "", ErrBusy
	}

	token := uuid.New().String()
	m.leases[resource] = lease{token: token, expiresAt: now.Add(ttl)}
	return token, nil
}

func (m *MemoryManager) Release(ctx context.Context, resource, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[resource]
	if !ok || l.token != token || !l.expiresAt.After(time.Now()) {
		return ErrNotHeld
	}
	delete(m.leases, resource)
	return nil
}

func (m *MemoryManager) Renew(ctx context.Context, resource, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[resource]
	if !ok || l.token != token || !l.expiresAt.After(time.Now()) {
		return ErrNotHeld
	}
	l.expiresAt = time.Now().Add(ttl)
	m.leases[resource] = l
	return nil
}
