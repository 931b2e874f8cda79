package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/patchflow/worker/internal/lock"
)

// LockManager is the PostgreSQL lock.Manager. A lock is one row keyed by
// resource; acquisition is a single upsert that only steals expired leases,
// so two workers can never both hold a live lock.
type LockManager struct {
	client *Client
}

func NewLockManager(client *Client) *LockManager {
	return &LockManager{client: client}
}

var _ lock.Manager = (*LockManager)(nil)

// ─── Lock Queries ───

func (m *LockManager) Acquire(ctx context.Context, resource string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = lock.DefaultTTL
	}
	token := uuid.New().String()

	tag, err := m.client.pool.Exec(ctx, `
		INSERT INTO locks (resource, token, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource) DO UPDATE
		SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
		WHERE locks.expires_at <= now()
	`, resource, token, time.Now().Add(ttl))
	if err != nil {
		return "", fmt.Errorf("acquire lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", lock.ErrBusy
	}
	return token, nil
}

func (m *LockManager) Release(ctx context.Context, resource, token string) error {
	tag, err := m.client.pool.Exec(ctx, `
		DELETE FROM locks WHERE resource = $1 AND token = $2
	`, resource, token)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lock.ErrNotHeld
	}
	return nil
}

func (m *LockManager) Renew(ctx context.Context, resource, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = lock.DefaultTTL
	}
	tag, err := m.client.pool.Exec(ctx, `
		UPDATE locks SET expires_at = $3
		WHERE resource = $1 AND token = $2 AND expires_at > now()
	`, resource, token, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("renew lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lock.ErrNotHeld
	}
	return nil
}
