package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/patchflow/worker/internal/idempotency"
)

// IdempotencyStore is the PostgreSQL idempotency.Store. The single-winner
// guarantee rides on the key_hash primary key: concurrent CheckAndSet calls
// race on one INSERT ... ON CONFLICT DO NOTHING and exactly one wins.
type IdempotencyStore struct {
	client *Client
}

func NewIdempotencyStore(client *Client) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

// ─── Idempotency Queries ───

func (s *IdempotencyStore) CheckAndSet(ctx context.Context, key, tenantID string, ttl time.Duration, payloadHash string) (*idempotency.Record, bool, error) {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	keyHash := idempotency.HashKey(key)

	// Two rounds at most: the second runs only when the first lost to a
	// record that turned out to be expired.
	for attempt := 0; attempt < 2; attempt++ {
		tag, err := s.client.pool.Exec(ctx, `
			INSERT INTO idempotency_keys (key_hash, key, tenant_id, status, payload_hash, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, now(), $6)
			ON CONFLICT (key_hash) DO NOTHING
		`, keyHash, key, tenantID, idempotency.StatusPending, payloadHash, time.Now().Add(ttl))
		if err != nil {
			return nil, false, fmt.Errorf("insert idempotency key: %w", err)
		}

		rec, err := s.getByHash(ctx, keyHash)
		if err != nil {
			return nil, false, err
		}

		if tag.RowsAffected() == 1 {
			return rec, true, nil
		}

		if time.Now().After(rec.ExpiresAt) {
			// Expired loser row; clear it and take another shot.
			if _, err := s.client.pool.Exec(ctx, `
				DELETE FROM idempotency_keys WHERE key_hash = $1 AND expires_at <= now()
			`, keyHash); err != nil {
				return nil, false, fmt.Errorf("delete expired idempotency key: %w", err)
			}
			continue
		}

		if payloadHash != "" && rec.PayloadHash != "" && rec.PayloadHash != payloadHash {
			return nil, false, idempotency.ErrConflict
		}
		return rec, false, nil
	}
	return nil, false, fmt.Errorf("check and set did not settle for key: %s", key)
}

func (s *IdempotencyStore) Complete(ctx context.Context, keyHash, runID string, result map[string]any) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}

	// The status guard makes the terminal transition single-shot: a late
	// writer whose lock expired cannot overwrite the recorded outcome.
	tag, err := s.client.pool.Exec(ctx, `
		UPDATE idempotency_keys
		SET status = $2, run_id = $3, result = $4
		WHERE key_hash = $1 AND status = $5
	`, keyHash, idempotency.StatusCompleted, runID, resultJSON, idempotency.StatusPending)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.terminalOrNotFound(ctx, keyHash)
	}
	return nil
}

func (s *IdempotencyStore) Fail(ctx context.Context, keyHash, errMsg string) error {
	tag, err := s.client.pool.Exec(ctx, `
		UPDATE idempotency_keys
		SET status = $2, error = $3
		WHERE key_hash = $1 AND status = $4
	`, keyHash, idempotency.StatusFailed, errMsg, idempotency.StatusPending)
	if err != nil {
		return fmt.Errorf("fail idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.terminalOrNotFound(ctx, keyHash)
	}
	return nil
}

// terminalOrNotFound disambiguates a zero-row guarded update: the record is
// either gone or already terminal.
func (s *IdempotencyStore) terminalOrNotFound(ctx context.Context, keyHash string) error {
	rec, err := s.getByHash(ctx, keyHash)
	if err != nil {
		return err
	}
	if rec.Terminal() {
		return idempotency.ErrTerminal
	}
	return idempotency.ErrNotFound
}

func (s *IdempotencyStore) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.client.pool.QueryRow(ctx, `
		SELECT 1 FROM idempotency_keys
		WHERE key_hash = $1 AND expires_at > now()
	`, idempotency.HashKey(key)).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check idempotency key: %w", err)
	}
	return true, nil
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	return s.getByHash(ctx, idempotency.HashKey(key))
}

func (s *IdempotencyStore) getByHash(ctx context.Context, keyHash string) (*idempotency.Record, error) {
	row := s.client.pool.QueryRow(ctx, `
		SELECT key, key_hash, tenant_id, status, payload_hash, run_id, result, error, created_at, expires_at
		FROM idempotency_keys WHERE key_hash = $1
	`, keyHash)

	var rec idempotency.Record
	var resultJSON []byte
	err := row.Scan(&rec.Key, &rec.KeyHash, &rec.TenantID, &rec.Status, &rec.PayloadHash,
		&rec.RunID, &resultJSON, &rec.Error, &rec.CreatedAt, &rec.ExpiresAt)
	if err == pgx.ErrNoRows {
		return nil, idempotency.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &rec.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return &rec, nil
}

// Cleanup deletes one bounded batch of expired records.
func (s *IdempotencyStore) Cleanup(ctx context.Context) (int, error) {
	tag, err := s.client.pool.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE key_hash IN (
			SELECT key_hash FROM idempotency_keys
			WHERE expires_at <= now()
			LIMIT $1
		)
	`, idempotency.CleanupBatchSize)
	if err != nil {
		return 0, fmt.Errorf("cleanup idempotency keys: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
