package idempotency

import (
	"context"
	"errors"
	"time"
)

// Record status constants
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// DefaultTTL is applied when CheckAndSet is called with a zero TTL.
const DefaultTTL = 24 * time.Hour

// CleanupBatchSize bounds how many expired records a single Cleanup call
// may delete. Callers loop Cleanup until a batch comes back short.
const CleanupBatchSize = 500

// MaxCleanupIterations bounds the RunCleanup loop so one invocation cannot
// run unbounded against a huge backlog.
const MaxCleanupIterations = 20

var (
	// ErrConflict is returned when CheckAndSet sees an existing record whose
	// payload hash differs from the supplied one. Two semantically different
	// requests collided on the same key; the caller must not treat this as a
	// duplicate.
	ErrConflict = errors.New("idempotency: payload hash mismatch")

	// ErrNotFound is returned by Complete/Fail for an unknown key hash.
	// It indicates a caller bug, not transient state.
	ErrNotFound = errors.New("idempotency: record not found")

	// ErrTerminal is returned by Complete/Fail when the record has already
	// left the pending state. A record transitions to a terminal status at
	// most once; the losing writer must read the stored outcome instead of
	// overwriting it.
	ErrTerminal = errors.New("idempotency: record already terminal")
)

// Record is one stored idempotency entry. For a fixed KeyHash at most one
// record exists at any time, and PayloadHash never changes once set.
type Record struct {
	Key         string         `json:"key"`
	KeyHash     string         `json:"key_hash"`
	TenantID    string         `json:"tenant_id"`
	Status      string         `json:"status"` // pending / completed / failed
	PayloadHash string         `json:"payload_hash,omitempty"`
	RunID       string         `json:"run_id,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// Terminal reports whether the record has left the pending state.
func (r *Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Store is the durable keyed record store that gives exactly-once effect to
// at-least-once delivery. CheckAndSet must be atomic: under N concurrent
// calls with the same key, exactly one observes isNew = true.
type Store interface {
	// CheckAndSet creates a pending record for key if none exists and returns
	// (record, true). If a record already exists it is returned with
	// isNew = false, unless its payload hash is set and differs from
	// payloadHash, in which case ErrConflict is returned.
	CheckAndSet(ctx context.Context, key, tenantID string, ttl time.Duration, payloadHash string) (*Record, bool, error)

	// Complete transitions a pending record to completed, linking it to the
	// execution that did the work. ErrNotFound for an unknown key hash,
	// ErrTerminal if the record already reached a terminal status.
	Complete(ctx context.Context, keyHash, runID string, result map[string]any) error

	// Fail transitions a pending record to failed with an error message.
	// Same error contract as Complete.
	Fail(ctx context.Context, keyHash, errMsg string) error

	// Exists reports whether a record exists for the logical key.
	Exists(ctx context.Context, key string) (bool, error)

	// Get returns the record for the logical key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Record, error)

	// Cleanup deletes records whose expiry has passed, at most
	// CleanupBatchSize per call, and returns how many were deleted.
	Cleanup(ctx context.Context) (int, error)
}

// CleanupReport summarizes one RunCleanup invocation.
type CleanupReport struct {
	TotalDeleted int `json:"totalDeleted"`
	BatchCount   int `json:"batchCount"`
}

// RunCleanup drains expired records in bounded batches. It stops as soon as
// a batch returns fewer than CleanupBatchSize deletions, or after
// MaxCleanupIterations batches, whichever comes first. Safe to call
// concurrently and repeatedly: each deletion is independently committed.
func RunCleanup(ctx context.Context, store Store) (CleanupReport, error) {
	var report CleanupReport
	for i := 0; i < MaxCleanupIterations; i++ {
		deleted, err := store.Cleanup(ctx)
		if err != nil {
			return report, err
		}
		report.TotalDeleted += deleted
		report.BatchCount++
		if deleted < CleanupBatchSize {
			break
		}
	}
	return report, nil
}
