// Package lock provides lease-based distributed mutual exclusion. A lock
// serializes execution of one logical job across worker replicas that might
// receive the same broker redelivery simultaneously. It is defense in depth
// alongside the idempotency store, not a substitute for it: idempotency
// guarantees correctness of the stored outcome, the lock avoids two replicas
// racing to write conflicting partial state.
package lock

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is the lease duration applied when Acquire is called with a
// zero TTL. It must exceed the expected maximum job duration while staying
// small enough that a crashed holder's lock is reclaimable quickly.
const DefaultTTL = time.Minute

var (
	// ErrBusy is returned when the resource is held by a live lease.
	// Always retryable after backoff.
	ErrBusy = errors.New("lock: resource busy")

	// ErrNotHeld is returned by Release/Renew when the resource is not held
	// with the given token: either the lease expired and someone else took
	// it, or the caller passed a stale token.
	ErrNotHeld = errors.New("lock: not held by this token")
)

// Manager is a durable lease-based lock. Acquisition must be atomic across
// replicas; a lease whose TTL has elapsed is indistinguishable from "not
// held" to any other caller, so no explicit liveness protocol is needed;
// long-running holders renew periodically instead.
type Manager interface {
	// Acquire takes the lease on resource for ttl and returns the fencing
	// token required to release or renew it. ErrBusy if held.
	Acquire(ctx context.Context, resource string, ttl time.Duration) (token string, err error)

	// Release drops the lease. ErrNotHeld on token mismatch or expiry.
	Release(ctx context.Context, resource, token string) error

	// Renew extends the lease by ttl from now. ErrNotHeld on token mismatch
	// or expiry.
	Renew(ctx context.Context, resource, token string, ttl time.Duration) error
}
