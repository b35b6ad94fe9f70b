// Package lock provides per-product mutual exclusion. Production uses the
// Redis implementation; tests use the in-memory one. Lock acquisition hands
// back a lease with a fencing token so only the holder can release.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when the lock could not be acquired within the
// wait window.
var ErrNotAcquired = errors.New("lock not acquired")

// Lease is proof of lock ownership. The token fences the release so a
// holder whose lease expired cannot release a lock someone else now holds.
type Lease struct {
	Key   string
	Token string
}

// Locker acquires and releases named locks.
type Locker interface {
	// TryLock attempts to acquire key, polling until the wait window closes.
	// The lease expires after ttl unless renewed.
	TryLock(ctx context.Context, key string, wait, ttl time.Duration) (*Lease, error)

	// Unlock releases the lease. Releasing an expired or foreign lease is a
	// no-op.
	Unlock(ctx context.Context, lease *Lease) error

	// WithLock runs fn while holding key, renewing the lease for the
	// duration of fn, and releases on every exit path including panic.
	WithLock(ctx context.Context, key string, wait, ttl time.Duration, fn func(ctx context.Context) error) error
}

// ProductKey returns the lock key for a product.
func ProductKey(productID string) string {
	return "lock:product:" + productID
}
