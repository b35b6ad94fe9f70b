package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerMutualExclusion(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	lease, err := locker.TryLock(ctx, "lock:product:p1", 10*time.Millisecond, time.Second)
	require.NoError(t, err)

	_, err = locker.TryLock(ctx, "lock:product:p1", 20*time.Millisecond, time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired)

	// A different product is independent.
	other, err := locker.TryLock(ctx, "lock:product:p2", 10*time.Millisecond, time.Second)
	require.NoError(t, err)
	require.NoError(t, locker.Unlock(ctx, other))

	require.NoError(t, locker.Unlock(ctx, lease))
	_, err = locker.TryLock(ctx, "lock:product:p1", 10*time.Millisecond, time.Second)
	assert.NoError(t, err)
}

func TestMemoryLockerLeaseExpiry(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	stale, err := locker.TryLock(ctx, "lock:product:p1", 10*time.Millisecond, 20*time.Millisecond)
	require.NoError(t, err)

	// After expiry another caller can take the lock, and the stale lease's
	// unlock must not release it.
	time.Sleep(30 * time.Millisecond)
	fresh, err := locker.TryLock(ctx, "lock:product:p1", 10*time.Millisecond, time.Second)
	require.NoError(t, err)

	require.NoError(t, locker.Unlock(ctx, stale))
	_, err = locker.TryLock(ctx, "lock:product:p1", 10*time.Millisecond, time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired, "fresh holder still owns the lock")

	require.NoError(t, locker.Unlock(ctx, fresh))
}

func TestMemoryLockerWithLockSerializes(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(ctx, "lock:product:p1", time.Second, time.Second, func(context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen, "at most one holder at a time")
}

func TestMemoryLockerWithLockReleasesOnError(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	err := locker.WithLock(ctx, "lock:product:p1", 10*time.Millisecond, time.Second, func(context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = locker.TryLock(ctx, "lock:product:p1", 10*time.Millisecond, time.Second)
	assert.NoError(t, err, "lock released after fn error")
}
