package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is an in-process Locker with the same lease semantics as the
// Redis implementation. Used in tests and single-node setups.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryEntry)}
}

func (l *MemoryLocker) tryAcquire(key, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.locks[key]; ok && time.Now().Before(e.expiresAt) {
		return false
	}
	l.locks[key] = memoryEntry{token: token, expiresAt: time.Now().Add(ttl)}
	return true
}

func (l *MemoryLocker) TryLock(ctx context.Context, key string, wait, ttl time.Duration) (*Lease, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(wait)

	for {
		if l.tryAcquire(key, token, ttl) {
			return &Lease{Key: key, Token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s after %s", ErrNotAcquired, key, wait)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (l *MemoryLocker) Unlock(_ context.Context, lease *Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.locks[lease.Key]; ok && e.token == lease.Token {
		delete(l.locks, lease.Key)
	}
	return nil
}

func (l *MemoryLocker) WithLock(ctx context.Context, key string, wait, ttl time.Duration, fn func(ctx context.Context) error) error {
	lease, err := l.TryLock(ctx, key, wait, ttl)
	if err != nil {
		return err
	}
	defer func() {
		_ = l.Unlock(context.WithoutCancel(ctx), lease)
	}()
	return fn(ctx)
}
