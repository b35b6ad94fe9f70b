package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only if the caller still owns it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// renewScript extends the lease only if the caller still owns it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker implements Locker on a single Redis instance with SET NX plus
// a random token, compare-and-delete release, and a watchdog that renews the
// lease while WithLock's fn is running.
type RedisLocker struct {
	client       *redis.Client
	logger       *slog.Logger
	pollInterval time.Duration
	watchdog     bool
}

func NewRedisLocker(client *redis.Client, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		client:       client,
		logger:       logger,
		pollInterval: 50 * time.Millisecond,
		watchdog:     true,
	}
}

// WithoutWatchdog disables lease renewal, leaving the initial ttl as a hard
// deadline. Tests use this to exercise lease expiry without racing the
// renewal loop.
func (l *RedisLocker) WithoutWatchdog() *RedisLocker {
	l.watchdog = false
	return l
}

// TryLock polls SET NX until acquired or the wait window closes.
func (l *RedisLocker) TryLock(ctx context.Context, key string, wait, ttl time.Duration) (*Lease, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return &Lease{Key: key, Token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s after %s", ErrNotAcquired, key, wait)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-time.After(l.pollInterval):
		}
	}
}

// Unlock releases the lease via compare-and-delete. A lease that already
// expired or was taken over is left alone.
func (l *RedisLocker) Unlock(ctx context.Context, lease *Lease) error {
	released, err := unlockScript.Run(ctx, l.client, []string{lease.Key}, lease.Token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", lease.Key, err)
	}
	if released == 0 {
		l.logger.WarnContext(ctx, "lock already expired or taken over",
			slog.String("key", lease.Key))
	}
	return nil
}

// WithLock acquires key, runs fn under a renewal watchdog, and releases on
// all exit paths. The watchdog renews at a third of the ttl so a healthy fn
// never loses the lease mid-flight; when disabled the ttl is the hard
// deadline for fn.
func (l *RedisLocker) WithLock(ctx context.Context, key string, wait, ttl time.Duration, fn func(ctx context.Context) error) error {
	lease, err := l.TryLock(ctx, key, wait, ttl)
	if err != nil {
		return err
	}

	watchdogCtx, stopWatchdog := context.WithCancel(ctx)
	done := make(chan struct{})
	if l.watchdog {
		go func() {
			defer close(done)
			l.renewLoop(watchdogCtx, lease, ttl)
		}()
	} else {
		close(done)
	}

	defer func() {
		stopWatchdog()
		<-done
		// Release with a fresh context so an already-cancelled request
		// context cannot leave the lock dangling until the lease expires.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := l.Unlock(releaseCtx, lease); err != nil {
			l.logger.ErrorContext(releaseCtx, "failed to release lock",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}()

	return fn(ctx)
}

func (l *RedisLocker) renewLoop(ctx context.Context, lease *Lease, ttl time.Duration) {
	interval := ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewed, err := renewScript.Run(ctx, l.client, []string{lease.Key}, lease.Token, ttl.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.WarnContext(ctx, "lock renewal failed",
					slog.String("key", lease.Key),
					slog.String("error", err.Error()))
				continue
			}
			if renewed == 0 {
				l.logger.WarnContext(ctx, "lost lock lease during renewal",
					slog.String("key", lease.Key))
				return
			}
		}
	}
}
