package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProcessedStore records which inbound events have already been handled.
// Implementations must be safe for concurrent use. Keys are scoped per topic
// by the IdempotentHandler wrapper, so redeliveries of the same event on a
// different topic are processed independently.
type ProcessedStore interface {
	// Seen returns true if the key has already been processed.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark records the key as processed. Called after successful handling.
	Mark(ctx context.Context, key string) error
}

// EventIDExtractor pulls the idempotency key out of a raw message. Returning
// an empty string disables deduplication for that message.
type EventIDExtractor func(msg kafka.Message) string

// MemoryProcessedStore is an in-memory ProcessedStore. Suitable for tests and
// single-instance deployments; entries expire after the configured TTL to
// bound memory usage.
type MemoryProcessedStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	ttl     time.Duration
}

// NewMemoryProcessedStore creates an in-memory store with the given TTL.
// Expired entries are lazily cleaned up on access.
func NewMemoryProcessedStore(ttl time.Duration) *MemoryProcessedStore {
	return &MemoryProcessedStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
	}
}

// Seen checks if the key exists and is not expired.
func (s *MemoryProcessedStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	ts, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return false, nil
	}

	if time.Since(ts) > s.ttl {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return false, nil
	}

	return true, nil
}

// Mark records the key with the current timestamp.
func (s *MemoryProcessedStore) Mark(_ context.Context, key string) error {
	s.mu.Lock()
	s.entries[key] = time.Now()
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries in the store (including expired ones).
func (s *MemoryProcessedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// IdempotentHandler wraps a Handler with deduplication. If the message's
// event ID (per extractID) has already been processed for this topic, the
// message is acknowledged without invoking the inner handler.
func IdempotentHandler(store ProcessedStore, extractID EventIDExtractor, inner Handler, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		eventID := extractID(msg)
		if eventID == "" {
			// No event ID, cannot deduplicate.
			return inner(ctx, msg)
		}

		key := msg.Topic + ":" + eventID

		seen, err := store.Seen(ctx, key)
		if err != nil {
			logger.Warn("idempotency store lookup failed, processing anyway",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			// On store failure, process the message rather than risk data loss.
			return inner(ctx, msg)
		}

		if seen {
			logger.Debug("skipping duplicate event",
				slog.String("key", key),
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
			)
			return nil
		}

		if err := inner(ctx, msg); err != nil {
			return err
		}

		// Mark as processed only after successful handling; a crash between
		// handling and marking yields a redelivery, which downstream
		// operations tolerate (release is a no-op, reserve is caught by the
		// duplicate reservation check).
		if markErr := store.Mark(ctx, key); markErr != nil {
			logger.Warn("failed to record event in idempotency store",
				slog.String("key", key),
				slog.String("error", markErr.Error()),
			)
		}

		return nil
	}
}
