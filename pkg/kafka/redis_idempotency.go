package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultProcessedKeyPrefix namespaces idempotency keys in Redis.
const defaultProcessedKeyPrefix = "inventory:processed:"

// RedisProcessedStore is a Redis-backed ProcessedStore for multi-instance
// deployments where consumers in the same group may fail over between
// processes. Keys expire after the configured TTL.
type RedisProcessedStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisProcessedStore creates a store using an existing Redis client.
func NewRedisProcessedStore(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisProcessedStore {
	if keyPrefix == "" {
		keyPrefix = defaultProcessedKeyPrefix
	}
	return &RedisProcessedStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// Seen checks whether the key has been marked.
func (s *RedisProcessedStore) Seen(ctx context.Context, key string) (bool, error) {
	exists, err := s.client.Exists(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("check processed key: %w", err)
	}
	return exists > 0, nil
}

// Mark records the key with a TTL. SET NX keeps the write atomic per key, so
// concurrent markers cannot extend each other's windows.
func (s *RedisProcessedStore) Mark(ctx context.Context, key string) error {
	if err := s.client.SetNX(ctx, s.keyPrefix+key, "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("mark processed key: %w", err)
	}
	return nil
}
