package cache

import (
	"context"
	"errors"
	"time"

	redisWrapper "github.com/loomery/loom/common/redis"
)

// RedisStore is the L2 distributed backend over the shared Redis client.
// All keys live under a prefix so Clear only touches cache entries.
type RedisStore struct {
	client *redisWrapper.Client
	prefix string
}

// NewRedisStore creates an L2 store with the given key prefix
func NewRedisStore(client *redisWrapper.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "cache:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Get retrieves a value, reporting misses without error
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key)
	if errors.Is(err, redisWrapper.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(val), true, nil
}

// Set writes a value with TTL
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.SetWithExpiry(ctx, s.prefix+key, string(value), ttl)
}

// Delete removes a key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Delete(ctx, s.prefix+key)
}

// Clear removes every key under the store's prefix
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.DeleteByPrefix(ctx, s.prefix)
}
