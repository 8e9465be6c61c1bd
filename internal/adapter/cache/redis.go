// Package cache implements the Redis-backed request-dedup cache used by C4
// (the rate-limit-aware API client) and, optionally, as the response
// memoization backing store for C2 (the callback TCP server), per
// SPEC_FULL.md's ambient-stack layer table.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the minimal key/value surface both collaborators need: look up a
// previously cached value, or write one with a TTL. It is implemented here by
// RedisStore and is deliberately small enough that callers can fall back to
// an in-memory map when no Store is configured.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisStore backs Store with a github.com/redis/go-redis/v9 client, the same
// client the teacher uses for its Lua-scripted rate limiter
// (internal/service/ratelimiter/redis_lua_limiter.go).
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a RedisStore dialing redisURL (a redis:// DSN,
// matching the asynq queue's ParseRedisURI convention). keyPrefix namespaces
// keys so the dedup cache and the memoization backing store can share one
// Redis instance without colliding.
func NewRedisStore(redisURL, keyPrefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opt), prefix: keyPrefix}, nil
}

// NewRedisStoreFromClient wraps an already-constructed client, letting
// callers share one connection pool across multiple Stores with distinct
// prefixes.
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (s *RedisStore) namespaced(key string) string {
	return s.prefix + key
}

// Get returns the cached value for key, or ok=false on a cache miss.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.namespaced(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return val, true, nil
}

// Set writes value under key with ttl. A zero ttl means no expiry, matching
// spec.md §9's "adopt unbounded semantics" note for the dedup cache (ttl is
// still exposed so callers can bound it in deployments that want eviction).
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.namespaced(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client's connections.
func (s *RedisStore) Close() error { return s.client.Close() }

var _ Store = (*RedisStore)(nil)
