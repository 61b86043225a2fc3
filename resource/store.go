package resource

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the persistence contract cached resources run on: a flat
// key/value namespace with optional per-key TTLs. Implementations must be
// safe for concurrent use; the cache layer does not add single-flight
// deduplication on top.
type Store interface {
	// Get returns the raw value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set writes the value; a zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RedisStore implements Store on a Redis namespace. Every key is addressed
// as "{base}:{key}".
type RedisStore struct {
	client redis.UniversalClient
	base   string
}

func NewRedisStore(client redis.UniversalClient, base string) *RedisStore {
	return &RedisStore{client: client, base: base}
}

// Child returns a store scoped one namespace segment deeper.
func (s *RedisStore) Child(name string) *RedisStore {
	return &RedisStore{client: s.client, base: s.base + "." + name}
}

// Base returns the namespace this store writes under.
func (s *RedisStore) Base() string { return s.base }

func (s *RedisStore) fullKey(key string) string {
	return s.base + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.fullKey(key), value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.fullKey(k)
	}
	return s.client.Del(ctx, full...).Err()
}

// BaseKey composes the per-flow namespace "{root}.{app}.{env}.{flow}".
// An empty app falls back to "default", empty segments collapse, spaces
// become underscores, and the result is lowercased so deployments sharing
// a Redis never collide across apps or environments.
func BaseKey(root, app, env, flow string) string {
	if app == "" {
		app = "default"
	}
	parts := []string{root, app, env, flow}
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	key := strings.Join(kept, ".")
	key = strings.ReplaceAll(key, " ", "_")
	for strings.Contains(key, "..") {
		key = strings.ReplaceAll(key, "..", ".")
	}
	return strings.ToLower(key)
}
