package resource

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrNoLoader is returned by Fetch when nothing is cached and no loader was
// configured.
var ErrNoLoader = errors.New("resource: no value cached and no loader configured")

// Cached is a lazily loaded, TTL-validated, persistently cached value.
//
// Fetch returns the stored value when present, decodable, and unexpired;
// otherwise it invokes the loader, stores the result, and returns it.
// Concurrent misses on the same key may each invoke the loader; the last
// writer wins. Callers must not assume exactly-once loading under
// contention.
type Cached[T any] struct {
	store Store
	key   string

	load      func(ctx context.Context) (T, error)
	ttl       func(v T) time.Duration
	isExpired func(v T) bool

	mu  sync.Mutex
	cur *T
}

func New[T any](store Store, key string) *Cached[T] {
	return &Cached[T]{store: store, key: key}
}

// WithLoader sets the function that computes a fresh value on miss. Loader
// errors propagate to callers unchanged.
func (c *Cached[T]) WithLoader(load func(ctx context.Context) (T, error)) *Cached[T] {
	c.load = load
	return c
}

// WithTTL sets the store-level lifetime of freshly written values. A zero
// duration from the function means no expiry.
func (c *Cached[T]) WithTTL(ttl func(v T) time.Duration) *Cached[T] {
	c.ttl = ttl
	return c
}

// WithExpiry sets the read gate. Unset means stored values never expire and
// are only removed by explicit invalidation.
func (c *Cached[T]) WithExpiry(isExpired func(v T) bool) *Cached[T] {
	c.isExpired = isExpired
	return c
}

// CacheKey returns the store key this value lives under.
func (c *Cached[T]) CacheKey() string { return c.key }

// DataKey is the companion key for the free-form attribute bag.
func (c *Cached[T]) DataKey() string { return c.key + ":data" }

func (c *Cached[T]) expired(v T) bool {
	return c.isExpired != nil && c.isExpired(v)
}

// Resource returns the in-process memo when still valid, fetching
// otherwise.
func (c *Cached[T]) Resource(ctx context.Context) (T, error) {
	c.mu.Lock()
	if c.cur != nil && !c.expired(*c.cur) {
		v := *c.cur
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()
	return c.Fetch(ctx)
}

// Fetch reads through the store, loading and persisting on miss.
func (c *Cached[T]) Fetch(ctx context.Context) (T, error) {
	var zero T
	v, ok, err := c.Lookup(ctx)
	if err != nil {
		return zero, err
	}
	if ok {
		c.memo(v)
		return v, nil
	}
	if c.load == nil {
		return zero, ErrNoLoader
	}
	v, err = c.load(ctx)
	if err != nil {
		return zero, err
	}
	if err := c.Save(ctx, v, 0); err != nil {
		return zero, err
	}
	return v, nil
}

// Lookup reads the stored value without ever loading. Undecodable and
// expired entries read as absent.
func (c *Cached[T]) Lookup(ctx context.Context) (T, bool, error) {
	var zero T
	raw, ok, err := c.store.Get(ctx, c.key)
	if err != nil || !ok {
		return zero, false, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, nil
	}
	if c.expired(v) {
		return zero, false, nil
	}
	return v, true, nil
}

// Save writes v directly, bypassing the read path. A non-positive ttl falls
// back to the configured TTL function.
func (c *Cached[T]) Save(ctx context.Context, v T, ttl time.Duration) error {
	if ttl <= 0 && c.ttl != nil {
		ttl = c.ttl(v)
	}
	if ttl < 0 {
		ttl = 0
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, c.key, raw, ttl); err != nil {
		return err
	}
	c.memo(v)
	return nil
}

// Delete removes the value but not its attribute bag.
func (c *Cached[T]) Delete(ctx context.Context) error {
	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()
	return c.store.Delete(ctx, c.key)
}

func (c *Cached[T]) memo(v T) {
	c.mu.Lock()
	c.cur = &v
	c.mu.Unlock()
}

// SaveData persists the attribute bag beside the value under the same ttl
// semantics.
func (c *Cached[T]) SaveData(ctx context.Context, data map[string]any, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	return c.store.Set(ctx, c.DataKey(), raw, ttl)
}

// LoadData returns the attribute bag, empty when absent or undecodable.
func (c *Cached[T]) LoadData(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	raw, ok, err := c.store.Get(ctx, c.DataKey())
	if err != nil || !ok {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}, nil
	}
	return out, nil
}

// DeleteData removes the attribute bag only.
func (c *Cached[T]) DeleteData(ctx context.Context) error {
	return c.store.Delete(ctx, c.DataKey())
}
