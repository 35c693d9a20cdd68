package cache

import (
	"context"
	"time"
)

const (
	idempotencyNamespace = "idempotency"
	rateNamespace        = "ratelimit"
)

// IdempotencyStore keeps replayable HTTP responses in Redis
type IdempotencyStore struct {
	cache *Cache
}

// NewIdempotencyStore creates a new idempotency store
func NewIdempotencyStore(c *Cache) *IdempotencyStore {
	return &IdempotencyStore{cache: c}
}

// Reserve claims k with an empty in-flight marker
func (s *IdempotencyStore) Reserve(ctx context.Context, k string, ttl time.Duration) (bool, error) {
	return s.cache.SetNX(ctx, idempotencyNamespace, k, "", ttl)
}

// Release drops the marker of a request that did not succeed
func (s *IdempotencyStore) Release(ctx context.Context, k string) error {
	return s.cache.Delete(ctx, idempotencyNamespace, k)
}

// Get returns a stored response
func (s *IdempotencyStore) Get(ctx context.Context, k string) ([]byte, bool, error) {
	v, found, err := s.cache.Get(ctx, idempotencyNamespace, k)
	if err != nil || !found {
		return nil, false, err
	}
	return []byte(v), true, nil
}

// Set stores a response, replacing the in-flight marker
func (s *IdempotencyStore) Set(ctx context.Context, k string, response []byte, ttl time.Duration) error {
	return s.cache.Set(ctx, idempotencyNamespace, k, response, ttl)
}

// FixedWindowLimiter allows Limit requests per key per Window
type FixedWindowLimiter struct {
	cache  *Cache
	Limit  int64
	Window time.Duration
}

// NewFixedWindowLimiter creates a new limiter
func NewFixedWindowLimiter(c *Cache, limit int64, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{cache: c, Limit: limit, Window: window}
}

// Allow counts the request and reports whether it is within the limit
func (l *FixedWindowLimiter) Allow(ctx context.Context, k string) (bool, error) {
	n, err := l.cache.IncrWithExpire(ctx, rateNamespace, k, l.Window)
	if err != nil {
		return false, err
	}
	return n <= l.Limit, nil
}
