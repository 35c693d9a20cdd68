// Package cache is a namespaced Redis cache. It backs identity lookups,
// payment idempotency keys and per-owner rate limits.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis configuration. An empty Addrs disables the cache.
type Config struct {
	Addrs      []string      `envconfig:"REDIS_ADDRS"`
	Password   string        `envconfig:"REDIS_PASSWORD"`
	UseCluster bool          `envconfig:"REDIS_CLUSTER" default:"false"`
	TTL        time.Duration `envconfig:"REDIS_TTL" default:"10m"`
}

// Enabled reports whether a Redis address was configured.
func (c Config) Enabled() bool {
	return len(c.Addrs) > 0
}

// Cache wraps a Redis client; keys are "<namespace>:<key>".
type Cache struct {
	client redis.UniversalClient
}

// New connects to Redis, in cluster mode when configured with several addresses.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if !cfg.Enabled() {
		return nil, errors.New("no redis address configured")
	}

	var rdb redis.UniversalClient
	if cfg.UseCluster && len(cfg.Addrs) > 1 {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Addrs[0],
			Password: cfg.Password,
		})
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &Cache{client: rdb}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// Close closes the client
func (c *Cache) Close() error {
	return c.client.Close()
}

func key(namespace, k string) string {
	return namespace + ":" + k
}

// Set stores value under namespace:k
func (c *Cache) Set(ctx context.Context, namespace, k string, value interface{}, ttl time.Duration) error {
	return c.client.Set(ctx, key(namespace, k), value, ttl).Err()
}

// SetNX stores value under namespace:k only when the key is absent and
// reports whether it did.
func (c *Cache) SetNX(ctx context.Context, namespace, k string, value interface{}, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key(namespace, k), value, ttl).Result()
}

// Get returns the value under namespace:k and whether it was present.
func (c *Cache) Get(ctx context.Context, namespace, k string) (string, bool, error) {
	v, err := c.client.Get(ctx, key(namespace, k)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Delete removes the given keys from namespace
func (c *Cache) Delete(ctx context.Context, namespace string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = key(namespace, k)
	}
	return c.client.Del(ctx, full...).Err()
}

// AddToSet adds members to the set namespace:k and refreshes its TTL.
func (c *Cache) AddToSet(ctx context.Context, namespace, k string, ttl time.Duration, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	pipe := c.client.TxPipeline()
	pipe.SAdd(ctx, key(namespace, k), args...)
	pipe.Expire(ctx, key(namespace, k), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// SetMembers returns the members of the set namespace:k
func (c *Cache) SetMembers(ctx context.Context, namespace, k string) ([]string, error) {
	return c.client.SMembers(ctx, key(namespace, k)).Result()
}

// IncrWithExpire increments a counter, starting its TTL window on first use.
func (c *Cache) IncrWithExpire(ctx context.Context, namespace, k string, window time.Duration) (int64, error) {
	countKey := key(namespace, k)

	cnt, err := c.client.Incr(ctx, countKey).Result()
	if err != nil {
		return 0, err
	}

	if cnt == 1 {
		_ = c.client.Expire(ctx, countKey, window).Err()
	}

	return cnt, nil
}

// HealthCheck pings Redis
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
