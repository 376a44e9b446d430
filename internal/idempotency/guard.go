package idempotency

import (
	"context" // Request contexts
	"time"    // Key lifetime

	"github.com/redis/go-redis/v9" // Redis client
)

const keyPrefix = "x402:settlement:"

// RedisGuard marks settlement keys as in flight with SET NX and a TTL.
type RedisGuard struct {
	rdb *redis.Client // Redis client
	ttl time.Duration // Marker lifetime, outlives a settle call
}

// NewRedisGuard returns a guard whose markers expire after ttl.
func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

// Acquire returns true if the caller now owns key.
func (g *RedisGuard) Acquire(ctx context.Context, key string) (bool, error) {
	return g.rdb.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339Nano), g.ttl).Result()
}

// Release drops the marker for key.
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.rdb.Del(ctx, keyPrefix+key).Err()
}

// NopGuard always grants ownership. Used when Redis is not configured.
type NopGuard struct{}

func (NopGuard) Acquire(context.Context, string) (bool, error) { return true, nil }

func (NopGuard) Release(context.Context, string) error { return nil }
