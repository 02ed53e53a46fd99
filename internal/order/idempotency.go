package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyCache maps a caller-supplied dedup key to an order identifier.
// It only accelerates lookups; the order store stays authoritative.
type IdempotencyCache interface {
	Lookup(ctx context.Context, key string) (orderID string, found bool, err error)
	Remember(ctx context.Context, key, orderID string) error
	Forget(ctx context.Context, key string) error
}

type RedisIdempotencyCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisIdempotencyCache(client redis.Cmdable, prefix string, ttl time.Duration) *RedisIdempotencyCache {
	return &RedisIdempotencyCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisIdempotencyCache) Lookup(ctx context.Context, key string) (string, bool, error) {
	orderID, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return orderID, true, nil
}

func (c *RedisIdempotencyCache) Remember(ctx context.Context, key, orderID string) error {
	if err := c.client.Set(ctx, c.prefix+key, orderID, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func (c *RedisIdempotencyCache) Forget(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}
