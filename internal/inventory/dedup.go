package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Guard remembers transitions that were already applied so redelivered
// messages are acknowledged without touching the ledger. Entries expire
// individually; the guard is never cleared wholesale.
type Guard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// RedisGuard survives restarts and is shared by every consumer instance.
type RedisGuard struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisGuard(client redis.Cmdable, prefix string, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *RedisGuard) Seen(ctx context.Context, key string) (bool, error) {
	n, err := g.client.Exists(ctx, g.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return n > 0, nil
}

func (g *RedisGuard) Mark(ctx context.Context, key string) error {
	if err := g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339), g.ttl).Err(); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}

// MemoryGuard is a process-local guard bounded by capacity and TTL. When
// full, the least recently marked key is evicted first.
type MemoryGuard struct {
	entries *expirable.LRU[string, time.Time]
}

func NewMemoryGuard(capacity int, ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{entries: expirable.NewLRU[string, time.Time](capacity, nil, ttl)}
}

func (g *MemoryGuard) Seen(_ context.Context, key string) (bool, error) {
	_, ok := g.entries.Peek(key)
	return ok, nil
}

func (g *MemoryGuard) Mark(_ context.Context, key string) error {
	g.entries.Add(key, time.Now())
	return nil
}

func (g *MemoryGuard) Len() int {
	return g.entries.Len()
}
