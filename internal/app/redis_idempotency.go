package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyGuard remembers which purchase events were already applied so
// redeliveries skip the database. Keys are recorded only after the event was
// applied; the grant and enrollment uniqueness constraints remain the source
// of truth.
type IdempotencyGuard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string) error
}

// RedisIdempotencyGuard implements IdempotencyGuard with keys that expire after a TTL.
type RedisIdempotencyGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisIdempotencyGuard(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisIdempotencyGuard {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "sports:idempotency"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyGuard{client: client, prefix: trimmedPrefix, ttl: ttl}
}

func (g *RedisIdempotencyGuard) key(key string) string {
	return fmt.Sprintf("%s:%s", g.prefix, key)
}

// Seen reports whether key was remembered within the TTL. Without a client
// nothing is ever seen.
func (g *RedisIdempotencyGuard) Seen(ctx context.Context, key string) (bool, error) {
	if g == nil || g.client == nil {
		return false, nil
	}
	n, err := g.client.Exists(ctx, g.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remember records key as applied.
func (g *RedisIdempotencyGuard) Remember(ctx context.Context, key string) error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Set(ctx, g.key(key), time.Now().UTC().Format(time.RFC3339), g.ttl).Err()
}

type noopIdempotencyGuard struct{}

func (noopIdempotencyGuard) Seen(ctx context.Context, key string) (bool, error) { return false, nil }
func (noopIdempotencyGuard) Remember(ctx context.Context, key string) error     { return nil }
