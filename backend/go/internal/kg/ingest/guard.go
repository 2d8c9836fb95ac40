package ingest

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Guard is the fast duplicate check in front of the receipt table.
type Guard interface {
	// Claim reports false when key was claimed within the guard's TTL.
	Claim(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// RedisGuard claims keys with SET NX and a TTL.
type RedisGuard struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisGuard(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisGuard {
	return &RedisGuard{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	return g.rdb.SetNX(ctx, g.prefix+key, 1, g.ttl).Result()
}

func (g *RedisGuard) Forget(ctx context.Context, key string) error {
	return g.rdb.Del(ctx, g.prefix+key).Err()
}
