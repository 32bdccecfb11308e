package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// RedisStore shares window state across instances. Counters are INCR'd with a
// window-length TTL set on first hit (NX), so the window stays fixed and
// stale keys expire on their own.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Hit(ctx context.Context, key string, limit int, length time.Duration) (bool, int, time.Time, error) {
	fullKey := redisKeyPrefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, length)
	ttlCmd := pipe.PTTL(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, err
	}

	count := int(incr.Val())
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = length
	}
	reset := time.Now().Add(ttl)

	if count > limit {
		return false, 0, reset, nil
	}
	return true, limit - count, reset, nil
}
