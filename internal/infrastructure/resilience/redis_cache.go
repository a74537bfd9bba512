package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisKeyPrefix namespaces all response-cache keys in the shared store
const redisKeyPrefix = "respcache:"

// RedisResponseCache implements ResponseCache on the durable key-value
// store. Suitable for multi-instance deployments where cached responses and
// invalidations must be shared. The store provides atomicity per key; no
// in-process locking is needed.
//
// Backend outages degrade to misses on the read path and to no-ops on the
// write path, logged as warnings. An unreachable cache must never fail an
// outbound call.
type RedisResponseCache struct {
	client *redis.Client
	logger *zap.Logger

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

// NewRedisResponseCache creates a response cache backed by an existing
// Redis client. The client is shared with other components and not closed
// by this cache.
func NewRedisResponseCache(client *redis.Client, logger *zap.Logger) *RedisResponseCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisResponseCache{
		client: client,
		logger: logger,
	}
}

// Get returns the cached value for key. Any backend error is a forced miss.
func (c *RedisResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("response cache read failed, treating as miss",
				zap.Error(err),
			)
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return val, true
}

// Set stores value under key with ttl (SETEX semantics). Best-effort.
func (c *RedisResponseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err(); err != nil {
		c.logger.Warn("response cache write failed, entry not cached",
			zap.Error(err),
		)
	}
}

// InvalidatePrefix scans for keys under prefix and deletes them. A backend
// failure here is logged loudly: a missed invalidation can serve a stale
// read until the TTL expires, which is why cache TTLs stay short.
func (c *RedisResponseCache) InvalidatePrefix(ctx context.Context, prefix string) int {
	removed := 0
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("response cache invalidation delete failed",
				zap.String("key", iter.Val()),
				zap.Error(err),
			)
			continue
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("response cache invalidation scan failed, stale entries may remain until TTL",
			zap.String("prefix", prefix),
			zap.Error(err),
		)
	}
	if removed > 0 {
		c.invalidations.Add(int64(removed))
	}
	return removed
}

// Stats returns hit/miss counters
func (c *RedisResponseCache) Stats() CacheStats {
	return CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

// Close is a no-op; the shared Redis client is owned by the composition root
func (c *RedisResponseCache) Close() error {
	return nil
}

// Ensure RedisResponseCache implements ResponseCache
var _ ResponseCache = (*RedisResponseCache)(nil)
