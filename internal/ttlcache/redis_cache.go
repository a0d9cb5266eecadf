package ttlcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisCache is an optional distributed backend satisfying the same Cache
// interface as MemoryCache, grounded on the teacher's circuit-breaker-
// guarded Redis client: failures are logged and treated as cache misses
// rather than propagated.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

var _ Cache = (*RedisCache)(nil)

// NewRedis constructs a RedisCache against the given address/password/db.
func NewRedis(address, password string, db int, defaultTTLArg time.Duration, logger zerolog.Logger) *RedisCache {
	if defaultTTLArg <= 0 {
		defaultTTLArg = defaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: client, ttl: defaultTTLArg, logger: logger}
}

func (c *RedisCache) Get(key string) (any, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("redis cache get failed")
		}
		return nil, false
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis cache value corrupt")
		return nil, false
	}
	return value, true
}

func (c *RedisCache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis cache value not serializable")
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis cache set failed")
	}
}

func (c *RedisCache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis cache delete failed")
	}
}

func (c *RedisCache) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.FlushDB(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis cache clear failed")
	}
}

func (c *RedisCache) Close() {
	_ = c.client.Close()
}
