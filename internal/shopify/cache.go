package shopify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "variant-dims:"

// RedisCache keeps dimension records in Redis. Cache errors are logged and
// treated as misses.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *RedisCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisCache{rdb: rdb, ttl: ttl, log: log}
}

func (c *RedisCache) Get(ctx context.Context, variantID string) (*Dimensions, bool) {
	val, err := c.rdb.Get(ctx, cacheKeyPrefix+variantID).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("dimension cache read failed", zap.String("variant_id", variantID), zap.Error(err))
		}
		return nil, false
	}
	var d Dimensions
	if err := json.Unmarshal([]byte(val), &d); err != nil {
		return nil, false
	}
	return &d, true
}

func (c *RedisCache) Set(ctx context.Context, variantID string, d Dimensions) {
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKeyPrefix+variantID, data, c.ttl).Err(); err != nil {
		c.log.Warn("dimension cache write failed", zap.String("variant_id", variantID), zap.Error(err))
	}
}
