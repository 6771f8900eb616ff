package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/singlethrowdata/scout/pkg/types"
)

const cacheKeyPrefix = "scout:dataset:"

// RedisCache is a Redis-backed DatasetCache. Cache failures are logged and
// treated as misses; the loader always has the blob store to fall back on.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "dataset_cache"),
	}, nil
}

func cacheKey(propertyID string, referenceDate types.Date) string {
	return cacheKeyPrefix + propertyID + ":" + referenceDate.String()
}

// Get retrieves a cached dataset. Any error is a miss.
func (c *RedisCache) Get(ctx context.Context, propertyID string, referenceDate types.Date) (*types.CleanDataset, bool) {
	data, err := c.client.Get(ctx, cacheKey(propertyID, referenceDate)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache read failed", "property_id", propertyID, "error", err)
		return nil, false
	}
	var ds types.CleanDataset
	if err := json.Unmarshal(data, &ds); err != nil {
		c.logger.Warn("cache entry corrupt, ignoring", "property_id", propertyID, "error", err)
		return nil, false
	}
	return &ds, true
}

// Put stores a dataset with the configured TTL. Failures are logged only.
func (c *RedisCache) Put(ctx context.Context, ds *types.CleanDataset) {
	data, err := json.Marshal(ds)
	if err != nil {
		c.logger.Warn("cache encode failed", "property_id", ds.PropertyID, "error", err)
		return
	}
	if err := c.client.Set(ctx, cacheKey(ds.PropertyID, ds.ReferenceDate), data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", "property_id", ds.PropertyID, "error", err)
	}
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
