package pricecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// DefaultKeyPrefix namespaces price entries in Redis.
const DefaultKeyPrefix = "item:price:"

type redisEntry struct {
	ID    string          `json:"id"`
	Price decimal.Decimal `json:"price"`
}

// RedisCache stores item prices as JSON payloads in Redis.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache constructs a cache helper. A non-positive ttl keeps entries
// until they are evicted.
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Get returns the cached price for id. It reports whether the key existed.
func (c *RedisCache) Get(ctx context.Context, id string) (decimal.Decimal, bool, error) {
	if c == nil || c.client == nil || id == "" {
		return decimal.Decimal{}, false, nil
	}
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Decimal{}, false, nil
		}
		return decimal.Decimal{}, false, fmt.Errorf("pricecache: redis get %s: %w", id, err)
	}
	var entry redisEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("pricecache: decode %s: %w", id, err)
	}
	return entry.Price, true, nil
}

// Put serialises the price as JSON and stores it with the configured TTL.
func (c *RedisCache) Put(ctx context.Context, id string, price decimal.Decimal) error {
	if c == nil || c.client == nil || id == "" {
		return nil
	}
	data, err := json.Marshal(redisEntry{ID: id, Price: price})
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(id), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("pricecache: redis set %s: %w", id, err)
	}
	return nil
}

// Ping checks connectivity with the backing Redis server.
func (c *RedisCache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pricecache: redis client not configured")
	}
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) key(id string) string {
	return c.prefix + id
}
