package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix namespaces cache keys.
const RedisKeyPrefix = "pmmresearch:cache:"

// RedisCache keeps entries as JSON values without a native key TTL, so
// expiry is evaluated on read like the SQL drivers.
type RedisCache struct {
	client *redis.Client
	opts   Options
}

type redisEntry struct {
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ModelUsed string    `json:"model_used"`
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, opts Options) *RedisCache {
	return &RedisCache{client: client, opts: opts.withDefaults()}
}

func (c *RedisCache) Get(ctx context.Context, query string) (Entry, bool, error) {
	hash := Key(query)
	raw, err := c.client.Get(ctx, RedisKeyPrefix+hash).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis cache get: %w", err)
	}
	var re redisEntry
	if err := json.Unmarshal(raw, &re); err != nil {
		return Entry{}, false, fmt.Errorf("redis cache get: decode: %w", err)
	}
	if !c.opts.fresh(re.CreatedAt) {
		return Entry{}, false, nil
	}
	return Entry{QueryHash: hash, Payload: re.Payload, CreatedAt: re.CreatedAt, ModelUsed: re.ModelUsed}, true, nil
}

func (c *RedisCache) Put(ctx context.Context, query string, payload []byte, model string) error {
	raw, err := json.Marshal(redisEntry{Payload: payload, CreatedAt: c.opts.Now().UTC(), ModelUsed: model})
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, RedisKeyPrefix+Key(query), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis cache put: %w", err)
	}
	return nil
}

// Clear removes every key under RedisKeyPrefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, RedisKeyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("redis cache clear: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis cache clear: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
