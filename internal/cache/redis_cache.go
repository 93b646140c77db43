package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-messenger/internal/config"
	"github.com/weiawesome/wes-io-messenger/internal/domain"
)

// versionTTL outlives any page TTL so a live version is never forgotten
// while pages built on it are still cached.
const versionTTL = 7 * 24 * time.Hour

type RedisPageCache struct {
	client *redis.Client
	prefix string
	owned  bool
}

// NewRedisPageCache connects to Redis and verifies the connection.
func NewRedisPageCache(cfg config.RedisConfig, prefix string) (*RedisPageCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPageCache{client: client, prefix: prefix, owned: true}, nil
}

// NewRedisPageCacheWithClient reuses an existing client. Close leaves it open.
func NewRedisPageCacheWithClient(client *redis.Client, prefix string) *RedisPageCache {
	return &RedisPageCache{client: client, prefix: prefix}
}

func (c *RedisPageCache) versionKey(conversationID string) string {
	return fmt.Sprintf("%s:%s:version", c.prefix, conversationID)
}

func (c *RedisPageCache) Version(ctx context.Context, conversationID string) (int64, error) {
	v, err := c.client.Get(ctx, c.versionKey(conversationID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get version from redis: %w", err)
	}
	return v, nil
}

func (c *RedisPageCache) Bump(ctx context.Context, conversationID string) error {
	key := c.versionKey(conversationID)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, versionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to bump version in redis: %w", err)
	}
	return nil
}

func (c *RedisPageCache) BuildKey(conversationID string, version int64, page, pageSize int) string {
	return fmt.Sprintf("%s:%s:v%d:%d:%d", c.prefix, conversationID, version, page, pageSize)
}

func (c *RedisPageCache) Get(ctx context.Context, key string) (*domain.MessagePage, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var page domain.MessagePage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return &page, nil
}

func (c *RedisPageCache) Set(ctx context.Context, key string, page *domain.MessagePage, ttl time.Duration) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *RedisPageCache) Close() error {
	if !c.owned {
		return nil
	}
	return c.client.Close()
}
