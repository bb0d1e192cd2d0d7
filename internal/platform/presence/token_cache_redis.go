package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	relaypkg "github.com/amaclean2/Couloirs/pkg/relay"
)

// defaultTokenTTL bounds how long a token outlives its last refresh; tokens
// re-enter the cache on every verifyUser, so a stale entry ages out rather
// than targeting a retired device forever.
const defaultTokenTTL = 60 * 24 * time.Hour

// redisClient is the slice of go-redis the cache needs. Narrow on purpose,
// so tests can fake it.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisTokenCache is the shared backend for multi-instance deployments.
// Implements relay.DeviceTokenCache.
type RedisTokenCache struct {
	client redisClient
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisTokenCache is the constructor for the Redis-backed cache.
func NewRedisTokenCache(client redisClient, logger zerolog.Logger) (*RedisTokenCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisTokenCache{
		client: client,
		ttl:    defaultTokenTTL,
		logger: logger.With().Str("component", "redis_token_cache").Logger(),
	}, nil
}

func tokenKey(userID string) string {
	return "devicetoken:" + userID
}

func (c *RedisTokenCache) Set(ctx context.Context, userID, token string) error {
	key := tokenKey(userID)
	if err := c.client.Set(ctx, key, token, c.ttl).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to store device token")
		return fmt.Errorf("failed to store device token: %w", err)
	}
	return nil
}

func (c *RedisTokenCache) Fetch(ctx context.Context, userID string) (string, error) {
	token, err := c.client.Get(ctx, tokenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", relaypkg.ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch device token: %w", err)
	}
	return token, nil
}

func (c *RedisTokenCache) Delete(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, tokenKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete device token: %w", err)
	}
	return nil
}

func (c *RedisTokenCache) Close() error {
	return c.client.Close()
}
