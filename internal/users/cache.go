package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"pricewatch/internal/config"
	"pricewatch/internal/infrastructure"
)

// cacheClient is the subset of the redis client the cache uses
type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedDirectory keeps recently resolved accounts in Redis in front of
// another Directory. Redis failures fall through to the wrapped directory.
// Misses are not cached.
type CachedDirectory struct {
	next   Directory
	rdb    cacheClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisClient opens a redis client from cfg and verifies it with a ping
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// NewCachedDirectory wraps next with a Redis-backed cache
func NewCachedDirectory(next Directory, rdb cacheClient, ttl time.Duration, logger *slog.Logger) *CachedDirectory {
	return &CachedDirectory{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		logger: infrastructure.WithComponent(logger, "users.cache"),
	}
}

func cacheKey(id string) string { return "pricewatch:user:" + id }

// FindByID implements Directory
func (c *CachedDirectory) FindByID(ctx context.Context, id string) (*User, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(id)).Bytes()
	switch {
	case err == nil:
		var u User
		if jerr := json.Unmarshal(raw, &u); jerr == nil {
			return &u, nil
		}
		c.logger.WarnContext(ctx, "discarding corrupt cache entry", slog.String("user_id", id))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.WarnContext(ctx, "user cache read failed", slog.String("error", err.Error()))
	}

	u, err := c.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, jerr := json.Marshal(u); jerr == nil {
		if serr := c.rdb.Set(ctx, cacheKey(id), data, c.ttl).Err(); serr != nil {
			c.logger.WarnContext(ctx, "user cache write failed", slog.String("error", serr.Error()))
		}
	}
	return u, nil
}
