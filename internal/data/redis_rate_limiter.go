package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiterConfig configures a sliding-window limiter.
type RedisRateLimiterConfig struct {
	Prefix string
	Limit  int
	Window time.Duration
	Now    func() time.Time
}

// RedisRateLimiter admits at most Limit actions per key within a sliding Window.
// Each key is a sorted set of attempt timestamps shared by every API process.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisRateLimiter creates a limiter. Limit and Window must be positive.
func NewRedisRateLimiter(client redis.UniversalClient, cfg RedisRateLimiterConfig) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Limit <= 0 || cfg.Window <= 0 {
		return nil, errors.New("rate limit and window must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ratelimit"
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisRateLimiter{client: client, prefix: prefix, limit: cfg.Limit, window: cfg.Window, now: now}, nil
}

// Allow records an attempt for key and reports whether it fits in the window.
// Rejected attempts are counted too, so hammering a key keeps it blocked.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}

	now := l.now()
	nowMs := now.UnixMilli()
	cutoff := nowMs - l.window.Milliseconds()
	redisKey := l.prefix + key

	var card *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(nowMs), Member: uuid.NewString()})
		card = pipe.ZCard(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return card.Val() <= int64(l.limit), nil
}

// Reset drops every recorded attempt for key.
func (l *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis rate limit reset: %w", err)
	}
	return nil
}

// Health checks the health of the Redis connection.
func (l *RedisRateLimiter) Health(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
