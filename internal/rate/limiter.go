package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds refresh throttle tuning parameters.
type Config struct {
	EnableRefreshThrottle   bool
	EnableIPThrottle        bool
	MaxRefreshAttempts      int
	MaxRefreshAttemptsPerIP int
	RefreshCooldownDuration time.Duration
}

// Limiter counts refresh attempts per session handle and, optionally, per client
// IP.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckRefresh records one refresh attempt and fails with ErrRateLimited once the
// handle or IP budget for the current window is spent.
func (l *Limiter) CheckRefresh(ctx context.Context, handle, ip string) error {
	if l == nil || !l.config.EnableRefreshThrottle {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, refreshKey(handle), l.config.RefreshCooldownDuration)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, refreshIPKey(ip), l.config.RefreshCooldownDuration)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxRefreshAttemptsPerIP) {
			return ErrRateLimited
		}
	}

	return nil
}

// Reset clears the handle counter, used after the session is revoked.
func (l *Limiter) Reset(ctx context.Context, handle string) error {
	if l == nil || !l.config.EnableRefreshThrottle {
		return nil
	}
	if err := l.redis.Del(ctx, refreshKey(handle)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func refreshKey(handle string) string {
	return "rr:" + handle
}

func refreshIPKey(ip string) string {
	return "rri:" + ip
}
