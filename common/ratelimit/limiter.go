package ratelimit

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Result contains the outcome of a rate limit check
type Result struct {
	Allowed           bool
	CurrentCount      int64
	Limit             int64
	RetryAfterSeconds int64
}

// Limiter provides workspace-scoped rate limiting using Redis + Lua
type Limiter struct {
	redis  *redis.Client
	script *redis.Script
	logger Logger
}

// NewLimiter creates a rate limiter with the embedded Lua script
func NewLimiter(redisClient *redis.Client, logger Logger) *Limiter {
	return &Limiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		logger: logger,
	}
}

// CheckWorkspace checks the per-workspace dispatch limit over a one
// minute window.
func (l *Limiter) CheckWorkspace(ctx context.Context, workspaceID uuid.UUID, limit int64) (*Result, error) {
	key := fmt.Sprintf("rate_limit:workspace:%s", workspaceID)
	return l.check(ctx, key, limit, 60)
}

// CheckGlobal checks the service-wide dispatch limit
func (l *Limiter) CheckGlobal(ctx context.Context, limit int64) (*Result, error) {
	return l.check(ctx, "rate_limit:global", limit, 60)
}

func (l *Limiter) check(ctx context.Context, key string, limit int64, windowSec int) (*Result, error) {
	result, err := l.script.Run(ctx, l.redis, []string{key}, limit, windowSec).Result()
	if err != nil {
		l.logger.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	// Script returns {allowed, current_count, limit, retry_after}
	arr, ok := result.([]interface{})
	if !ok || len(arr) != 4 {
		return nil, fmt.Errorf("unexpected rate limit script result format")
	}

	res := &Result{
		Allowed:           arr[0].(int64) == 1,
		CurrentCount:      arr[1].(int64),
		Limit:             arr[2].(int64),
		RetryAfterSeconds: arr[3].(int64),
	}

	if !res.Allowed {
		l.logger.Warn("rate limit exceeded",
			"key", key,
			"current", res.CurrentCount,
			"limit", res.Limit,
			"retry_after", res.RetryAfterSeconds)
	}

	return res, nil
}

// Reset clears a rate limit counter (for tests and admin use)
func (l *Limiter) Reset(ctx context.Context, workspaceID uuid.UUID) error {
	return l.redis.Del(ctx, fmt.Sprintf("rate_limit:workspace:%s", workspaceID)).Err()
}
