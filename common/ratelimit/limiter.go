// Package ratelimit implements Redis-backed fixed-window rate limiting for
// the sequencer's HTTP API. The window counter lives in Redis so limits
// hold across service restarts and multiple replicas.
package ratelimit

import (
	"context"
	_ "embed"
	"fmt"

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

// Limiter checks request budgets atomically via a Redis Lua script
type Limiter struct {
	redis  *redis.Client
	script *redis.Script
	logger Logger
}

// NewLimiter creates a limiter with the embedded Lua script
func NewLimiter(redisClient *redis.Client, logger Logger) *Limiter {
	return &Limiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		logger: logger,
	}
}

// CheckGlobal checks the service-wide request budget
func (l *Limiter) CheckGlobal(ctx context.Context, cfg Config) (*Result, error) {
	return l.check(ctx, "rate_limit:global", cfg.GlobalLimit, cfg.WindowSeconds)
}

// CheckClient checks the per-client budget, keyed by the caller's address
func (l *Limiter) CheckClient(ctx context.Context, client string, cfg Config) (*Result, error) {
	key := fmt.Sprintf("rate_limit:client:%s", client)
	return l.check(ctx, key, cfg.ClientLimit, cfg.WindowSeconds)
}

// CheckRunStarts checks the run-start budget. Starting a run leases the
// sequence and spins up device activity, so it gets a much tighter budget
// than plain reads.
func (l *Limiter) CheckRunStarts(ctx context.Context, client string, cfg Config) (*Result, error) {
	key := fmt.Sprintf("rate_limit:runs:%s", client)
	return l.check(ctx, key, cfg.RunStartLimit, cfg.WindowSeconds)
}

func (l *Limiter) check(ctx context.Context, key string, limit int64, windowSec int) (*Result, error) {
	raw, err := l.script.Run(ctx, l.redis, []string{key}, limit, windowSec).Result()
	if err != nil {
		l.logger.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	// Script returns {allowed, current_count, limit, retry_after}.
	arr, ok := raw.([]interface{})
	if !ok || len(arr) != 4 {
		return nil, fmt.Errorf("unexpected rate limit script result: %v", raw)
	}

	result := &Result{
		Allowed:           arr[0].(int64) == 1,
		CurrentCount:      arr[1].(int64),
		Limit:             arr[2].(int64),
		RetryAfterSeconds: arr[3].(int64),
	}

	if !result.Allowed {
		l.logger.Warn("rate limit exceeded",
			"key", key,
			"current", result.CurrentCount,
			"limit", result.Limit,
			"retry_after", result.RetryAfterSeconds,
		)
	}
	return result, nil
}

// Reset clears a rate limit counter
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, key).Err()
}
