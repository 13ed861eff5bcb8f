// Package ratelimit provides the process-wide, Redis-backed rate-limit
// registry of spec §5/§6: keyed by service name, looked up per call by
// plugins through PluginContext.rate_limit_registry. The fixed-window
// check-and-increment runs as a single embedded Lua script so concurrent
// callers across processes never race past the limit.
package ratelimit

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Result is the outcome of one limit check.
type Result struct {
	Allowed           bool
	CurrentCount      int64
	Limit             int64
	RetryAfterSeconds int64
}

// Limiter checks and increments a single named counter atomically.
type Limiter struct {
	client *redis.Client
	script *redis.Script
}

// NewLimiter wraps client with the embedded atomic Lua script.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client, script: redis.NewScript(rateLimitScript)}
}

// Check applies limit over windowSeconds to key, atomically incrementing
// the counter when the request is allowed.
func (l *Limiter) Check(ctx context.Context, key string, limit int64, windowSeconds int) (*Result, error) {
	raw, err := l.script.Run(ctx, l.client, []string{key}, limit, windowSeconds).Result()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: check failed for %q: %w", key, err)
	}

	arr, ok := raw.([]interface{})
	if !ok || len(arr) != 4 {
		return nil, fmt.Errorf("ratelimit: unexpected script result shape for %q", key)
	}

	return &Result{
		Allowed:           arr[0].(int64) == 1,
		CurrentCount:      arr[1].(int64),
		Limit:             arr[2].(int64),
		RetryAfterSeconds: arr[3].(int64),
	}, nil
}
