// Package rate implements the sliding-window request limiter over Redis.
package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateUnavailable indicates the limiter backend is unreachable. The
// caller must fail closed: a request is never silently allowed through.
var ErrRateUnavailable = errors.New("rate limiter backend unavailable")

// Trim expired timestamps, count the remainder, reject or record — one
// atomic unit per key. Timestamps and the window are in milliseconds.
const allowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)
local count = redis.call("ZCARD", key)
if count >= limit then
  local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
  local retry = window
  if oldest[2] then
    retry = (tonumber(oldest[2]) + window) - now
    if retry < 1 then retry = 1 end
  end
  return {0, retry}
end
redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, window)
return {1, 0}
`

var allowLua = redis.NewScript(allowScript)

// Result is the outcome of one limiter decision. RetryAfter is only
// meaningful when Allowed is false.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter enforces per-key sliding-window limits backed by Redis sorted
// sets. Instances are stateless; all shared state lives in Redis.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	member func() (string, error)
	now    func() time.Time
}

// New creates a [Limiter]. member generates unique sorted-set members;
// now is the clock (both overridable for tests).
func New(redisClient redis.UniversalClient, prefix string, member func() (string, error), now func() time.Time) *Limiter {
	if prefix == "" {
		prefix = "arl"
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{redis: redisClient, prefix: prefix, member: member, now: now}
}

func (l *Limiter) key(scope, key string) string {
	return l.prefix + ":" + scope + ":" + key
}

// Allow records the request against the scope+key bucket if it is under
// limit within the trailing window, and rejects it otherwise. The trim,
// count, insert, and expiry run as one Lua script per key, so two
// concurrent requests can never both observe "under limit" for the last
// slot.
func (l *Limiter) Allow(ctx context.Context, scope, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{Allowed: true}, nil
	}

	member, err := l.member()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}

	raw, err := allowLua.Run(
		ctx,
		l.redis,
		[]string{l.key(scope, key)},
		l.now().UnixMilli(),
		window.Milliseconds(),
		limit,
		member,
	).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}

	parts, ok := raw.([]interface{})
	if !ok || len(parts) != 2 {
		return Result{}, fmt.Errorf("%w: invalid limiter script response", ErrRateUnavailable)
	}
	allowed, ok := parts[0].(int64)
	if !ok {
		return Result{}, fmt.Errorf("%w: invalid limiter script status", ErrRateUnavailable)
	}
	if allowed == 1 {
		return Result{Allowed: true}, nil
	}

	retryMs, _ := parts[1].(int64)
	if retryMs < 1 {
		retryMs = 1
	}
	return Result{Allowed: false, RetryAfter: time.Duration(retryMs) * time.Millisecond}, nil
}
