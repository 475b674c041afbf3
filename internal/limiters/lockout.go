// Package limiters implements the failed-attempt account lock guard.
package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig tunes the temporary account lock guard. After Threshold
// consecutive failures within Window, the account is locked for Duration.
// Duration is fixed per lock; there is no escalating backoff.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Window    time.Duration
	Duration  time.Duration
}

// ErrLockoutUnavailable indicates the lockout backend is unreachable.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// ErrLockedOut indicates the user is temporarily locked out.
var ErrLockedOut = errors.New("temporarily locked out")

// LockoutGuard tracks consecutive failed logins per user ID in Redis and
// enforces a temporary lock once the threshold is reached.
type LockoutGuard struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewLockoutGuard creates a lock guard backed by the given Redis client.
func NewLockoutGuard(redisClient redis.UniversalClient, cfg LockoutConfig) *LockoutGuard {
	return &LockoutGuard{redis: redisClient, config: cfg}
}

func (g *LockoutGuard) failureKey(userID string) string {
	return "alg:f:" + userID
}

func (g *LockoutGuard) lockKey(userID string) string {
	return "alg:l:" + userID
}

// Check returns ErrLockedOut when a lock is in force for the user. The
// remaining lock duration is available via [LockoutGuard.Remaining].
func (g *LockoutGuard) Check(ctx context.Context, userID string) error {
	if !g.config.Enabled || userID == "" {
		return nil
	}

	n, err := g.redis.Exists(ctx, g.lockKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if n > 0 {
		return ErrLockedOut
	}
	return nil
}

// Remaining returns the time left on the user's lock, zero if none.
func (g *LockoutGuard) Remaining(ctx context.Context, userID string) (time.Duration, error) {
	if !g.config.Enabled || userID == "" {
		return 0, nil
	}

	ttl, err := g.redis.PTTL(ctx, g.lockKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

// RecordFailure increments the consecutive-failure counter. When the
// configured threshold is reached it arms the lock key for the lock
// duration, clears the counter, and returns true.
func (g *LockoutGuard) RecordFailure(ctx context.Context, userID string) (bool, error) {
	if !g.config.Enabled || userID == "" {
		return false, nil
	}

	key := g.failureKey(userID)
	count, err := g.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if count == 1 && g.config.Window > 0 {
		// Counter TTL is the failure window: stale failures age out.
		if err := g.redis.Expire(ctx, key, g.config.Window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}

	if count < int64(g.config.Threshold) {
		return false, nil
	}

	_, err = g.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, g.lockKey(userID), 1, g.config.Duration)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return true, nil
}

// Reset clears the failure counter and any active lock. Called after a
// successful login.
func (g *LockoutGuard) Reset(ctx context.Context, userID string) error {
	if !g.config.Enabled || userID == "" {
		return nil
	}

	if err := g.redis.Del(ctx, g.failureKey(userID), g.lockKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// FailureCount returns the current consecutive-failure counter.
func (g *LockoutGuard) FailureCount(ctx context.Context, userID string) (int, error) {
	if !g.config.Enabled || userID == "" {
		return 0, nil
	}

	count, err := g.redis.Get(ctx, g.failureKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}
