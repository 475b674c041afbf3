package rate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	seq := 0
	member := func() (string, error) {
		seq++
		return fmt.Sprintf("m%d", seq), nil
	}
	return New(client, "test", member, time.Now), mr
}

func TestAllowUnderLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := limiter.Allow(ctx, "login", "a@example.com", 5, time.Minute)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d rejected under limit", i+1)
		}
	}
}

func TestRejectOverLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.Allow(ctx, "login", "key", 3, time.Minute); err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
	}

	res, err := limiter.Allow(ctx, "login", "key", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if res.Allowed {
		t.Fatal("request allowed over limit")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Minute {
		t.Fatalf("RetryAfter = %v, want within (0, 1m]", res.RetryAfter)
	}
}

func TestWindowSlides(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	current := time.Now()
	seq := 0
	limiter := New(client, "test",
		func() (string, error) { seq++; return fmt.Sprintf("m%d", seq), nil },
		func() time.Time { return current })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := limiter.Allow(ctx, "login", "key", 2, time.Minute); err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
	}
	res, _ := limiter.Allow(ctx, "login", "key", 2, time.Minute)
	if res.Allowed {
		t.Fatal("request allowed at limit")
	}

	current = current.Add(61 * time.Second)
	mr.FastForward(61 * time.Second)

	res, err := limiter.Allow(ctx, "login", "key", 2, time.Minute)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !res.Allowed {
		t.Fatal("request rejected after window elapsed")
	}
}

func TestScopesAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	if _, err := limiter.Allow(ctx, "login_email", "key", 1, time.Minute); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	res, err := limiter.Allow(ctx, "login_ip", "key", 1, time.Minute)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !res.Allowed {
		t.Fatal("second scope affected by first scope's bucket")
	}
}

func TestBackendFailureFailsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := New(client, "test", func() (string, error) { return "m", nil }, time.Now)

	mr.Close()

	_, err := limiter.Allow(context.Background(), "login", "key", 5, time.Minute)
	if !errors.Is(err, ErrRateUnavailable) {
		t.Fatalf("Allow() error = %v, want ErrRateUnavailable", err)
	}
}

func TestZeroLimitDisables(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	res, err := limiter.Allow(context.Background(), "login", "key", 0, time.Minute)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !res.Allowed {
		t.Fatal("zero limit should disable the bucket")
	}
}
