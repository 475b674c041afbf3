package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestGuard(t *testing.T, cfg LockoutConfig) (*LockoutGuard, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLockoutGuard(client, cfg), mr
}

func enabledConfig() LockoutConfig {
	return LockoutConfig{
		Enabled:   true,
		Threshold: 3,
		Window:    15 * time.Minute,
		Duration:  10 * time.Minute,
	}
}

func TestLockArmsAtThreshold(t *testing.T) {
	guard, _ := newTestGuard(t, enabledConfig())
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		locked, err := guard.RecordFailure(ctx, "u1")
		if err != nil {
			t.Fatalf("RecordFailure(%d) error = %v", i, err)
		}
		if locked {
			t.Fatalf("locked after %d failures, threshold is 3", i)
		}
	}

	locked, err := guard.RecordFailure(ctx, "u1")
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if !locked {
		t.Fatal("not locked at threshold")
	}

	if err := guard.Check(ctx, "u1"); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("Check() error = %v, want ErrLockedOut", err)
	}

	remaining, err := guard.Remaining(ctx, "u1")
	if err != nil {
		t.Fatalf("Remaining() error = %v", err)
	}
	if remaining <= 0 || remaining > 10*time.Minute {
		t.Fatalf("Remaining() = %v, want within (0, 10m]", remaining)
	}
}

func TestLockExpires(t *testing.T) {
	guard, mr := newTestGuard(t, enabledConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := guard.RecordFailure(ctx, "u1"); err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}
	}

	mr.FastForward(11 * time.Minute)

	if err := guard.Check(ctx, "u1"); err != nil {
		t.Fatalf("Check() after expiry error = %v", err)
	}
}

func TestFailureWindowAgesOut(t *testing.T) {
	guard, mr := newTestGuard(t, enabledConfig())
	ctx := context.Background()

	if _, err := guard.RecordFailure(ctx, "u1"); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if _, err := guard.RecordFailure(ctx, "u1"); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	mr.FastForward(16 * time.Minute)

	count, err := guard.FailureCount(ctx, "u1")
	if err != nil {
		t.Fatalf("FailureCount() error = %v", err)
	}
	if count != 0 {
		t.Fatalf("FailureCount() = %d after window, want 0", count)
	}
}

func TestResetClearsCounterAndLock(t *testing.T) {
	guard, _ := newTestGuard(t, enabledConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := guard.RecordFailure(ctx, "u1"); err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}
	}
	if err := guard.Reset(ctx, "u1"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	if err := guard.Check(ctx, "u1"); err != nil {
		t.Fatalf("Check() after reset error = %v", err)
	}
	count, err := guard.FailureCount(ctx, "u1")
	if err != nil {
		t.Fatalf("FailureCount() error = %v", err)
	}
	if count != 0 {
		t.Fatalf("FailureCount() = %d after reset, want 0", count)
	}
}

func TestDisabledGuardIsNoOp(t *testing.T) {
	guard, _ := newTestGuard(t, LockoutConfig{Enabled: false, Threshold: 1})
	ctx := context.Background()

	locked, err := guard.RecordFailure(ctx, "u1")
	if err != nil || locked {
		t.Fatalf("RecordFailure() = (%v, %v), want (false, nil)", locked, err)
	}
	if err := guard.Check(ctx, "u1"); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
}

func TestBackendFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	guard := NewLockoutGuard(client, enabledConfig())

	mr.Close()

	if err := guard.Check(context.Background(), "u1"); !errors.Is(err, ErrLockoutUnavailable) {
		t.Fatalf("Check() error = %v, want ErrLockoutUnavailable", err)
	}
	if _, err := guard.RecordFailure(context.Background(), "u1"); !errors.Is(err, ErrLockoutUnavailable) {
		t.Fatalf("RecordFailure() error = %v, want ErrLockoutUnavailable", err)
	}
}
