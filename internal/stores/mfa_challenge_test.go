package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*MFAChallengeStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewMFAChallengeStore(client, "amc"), mr
}

func sampleChallenge(ttl time.Duration) *MFAChallenge {
	now := time.Now()
	return &MFAChallenge{
		UserID:      "user-1",
		IP:          "203.0.113.7",
		UserAgent:   "test-agent/1.0",
		Fingerprint: "fp-abc",
		RememberMe:  true,
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(ttl).Unix(),
	}
}

func TestSaveAndConsumeRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	want := sampleChallenge(5 * time.Minute)
	if err := store.Save(ctx, "ch1", want, 5*time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Consume(ctx, "ch1")
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if got.UserID != want.UserID || got.IP != want.IP ||
		got.UserAgent != want.UserAgent || got.Fingerprint != want.Fingerprint {
		t.Fatalf("Consume() = %+v, want %+v", got, want)
	}
	if !got.RememberMe {
		t.Fatal("RememberMe flag lost in round trip")
	}
	if got.CreatedAt != want.CreatedAt || got.ExpiresAt != want.ExpiresAt {
		t.Fatalf("timestamps = (%d, %d), want (%d, %d)",
			got.CreatedAt, got.ExpiresAt, want.CreatedAt, want.ExpiresAt)
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "ch1", sampleChallenge(5*time.Minute), 5*time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := store.Consume(ctx, "ch1"); err != nil {
		t.Fatalf("first Consume() error = %v", err)
	}

	if _, err := store.Consume(ctx, "ch1"); !errors.Is(err, ErrMFAChallengeNotFound) {
		t.Fatalf("second Consume() error = %v, want ErrMFAChallengeNotFound", err)
	}
}

func TestConsumeUnknownID(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Consume(context.Background(), "never-issued"); !errors.Is(err, ErrMFAChallengeNotFound) {
		t.Fatalf("Consume() error = %v, want ErrMFAChallengeNotFound", err)
	}
}

func TestConsumeAfterTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "ch1", sampleChallenge(time.Minute), time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.Consume(ctx, "ch1"); !errors.Is(err, ErrMFAChallengeNotFound) {
		t.Fatalf("Consume() after TTL error = %v, want ErrMFAChallengeNotFound", err)
	}
}

func TestConsumeRejectsDriftedExpiry(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Record already expired by wall clock even though the redis TTL has
	// not fired yet: the issuing instance's clock was behind.
	record := sampleChallenge(5 * time.Minute)
	record.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	if err := store.Save(ctx, "ch1", record, 5*time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := store.Consume(ctx, "ch1"); !errors.Is(err, ErrMFAChallengeNotFound) {
		t.Fatalf("Consume() error = %v, want ErrMFAChallengeNotFound", err)
	}
}

func TestBackendFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewMFAChallengeStore(client, "amc")

	mr.Close()

	if err := store.Save(context.Background(), "ch1", sampleChallenge(time.Minute), time.Minute); !errors.Is(err, ErrMFAChallengeBackend) {
		t.Fatalf("Save() error = %v, want ErrMFAChallengeBackend", err)
	}
	if _, err := store.Consume(context.Background(), "ch1"); !errors.Is(err, ErrMFAChallengeBackend) {
		t.Fatalf("Consume() error = %v, want ErrMFAChallengeBackend", err)
	}
}

func TestCodecRejectsUnknownVersion(t *testing.T) {
	data, err := encodeMFAChallenge(sampleChallenge(time.Minute))
	if err != nil {
		t.Fatalf("encode error = %v", err)
	}
	data[0] = 99

	if _, err := decodeMFAChallenge(data); err == nil {
		t.Fatal("decode accepted unknown version byte")
	}
}
