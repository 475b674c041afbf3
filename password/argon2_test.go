package password

import (
	"strings"
	"testing"
)

func testConfig() Config {
	// Low cost so the suite stays fast; still above the enforced minimums.
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := New(testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t)

	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("Hash() = %q, want PHC argon2id prefix", encoded)
	}

	ok, err := h.Verify("correct horse battery staple", encoded)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Fatal("Verify() rejected the correct password")
	}

	ok, err = h.Verify("wrong password", encoded)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Fatal("Verify() accepted a wrong password")
	}
}

func TestHashesAreSalted(t *testing.T) {
	h := newTestHasher(t)

	first, err := h.Hash("same password")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	second, err := h.Hash("same password")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if first == second {
		t.Fatal("two hashes of the same password are identical")
	}
}

func TestVerifyRejectsMalformedPHC(t *testing.T) {
	h := newTestHasher(t)

	bad := []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$aGFzaA",
	}
	for _, encoded := range bad {
		if _, err := h.Verify("pw", encoded); err == nil {
			t.Fatalf("Verify() accepted malformed hash %q", encoded)
		}
	}
}

func TestVerifyUsesEmbeddedParams(t *testing.T) {
	// A hash created with one parameter set must verify under a hasher
	// configured with another: parameters travel in the PHC string.
	origin, err := New(Config{Memory: 16 * 1024, Time: 2, Parallelism: 2, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	encoded, err := origin.Hash("pw")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	h := newTestHasher(t)
	ok, err := h.Verify("pw", encoded)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Fatal("Verify() ignored embedded parameters")
	}
}

func TestNewRejectsWeakConfig(t *testing.T) {
	weak := []Config{
		{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 0, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8},
	}
	for i, cfg := range weak {
		if _, err := New(cfg); err == nil {
			t.Fatalf("New() accepted weak config %d: %+v", i, cfg)
		}
	}
}

func TestDecoyCompareDoesNotPanic(t *testing.T) {
	h := newTestHasher(t)
	h.DecoyCompare("anything")
	h.DecoyCompare("")
}
