package authcore

import (
	"testing"
	"time"
)

// RFC 6238 appendix B vectors, SHA-1, 8 digits, 30 second steps.
var rfc6238Vectors = []struct {
	unix int64
	code string
}{
	{59, "94287082"},
	{1111111109, "07081804"},
	{1111111111, "14050471"},
	{1234567890, "89005924"},
	{2000000000, "69279037"},
	{20000000000, "65353130"},
}

func rfcSecret() []byte {
	return []byte("12345678901234567890")
}

func TestVerifyCodeReferenceVectors(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Digits: 8, Period: 30, Skew: 0, Algorithm: "SHA1"})

	for _, tc := range rfc6238Vectors {
		ok, counter, err := m.VerifyCode(rfcSecret(), tc.code, time.Unix(tc.unix, 0))
		if err != nil {
			t.Fatalf("VerifyCode(t=%d) error = %v", tc.unix, err)
		}
		if !ok {
			t.Fatalf("VerifyCode(t=%d) rejected reference code %s", tc.unix, tc.code)
		}
		if want := tc.unix / 30; counter != want {
			t.Fatalf("VerifyCode(t=%d) counter = %d, want %d", tc.unix, counter, want)
		}
	}
}

func TestVerifyCodeRejectsWrongCode(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Digits: 8, Period: 30, Skew: 1, Algorithm: "SHA1"})

	ok, _, err := m.VerifyCode(rfcSecret(), "00000000", time.Unix(59, 0))
	if err != nil {
		t.Fatalf("VerifyCode() error = %v", err)
	}
	if ok {
		t.Fatal("VerifyCode() accepted a wrong code")
	}
}

func TestVerifyCodeDriftWindow(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Digits: 8, Period: 30, Skew: 1, Algorithm: "SHA1"})

	// Code for step t=59 presented one step late and one step early.
	for _, unix := range []int64{59 + 30, 59 - 30} {
		ok, _, err := m.VerifyCode(rfcSecret(), "94287082", time.Unix(unix, 0))
		if err != nil {
			t.Fatalf("VerifyCode(t=%d) error = %v", unix, err)
		}
		if !ok {
			t.Fatalf("VerifyCode(t=%d) rejected code within drift window", unix)
		}
	}

	// Two steps out is beyond skew 1.
	ok, _, err := m.VerifyCode(rfcSecret(), "94287082", time.Unix(59+61, 0))
	if err != nil {
		t.Fatalf("VerifyCode() error = %v", err)
	}
	if ok {
		t.Fatal("VerifyCode() accepted a code outside the drift window")
	}
}

func TestVerifyCodeInputShape(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Digits: 6, Period: 30, Skew: 1, Algorithm: "SHA1"})

	for _, code := range []string{"", "12345", "1234567", "12a456", "abcdef"} {
		ok, _, err := m.VerifyCode(rfcSecret(), code, time.Unix(59, 0))
		if err != nil {
			t.Fatalf("VerifyCode(%q) error = %v", code, err)
		}
		if ok {
			t.Fatalf("VerifyCode(%q) accepted malformed input", code)
		}
	}
}

func TestVerifyCodeEmptySecret(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Digits: 6, Period: 30, Algorithm: "SHA1"})

	if _, _, err := m.VerifyCode(nil, "123456", time.Unix(59, 0)); err == nil {
		t.Fatal("VerifyCode() accepted an empty secret")
	}
}

func TestVerifyCodeSHA256(t *testing.T) {
	// RFC 6238 SHA-256 vector: t=59, secret is the 32-byte seed.
	secret := []byte("12345678901234567890123456789012")
	m := newTOTPManager(TOTPConfig{Digits: 8, Period: 30, Skew: 0, Algorithm: "SHA256"})

	ok, _, err := m.VerifyCode(secret, "46119246", time.Unix(59, 0))
	if err != nil {
		t.Fatalf("VerifyCode() error = %v", err)
	}
	if !ok {
		t.Fatal("VerifyCode() rejected the SHA-256 reference code")
	}
}

func TestUnsupportedAlgorithm(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Digits: 6, Period: 30, Algorithm: "MD5"})

	if _, _, err := m.VerifyCode(rfcSecret(), "123456", time.Unix(59, 0)); err == nil {
		t.Fatal("VerifyCode() accepted an unsupported algorithm")
	}
}
