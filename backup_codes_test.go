package authcore

import (
	"strings"
	"testing"
)

func TestNewBackupCodeAlphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := newBackupCode(8)
		if err != nil {
			t.Fatalf("newBackupCode() error = %v", err)
		}
		if len(code) != 8 {
			t.Fatalf("len = %d, want 8", len(code))
		}
		for _, r := range code {
			if !strings.ContainsRune(backupCodeAlphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
		for _, ambiguous := range "0O1I" {
			if strings.ContainsRune(code, ambiguous) {
				t.Fatalf("code %q contains ambiguous character %q", code, ambiguous)
			}
		}
	}
}

func TestFormatBackupCode(t *testing.T) {
	if got := formatBackupCode("ABCDEFGH"); got != "ABCD-EFGH" {
		t.Fatalf("formatBackupCode() = %q, want ABCD-EFGH", got)
	}
	if got := formatBackupCode("ABCDEFGHJK"); got != "ABCDE-FGHJK" {
		t.Fatalf("formatBackupCode() = %q, want ABCDE-FGHJK", got)
	}
}

func TestCanonicalizeBackupCode(t *testing.T) {
	cases := map[string]string{
		"ABCD-EFGH":   "ABCDEFGH",
		"abcd-efgh":   "ABCDEFGH",
		" ABCD EFGH ": "ABCDEFGH",
		"abcdefgh":    "ABCDEFGH",
	}
	for in, want := range cases {
		if got := canonicalizeBackupCode(in); got != want {
			t.Fatalf("canonicalizeBackupCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBackupCodeHashBindsUser(t *testing.T) {
	h1 := backupCodeHash("user-1", "ABCDEFGH")
	h2 := backupCodeHash("user-2", "ABCDEFGH")
	if h1 == h2 {
		t.Fatal("identical codes for different users share a hash")
	}

	// The separator prevents boundary ambiguity between user ID and code.
	h3 := backupCodeHash("user-1A", "BCDEFGH")
	if h1 == h3 {
		t.Fatal("user/code boundary is ambiguous in the hash input")
	}
}

func TestBackupCodeHashDeterministic(t *testing.T) {
	if backupCodeHash("u", "ABCDEFGH") != backupCodeHash("u", "ABCDEFGH") {
		t.Fatal("hash is not deterministic")
	}
	if backupCodeHash("u", "ABCDEFGH") == backupCodeHash("u", "ABCDEFGJ") {
		t.Fatal("different codes share a hash")
	}
}
