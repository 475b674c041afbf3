// Package internal holds shared identifier and secret generation helpers.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const (
	challengeIDSize   = 24
	refreshSecretSize = 32
)

// RefreshSecretSize is the byte length of a refresh-token secret.
const RefreshSecretSize = refreshSecretSize

// NewChallengeID returns an opaque random MFA challenge identifier
// (base64url, no padding).
func NewChallengeID() (string, error) {
	raw := make([]byte, challengeIDSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// NewRefreshSecret returns a fresh refresh-token secret.
func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashToken hashes plaintext token material for storage. Only this hash is
// ever persisted or compared against the blacklist.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// HashSecret hashes a refresh secret for storage.
func HashSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// NewRateLimitMember returns a unique member value for a sliding-window
// timestamp entry so two requests in the same millisecond never collide.
func NewRateLimitMember() (string, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.New("rate limit member generation failed")
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
