// Package refresh implements the opaque refresh-token wire format.
//
// A token is base64url(version || session UUID || 32-byte secret). The
// secret never touches storage — the session store keeps only its SHA-256
// hash. Rotation policy and reuse detection live in the engine; this
// package owns encoding and structural validation only, and performs no
// I/O.
package refresh

import (
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

const (
	tokenVersion1 = 1
	secretSize    = 32
	rawSize       = 1 + 16 + secretSize
)

// ErrMalformed is returned for structurally invalid tokens.
var ErrMalformed = errors.New("malformed refresh token")

// Token is the decoded form of a refresh token.
type Token struct {
	SessionID uuid.UUID
	Secret    [secretSize]byte
}

// Encode serializes a refresh token to its opaque string form.
func Encode(sessionID uuid.UUID, secret [secretSize]byte) string {
	raw := make([]byte, 0, rawSize)
	raw = append(raw, tokenVersion1)
	raw = append(raw, sessionID[:]...)
	raw = append(raw, secret[:]...)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses and structurally validates an opaque refresh token.
func Decode(token string) (*Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrMalformed
	}
	if len(raw) != rawSize || raw[0] != tokenVersion1 {
		return nil, ErrMalformed
	}

	var t Token
	copy(t.SessionID[:], raw[1:17])
	copy(t.Secret[:], raw[17:])
	return &t, nil
}
