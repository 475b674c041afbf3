// Package jwt issues and validates short-lived access tokens.
package jwt

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 private key.
	MethodEd25519 SigningMethod = "ed25519"
)

// ErrTokenInvalid is returned for tokens that fail parsing or validation.
var ErrTokenInvalid = errors.New("invalid token")

// Config holds token issuance and validation parameters.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// AccessClaims is the access-token claim set. The session ID and token
// family travel in the token so revocation checks need no extra lookup.
type AccessClaims struct {
	UID string `json:"uid"`
	SID string `json:"sid"`
	FAM string `json:"fam,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues and validates access tokens. Immutable after creation.
type Manager struct {
	config Config
	edPriv ed25519.PrivateKey
	edPub  ed25519.PublicKey
}

// NewManager validates cfg and returns a [Manager].
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	m := &Manager{config: cfg}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
			return nil, errors.New("ed25519 requires a 64-byte private key")
		}
		m.edPriv = ed25519.PrivateKey(cfg.PrivateKey)
		if len(cfg.PublicKey) > 0 {
			if len(cfg.PublicKey) != ed25519.PublicKeySize {
				return nil, errors.New("invalid ed25519 public key")
			}
			m.edPub = ed25519.PublicKey(cfg.PublicKey)
		} else {
			m.edPub = m.edPriv.Public().(ed25519.PublicKey)
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return m, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// CreateAccess issues a signed access token for the session.
func (m *Manager) CreateAccess(userID, sessionID, familyID string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(m.config.AccessTTL)
	claims := AccessClaims{
		UID: userID,
		SID: sessionID,
		FAM: familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	var (
		token  *jwt.Token
		signed string
		err    error
	)
	switch m.config.SigningMethod {
	case MethodHS256:
		token = jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err = token.SignedString(m.config.PrivateKey)
	case MethodEd25519:
		token = jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
		signed, err = token.SignedString(m.edPriv)
	default:
		return "", time.Time{}, errors.New("unsupported signing method")
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse validates signature, expiry, issuer, and audience, and returns the
// claim set.
func (m *Manager) Parse(tokenString string) (*AccessClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(m.config.Leeway),
		jwt.WithExpirationRequired(),
	}
	if m.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(m.config.Audience))
	}
	switch m.config.SigningMethod {
	case MethodHS256:
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	case MethodEd25519:
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	}

	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		switch m.config.SigningMethod {
		case MethodHS256:
			return []byte(m.config.PrivateKey), nil
		case MethodEd25519:
			return m.edPub, nil
		default:
			return nil, errors.New("unsupported signing method")
		}
	}, opts...)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if claims.UID == "" || claims.SID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
