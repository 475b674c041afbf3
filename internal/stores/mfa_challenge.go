// Package stores implements transient Redis-backed record stores.
package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const mfaChallengeRecordVersion1 = 1

var (
	// ErrMFAChallengeNotFound covers unknown, expired, and already-consumed
	// challenge IDs — deliberately indistinguishable.
	ErrMFAChallengeNotFound = errors.New("mfa challenge not found")
	// ErrMFAChallengeBackend indicates the challenge backend is unreachable.
	ErrMFAChallengeBackend = errors.New("mfa challenge backend unavailable")
)

// MFAChallenge is the transient record created when a password check
// succeeds on an MFA-enabled account. It carries everything needed to
// finish session creation after the second factor verifies.
type MFAChallenge struct {
	UserID      string
	IP          string
	UserAgent   string
	Fingerprint string
	RememberMe  bool
	CreatedAt   int64
	ExpiresAt   int64
}

// MFAChallengeStore issues and consumes single-use challenge records with
// a fixed TTL. Consumption is an atomic fetch-and-delete.
type MFAChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewMFAChallengeStore creates a challenge store with the given key prefix.
func NewMFAChallengeStore(redisClient redis.UniversalClient, prefix string) *MFAChallengeStore {
	if prefix == "" {
		prefix = "amc"
	}
	return &MFAChallengeStore{redis: redisClient, prefix: prefix}
}

func (s *MFAChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

// Save persists the challenge under challengeID for ttl.
func (s *MFAChallengeStore) Save(ctx context.Context, challengeID string, record *MFAChallenge, ttl time.Duration) error {
	encoded, err := encodeMFAChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMFAChallengeBackend, err)
	}
	return nil
}

// Consume atomically fetches and deletes the challenge (GETDEL), so a
// challenge ID can be consumed at most once even under concurrent calls.
// Expired and already-consumed IDs both yield ErrMFAChallengeNotFound.
func (s *MFAChallengeStore) Consume(ctx context.Context, challengeID string) (*MFAChallenge, error) {
	data, err := s.redis.GetDel(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMFAChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrMFAChallengeBackend, err)
	}

	record, err := decodeMFAChallenge(data)
	if err != nil {
		return nil, err
	}
	// TTL already guards expiry; the timestamp check covers clock drift
	// between the issuing and consuming instance.
	if time.Now().Unix() > record.ExpiresAt {
		return nil, ErrMFAChallengeNotFound
	}
	return record, nil
}

func encodeMFAChallenge(record *MFAChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(mfaChallengeRecordVersion1)

	var remember uint8
	if record.RememberMe {
		remember = 1
	}
	buf.WriteByte(remember)
	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []string{record.UserID, record.IP, record.UserAgent, record.Fingerprint} {
		if len(field) > 65535 {
			return nil, errors.New("mfa challenge field length exceeded")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeMFAChallenge(data []byte) (*MFAChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != mfaChallengeRecordVersion1 {
		return nil, errors.New("invalid mfa challenge version")
	}

	remember, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &MFAChallenge{RememberMe: remember == 1}
	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, target := range []*string{&record.UserID, &record.IP, &record.UserAgent, &record.Fingerprint} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		field := make([]byte, n)
		if _, err := io.ReadFull(reader, field); err != nil {
			return nil, err
		}
		*target = string(field)
	}

	return record, nil
}
