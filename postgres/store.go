// Package postgres is the reference durable store over pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/idforge/authcore"
)

// DB is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// for tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements [authcore.Store] over PostgreSQL. The three
// transactional units the engine relies on (session insert with cap
// eviction, refresh rotation, bulk revocation) each run in a single
// database transaction with the relevant session rows locked.
type Store struct {
	db  DB
	now func() time.Time
}

// New creates a store over db.
func New(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock overrides the store clock. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

const credentialColumns = "user_id, email, password_hash, status, totp_enabled"

func scanCredential(row pgx.Row) (*authcore.Credential, error) {
	var cred authcore.Credential
	var status int16
	err := row.Scan(&cred.UserID, &cred.Email, &cred.PasswordHash, &status, &cred.TOTPEnabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	cred.Status = authcore.CredentialStatus(status)
	return &cred, nil
}

func (s *Store) GetCredentialByEmail(ctx context.Context, email string) (*authcore.Credential, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE email = $1", email)
	return scanCredential(row)
}

func (s *Store) GetCredentialByID(ctx context.Context, userID string) (*authcore.Credential, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE user_id = $1", userID)
	return scanCredential(row)
}

func (s *Store) GetTOTPSecret(ctx context.Context, userID string) (*authcore.TOTPRecord, error) {
	var record authcore.TOTPRecord
	err := s.db.QueryRow(ctx,
		"SELECT secret, enabled, last_used_counter FROM totp_secrets WHERE user_id = $1", userID).
		Scan(&record.Secret, &record.Enabled, &record.LastUsedCounter)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("get totp secret: %w", err)
	}
	return &record, nil
}

func (s *Store) UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error {
	// GREATEST keeps the counter monotonic under concurrent verifications.
	_, err := s.db.Exec(ctx,
		"UPDATE totp_secrets SET last_used_counter = GREATEST(last_used_counter, $2) WHERE user_id = $1",
		userID, counter)
	if err != nil {
		return fmt.Errorf("update totp counter: %w", err)
	}
	return nil
}

func (s *Store) GetDeviceByFingerprint(ctx context.Context, userID, fingerprint string) (*authcore.Device, error) {
	var device authcore.Device
	err := s.db.QueryRow(ctx,
		"SELECT device_id, user_id, fingerprint, trusted, first_seen_at FROM devices WHERE user_id = $1 AND fingerprint = $2",
		userID, fingerprint).
		Scan(&device.DeviceID, &device.UserID, &device.Fingerprint, &device.Trusted, &device.FirstSeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &device, nil
}

func (s *Store) CreateDevice(ctx context.Context, device *authcore.Device) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO devices (device_id, user_id, fingerprint, trusted, first_seen_at) VALUES ($1, $2, $3, $4, $5)",
		device.DeviceID, device.UserID, device.Fingerprint, device.Trusted, device.FirstSeenAt)
	if err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

const sessionColumns = "session_id, user_id, access_hash, refresh_hash, token_family_id, COALESCE(device_id, ''), remember_me, created_at, expires_at, revoked_at, revoke_reason"

func scanSession(row pgx.Row) (*authcore.Session, error) {
	var sess authcore.Session
	var accessHash, refreshHash []byte
	var reason string
	err := row.Scan(&sess.SessionID, &sess.UserID, &accessHash, &refreshHash,
		&sess.TokenFamilyID, &sess.DeviceID, &sess.RememberMe,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.RevokedAt, &reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	copy(sess.AccessHash[:], accessHash)
	copy(sess.RefreshHash[:], refreshHash)
	sess.RevokeReason = authcore.RevokeReason(reason)
	return &sess, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *authcore.Session, maxActive int) (*authcore.Session, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create session: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.now()

	// Lock the user's active rows so two concurrent logins at the cap
	// cannot both skip eviction.
	rows, err := tx.Query(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2 ORDER BY created_at FOR UPDATE",
		sess.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("lock active sessions: %w", err)
	}
	active, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}

	var evicted *authcore.Session
	if len(active) >= maxActive {
		evicted = active[0]
		tag, err := tx.Exec(ctx,
			"UPDATE sessions SET revoked_at = $2, revoke_reason = $3 WHERE session_id = $1",
			evicted.SessionID, now, string(authcore.RevokeReasonMaxSessionsExceeded))
		if err != nil {
			return nil, fmt.Errorf("evict oldest session: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return nil, errors.New("evict oldest session: row vanished under lock")
		}
		revokedAt := now
		evicted.RevokedAt = &revokedAt
		evicted.RevokeReason = authcore.RevokeReasonMaxSessionsExceeded
	}

	var deviceID any
	if sess.DeviceID != "" {
		deviceID = sess.DeviceID
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO sessions (session_id, user_id, access_hash, refresh_hash, token_family_id, device_id, remember_me, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.SessionID, sess.UserID, sess.AccessHash[:], sess.RefreshHash[:],
		sess.TokenFamilyID, deviceID, sess.RememberMe, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create session: %w", err)
	}
	return evicted, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*authcore.Session, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE session_id = $1", sessionID)
	return scanSession(row)
}

func (s *Store) ActiveSessions(ctx context.Context, userID string) ([]*authcore.Session, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2 ORDER BY created_at",
		userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return collectSessions(rows)
}

func (s *Store) RevokeSession(ctx context.Context, sessionID string, reason authcore.RevokeReason, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		"UPDATE sessions SET revoked_at = $3, revoke_reason = $2 WHERE session_id = $1 AND revoked_at IS NULL AND expires_at > $3",
		sessionID, string(reason), at)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) RevokeSessionsForUser(ctx context.Context, userID, exceptSessionID string, reason authcore.RevokeReason, at time.Time) ([]*authcore.Session, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE sessions SET revoked_at = $4, revoke_reason = $3
		 WHERE user_id = $1 AND session_id <> $2 AND revoked_at IS NULL AND expires_at > $4
		 RETURNING `+sessionColumns,
		userID, exceptSessionID, string(reason), at)
	if err != nil {
		return nil, fmt.Errorf("revoke user sessions: %w", err)
	}
	return collectSessions(rows)
}

func (s *Store) RotateRefresh(ctx context.Context, sessionID string, currentHash, nextRefreshHash, nextAccessHash [32]byte, blacklistUntil time.Time) (*authcore.Session, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin rotate: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sess, err := scanSession(tx.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE session_id = $1 FOR UPDATE", sessionID))
	if err != nil {
		return nil, err
	}
	if sess.RefreshHash != currentHash {
		return nil, authcore.ErrRefreshHashMismatch
	}

	if _, err := tx.Exec(ctx,
		"UPDATE sessions SET refresh_hash = $2, access_hash = $3 WHERE session_id = $1",
		sessionID, nextRefreshHash[:], nextAccessHash[:]); err != nil {
		return nil, fmt.Errorf("rotate session hashes: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO token_blacklist (token_hash, expires_at) VALUES ($1, $2) ON CONFLICT (token_hash) DO UPDATE SET expires_at = GREATEST(token_blacklist.expires_at, EXCLUDED.expires_at)",
		currentHash[:], blacklistUntil); err != nil {
		return nil, fmt.Errorf("blacklist rotated hash: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit rotate: %w", err)
	}

	sess.RefreshHash = nextRefreshHash
	sess.AccessHash = nextAccessHash
	return sess, nil
}

func (s *Store) BlacklistTokens(ctx context.Context, hashes [][32]byte, expiresAt time.Time) error {
	if len(hashes) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin blacklist: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, hash := range hashes {
		if _, err := tx.Exec(ctx,
			"INSERT INTO token_blacklist (token_hash, expires_at) VALUES ($1, $2) ON CONFLICT (token_hash) DO UPDATE SET expires_at = GREATEST(token_blacklist.expires_at, EXCLUDED.expires_at)",
			hash[:], expiresAt); err != nil {
			return fmt.Errorf("blacklist token: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit blacklist: %w", err)
	}
	return nil
}

func (s *Store) IsTokenBlacklisted(ctx context.Context, hash [32]byte) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM token_blacklist WHERE token_hash = $1 AND expires_at > $2)",
		hash[:], s.now()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return exists, nil
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, codes []authcore.BackupCodeRecord) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace codes: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DELETE FROM backup_codes WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("delete old codes: %w", err)
	}
	for _, code := range codes {
		if _, err := tx.Exec(ctx,
			"INSERT INTO backup_codes (id, user_id, code_hash) VALUES ($1, $2, $3)",
			code.ID, userID, code.Hash[:]); err != nil {
			return fmt.Errorf("insert backup code: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace codes: %w", err)
	}
	return nil
}

func (s *Store) ListBackupCodes(ctx context.Context, userID string) ([]authcore.BackupCodeRecord, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, code_hash, used_at FROM backup_codes WHERE user_id = $1 ORDER BY id", userID)
	if err != nil {
		return nil, fmt.Errorf("list backup codes: %w", err)
	}
	defer rows.Close()

	var codes []authcore.BackupCodeRecord
	for rows.Next() {
		var record authcore.BackupCodeRecord
		var hash []byte
		if err := rows.Scan(&record.ID, &hash, &record.UsedAt); err != nil {
			return nil, fmt.Errorf("scan backup code: %w", err)
		}
		copy(record.Hash[:], hash)
		codes = append(codes, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup codes: %w", err)
	}
	return codes, nil
}

func (s *Store) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	// used_at IS NULL in the predicate makes consumption first-wins under
	// concurrent presentation of the same code.
	tag, err := s.db.Exec(ctx,
		"UPDATE backup_codes SET used_at = $3 WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL",
		userID, hash[:], s.now())
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) RecordLoginAttempt(ctx context.Context, attempt *authcore.LoginAttempt) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO login_attempts (user_id, email, ip, success, reason, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		attempt.UserID, attempt.Email, attempt.IP, attempt.Success, attempt.Reason, attempt.At)
	if err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

func collectSessions(rows pgx.Rows) ([]*authcore.Session, error) {
	defer rows.Close()

	var sessions []*authcore.Session
	for rows.Next() {
		var sess authcore.Session
		var accessHash, refreshHash []byte
		var reason string
		if err := rows.Scan(&sess.SessionID, &sess.UserID, &accessHash, &refreshHash,
			&sess.TokenFamilyID, &sess.DeviceID, &sess.RememberMe,
			&sess.CreatedAt, &sess.ExpiresAt, &sess.RevokedAt, &reason); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		copy(sess.AccessHash[:], accessHash)
		copy(sess.RefreshHash[:], refreshHash)
		sess.RevokeReason = authcore.RevokeReason(reason)
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}
