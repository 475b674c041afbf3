package authcore

import (
	"context"
	"time"
)

// CredentialStatus represents the lifecycle state of a credential record.
type CredentialStatus uint8

const (
	// StatusPendingVerification marks accounts awaiting email verification.
	StatusPendingVerification CredentialStatus = iota
	// StatusActive marks accounts allowed to authenticate.
	StatusActive
	// StatusSuspended marks administratively suspended accounts.
	StatusSuspended
	// StatusLocked marks accounts locked by a lock flow outside this core.
	StatusLocked
)

// Credential is the durable credential record for a user. The engine only
// ever reads it; registration, reset, and lock flows mutate it elsewhere.
type Credential struct {
	UserID       string
	Email        string // normalized lower-case
	PasswordHash string // argon2id PHC string
	Status       CredentialStatus
	TOTPEnabled  bool
}

// TOTPRecord carries the decrypted TOTP shared secret for a user. The
// store layer is responsible for decryption at rest.
type TOTPRecord struct {
	Secret          []byte
	Enabled         bool
	LastUsedCounter int64
}

// RevokeReason records why a session was revoked. Sessions are append-only:
// revocation is the only mutation they ever see.
type RevokeReason string

const (
	RevokeReasonUserLogout          RevokeReason = "user_logout"
	RevokeReasonLogoutAll           RevokeReason = "logout_all"
	RevokeReasonMaxSessionsExceeded RevokeReason = "max_sessions_exceeded"
	RevokeReasonTokenReuseDetected  RevokeReason = "token_reuse_detected"
)

// Session is the durable session record. Token material is stored only as
// SHA-256 hashes; plaintext tokens never reach the store.
type Session struct {
	SessionID     string
	UserID        string
	AccessHash    [32]byte
	RefreshHash   [32]byte
	TokenFamilyID string
	DeviceID      string
	RememberMe    bool
	CreatedAt     time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time
	RevokeReason  RevokeReason
}

// Active reports whether the session is neither revoked nor expired at t.
func (s *Session) Active(t time.Time) bool {
	return s != nil && s.RevokedAt == nil && t.Before(s.ExpiresAt)
}

// Device is a durable device record keyed by fingerprint. Devices start
// untrusted; a trust-elevation flow outside this core flips the flag.
type Device struct {
	DeviceID    string
	UserID      string
	Fingerprint string
	Trusted     bool
	FirstSeenAt time.Time
}

// BackupCodeRecord is one stored backup code. Only the hash is persisted;
// UsedAt is set exactly once on consumption.
type BackupCodeRecord struct {
	ID     string
	Hash   [32]byte
	UsedAt *time.Time
}

// LoginAttempt is an append-only record of an authentication attempt,
// written best-effort for the out-of-scope audit query layer.
type LoginAttempt struct {
	UserID  string
	Email   string
	IP      string
	Success bool
	Reason  string
	At      time.Time
}

// Store is the durable storage boundary consumed by the engine. Schema and
// migrations live with the implementation; the [postgres] package provides
// the reference implementation. Methods that name a transaction must
// execute their steps atomically — the engine holds no locks across I/O
// and relies entirely on store-level atomicity.
type Store interface {
	// GetCredentialByEmail looks up by normalized (lower-case) email.
	// Returns ErrCredentialNotFound for unknown emails.
	GetCredentialByEmail(ctx context.Context, email string) (*Credential, error)
	GetCredentialByID(ctx context.Context, userID string) (*Credential, error)

	GetTOTPSecret(ctx context.Context, userID string) (*TOTPRecord, error)
	UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error

	// GetDeviceByFingerprint returns ErrDeviceNotFound for unknown pairs.
	GetDeviceByFingerprint(ctx context.Context, userID, fingerprint string) (*Device, error)
	CreateDevice(ctx context.Context, device *Device) error

	// CreateSession inserts the session, enforcing the per-user active
	// session cap in the same transaction. When the user is at the cap it
	// revokes exactly the oldest active session with reason
	// MaxSessionsExceeded and returns it so the engine can blacklist its
	// tokens. Returns nil when no eviction occurred.
	CreateSession(ctx context.Context, sess *Session, maxActive int) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ActiveSessions(ctx context.Context, userID string) ([]*Session, error)

	// RevokeSession sets RevokedAt/RevokeReason if the session is still
	// active. Returns false without error when the session is absent,
	// already revoked, or expired — revocation is monotonic and idempotent.
	RevokeSession(ctx context.Context, sessionID string, reason RevokeReason, at time.Time) (bool, error)

	// RevokeSessionsForUser revokes every active session of the user except
	// exceptSessionID (may be empty) in one transaction, returning the
	// revoked sessions.
	RevokeSessionsForUser(ctx context.Context, userID, exceptSessionID string, reason RevokeReason, at time.Time) ([]*Session, error)

	// RotateRefresh atomically compares the session's stored refresh hash
	// with currentHash and, on match, replaces it with nextRefreshHash,
	// records nextAccessHash, and blacklists currentHash until
	// blacklistUntil — one transaction, so a crash never leaves both
	// refresh tokens valid. A mismatch against an active session returns
	// ErrRefreshHashMismatch and leaves the session untouched; the engine
	// escalates that to family revocation.
	RotateRefresh(ctx context.Context, sessionID string, currentHash, nextRefreshHash, nextAccessHash [32]byte, blacklistUntil time.Time) (*Session, error)

	BlacklistTokens(ctx context.Context, hashes [][32]byte, expiresAt time.Time) error
	IsTokenBlacklisted(ctx context.Context, hash [32]byte) (bool, error)

	// ReplaceBackupCodes deletes all existing codes for the user and
	// inserts the new batch in one transaction.
	ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCodeRecord) error
	ListBackupCodes(ctx context.Context, userID string) ([]BackupCodeRecord, error)
	// ConsumeBackupCode sets UsedAt on the matching unused code. Returns
	// false when no unused code matches; a code is consumed at most once
	// even under concurrent calls.
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error)

	RecordLoginAttempt(ctx context.Context, attempt *LoginAttempt) error
}

// EmailDispatchQueue is the outbound notification boundary shared with the
// registration and password-reset flows. None of the engine's own
// operations enqueue email; the builder carries the queue so hosts can
// wire one dependency graph for all identity flows.
type EmailDispatchQueue interface {
	Enqueue(ctx context.Context, jobType string, payload map[string]string) error
}

// LoginInput is the already-validated input to [Engine.Login]. Schema
// validation happens in an external layer.
type LoginInput struct {
	Email             string
	Password          string
	IP                string
	UserAgent         string
	DeviceFingerprint string
	RememberMe        bool
	CorrelationID     string
}

// TokenPair is an issued access/refresh token pair. Plaintext values exist
// only in this struct; the store sees hashes.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// LoginResult is returned by Login and the MFA verification operations.
// When MFARequired is set only ChallengeID is populated; the caller must
// complete [Engine.VerifyMFA] or [Engine.VerifyBackupCode].
type LoginResult struct {
	MFARequired bool
	ChallengeID string

	SessionID   string
	Tokens      *TokenPair
	IsNewDevice bool

	// Populated only on the backup-code MFA path.
	RemainingCodes   int
	ShouldRegenerate bool
}

// BackupCodeStatus summarizes the user's backup code pool.
type BackupCodeStatus struct {
	Total            int
	Used             int
	Remaining        int
	ShouldRegenerate bool
}

// UsedBackupCode identifies a consumed code for the status listing. The
// plaintext is unrecoverable by design; only the record ID is exposed.
type UsedBackupCode struct {
	ID     string
	UsedAt time.Time
}

// BackupCodeVerifyResult is returned by direct (out-of-band) verification.
type BackupCodeVerifyResult struct {
	RemainingCodes   int
	ShouldRegenerate bool
}

// ExportFormat selects the rendering of a backup-code export.
type ExportFormat string

const (
	ExportFormatText ExportFormat = "text"
	ExportFormatJSON ExportFormat = "json"
)
