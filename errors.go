package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEngineNotReady is returned when an operation is invoked on an
	// engine that was not fully built.
	ErrEngineNotReady = errors.New("engine not ready")

	// ErrInvalidCredentials covers both unknown email and wrong password.
	// Callers must not be able to distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountPendingVerification is returned for accounts that have not
	// completed email verification.
	ErrAccountPendingVerification = errors.New("account pending verification")

	// ErrAccountSuspended is returned for administratively suspended accounts.
	ErrAccountSuspended = errors.New("account suspended")

	// ErrAccountLocked is returned when the account is locked, either by
	// status or by the temporary failed-attempt lock.
	ErrAccountLocked = errors.New("account locked")

	// ErrRateLimited indicates a sliding-window budget was exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrChallengeInvalid covers expired, already-consumed, and unknown
	// MFA challenge IDs. They are deliberately indistinguishable.
	ErrChallengeInvalid = errors.New("invalid or expired challenge")

	// ErrTOTPInvalid is returned for a TOTP code that does not verify.
	ErrTOTPInvalid = errors.New("invalid totp code")

	// ErrTOTPNotConfigured is returned when a step-up operation requires
	// TOTP but the account has no enabled secret.
	ErrTOTPNotConfigured = errors.New("totp not configured")

	// ErrTOTPReplay is returned when a code at or below the last accepted
	// time-step counter is presented again.
	ErrTOTPReplay = errors.New("totp code replay detected")

	// ErrBackupCodeInvalid is returned when a backup code is unknown or
	// already used.
	ErrBackupCodeInvalid = errors.New("backup code not found or used")

	// ErrBackupCodesNotConfigured is returned when no backup codes exist
	// for the account.
	ErrBackupCodesNotConfigured = errors.New("backup codes not configured")

	// ErrRefreshInvalid is returned for malformed, expired, revoked, or
	// unknown refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")

	// ErrTokenReuseDetected is returned when a rotated-out refresh token
	// is presented again. The token family's session is revoked as a side
	// effect before this error surfaces.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")

	// ErrSessionNotFound is returned by session lookups for unknown IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRefreshHashMismatch is returned by Store.RotateRefresh when the
	// presented refresh hash does not match the stored one. The engine
	// treats it as token reuse.
	ErrRefreshHashMismatch = errors.New("refresh hash mismatch")

	// ErrCredentialNotFound is returned by credential lookups. It never
	// crosses the engine boundary; login maps it to ErrInvalidCredentials.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrDeviceNotFound is returned by device fingerprint lookups.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrStoreUnavailable indicates a hard dependency failure. Every
	// security decision fails closed on it.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// RateLimitedError carries the retry hint for a tripped sliding-window
// bucket. It unwraps to [ErrRateLimited].
type RateLimitedError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (%s): retry after %s", e.Scope, e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// LockedError carries the remaining temporary lockout duration. It
// unwraps to [ErrAccountLocked].
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked: retry after %s", e.Remaining)
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }
