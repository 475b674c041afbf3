package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/idforge/authcore/internal"
	"github.com/idforge/authcore/internal/limiters"
	"github.com/idforge/authcore/internal/stores"
)

// Login verifies the credential and either issues a session directly or,
// for MFA-enabled accounts, returns a single-use challenge ID to be
// completed via [Engine.VerifyMFA] or [Engine.VerifyBackupCode].
//
// The total duration of the call is padded to the configured latency
// floor on every outcome, so a caller cannot distinguish "unknown email"
// from "wrong password" by timing.
func (e *Engine) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	start := e.now()
	defer e.enforceLatencyFloor(start)

	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	if err := e.checkLoginRate(ctx, email, in.IP); err != nil {
		return nil, err
	}

	cred, err := e.store.GetCredentialByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			// Burn one hash derivation so unknown emails cost the same
			// as a real verification.
			e.passwordHash.DecoyCompare(in.Password)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, AuditEvent{
				EventType:     auditEventLoginFailure,
				IP:            in.IP,
				UserAgent:     in.UserAgent,
				CorrelationID: in.CorrelationID,
				Error:         "unknown email",
			})
			return nil, ErrInvalidCredentials
		}
		return nil, mapStoreError(err)
	}

	if err := e.checkLockout(ctx, in, cred.UserID); err != nil {
		return nil, err
	}

	ok, err := e.passwordHash.Verify(in.Password, cred.PasswordHash)
	if err != nil || !ok {
		return nil, e.failLogin(ctx, in, cred, email)
	}

	if statusErr := accountStatusError(cred.Status); statusErr != nil {
		e.metricInc(MetricLoginFailure)
		e.recordLoginAttempt(ctx, cred.UserID, email, in.IP, "account_status", false)
		e.emitAudit(ctx, AuditEvent{
			EventType:     auditEventLoginFailure,
			ActorID:       cred.UserID,
			IP:            in.IP,
			UserAgent:     in.UserAgent,
			CorrelationID: in.CorrelationID,
			Error:         statusErr.Error(),
		})
		return nil, statusErr
	}

	if err := e.lockGuard.Reset(ctx, cred.UserID); err != nil {
		// A stale failure counter is tolerable; a blocked login is not.
		e.logf("authcore: lockout reset failed: %v", err)
	}

	if cred.TOTPEnabled {
		return e.issueMFAChallenge(ctx, in, cred)
	}

	result, err := e.establishSession(ctx, cred, sessionContext{
		ip:            in.IP,
		userAgent:     in.UserAgent,
		fingerprint:   in.DeviceFingerprint,
		rememberMe:    in.RememberMe,
		correlationID: in.CorrelationID,
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.recordLoginAttempt(ctx, cred.UserID, email, in.IP, "", true)
	e.emitAudit(ctx, AuditEvent{
		EventType:     auditEventLoginSuccess,
		ActorID:       cred.UserID,
		SessionID:     result.SessionID,
		IP:            in.IP,
		UserAgent:     in.UserAgent,
		CorrelationID: in.CorrelationID,
		Success:       true,
	})
	return result, nil
}

// checkLoginRate evaluates the email-scoped bucket first, then the
// coarser IP-scoped bucket. Backend failures fail closed.
func (e *Engine) checkLoginRate(ctx context.Context, email, ip string) error {
	cfg := e.config.RateLimit
	if !cfg.Enabled {
		return nil
	}

	res, err := e.rateLimiter.Allow(ctx, "login_email", email, cfg.EmailLimit, cfg.Window)
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if !res.Allowed {
		return e.rejectRateLimited(ctx, "email", ip, res.RetryAfter)
	}

	if ip == "" {
		return nil
	}
	res, err = e.rateLimiter.Allow(ctx, "login_ip", ip, cfg.IPLimit, cfg.Window)
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if !res.Allowed {
		return e.rejectRateLimited(ctx, "ip", ip, res.RetryAfter)
	}
	return nil
}

func (e *Engine) rejectRateLimited(ctx context.Context, scope, ip string, retryAfter time.Duration) error {
	e.metricInc(MetricLoginRateLimited)
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventLoginRateLimited,
		IP:        ip,
		Metadata:  map[string]string{"scope": scope},
	})
	return &RateLimitedError{Scope: scope, RetryAfter: retryAfter}
}

// checkLockout rejects logins while a temporary lock is in force.
func (e *Engine) checkLockout(ctx context.Context, in LoginInput, userID string) error {
	err := e.lockGuard.Check(ctx, userID)
	if err == nil {
		return nil
	}
	if errors.Is(err, limiters.ErrLockedOut) {
		remaining, rerr := e.lockGuard.Remaining(ctx, userID)
		if rerr != nil {
			remaining = e.config.Lockout.Duration
		}
		e.metricInc(MetricAccountLockedOut)
		e.emitAudit(ctx, AuditEvent{
			EventType:     auditEventAccountLockedOut,
			ActorID:       userID,
			IP:            in.IP,
			CorrelationID: in.CorrelationID,
		})
		return &LockedError{Remaining: remaining}
	}
	return errors.Join(ErrStoreUnavailable, err)
}

// failLogin records a wrong-password attempt and arms the lock when the
// failure threshold is crossed. Always returns ErrInvalidCredentials or
// the fail-closed backend error.
func (e *Engine) failLogin(ctx context.Context, in LoginInput, cred *Credential, email string) error {
	locked, err := e.lockGuard.RecordFailure(ctx, cred.UserID)
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricLoginFailure)
	e.recordLoginAttempt(ctx, cred.UserID, email, in.IP, "password_mismatch", false)
	e.emitAudit(ctx, AuditEvent{
		EventType:     auditEventLoginFailure,
		ActorID:       cred.UserID,
		IP:            in.IP,
		UserAgent:     in.UserAgent,
		CorrelationID: in.CorrelationID,
		Error:         "password mismatch",
	})
	if locked {
		e.metricInc(MetricAccountLockedOut)
		e.emitAudit(ctx, AuditEvent{
			EventType:     auditEventAccountLockedOut,
			ActorID:       cred.UserID,
			IP:            in.IP,
			CorrelationID: in.CorrelationID,
			Metadata:      map[string]string{"trigger": "failure_threshold"},
		})
	}
	return ErrInvalidCredentials
}

// issueMFAChallenge stores the pending-login state and hands back the
// opaque challenge ID. The password is considered verified from here on;
// only the second factor remains.
func (e *Engine) issueMFAChallenge(ctx context.Context, in LoginInput, cred *Credential) (*LoginResult, error) {
	challengeID, err := internal.NewChallengeID()
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	now := e.now()
	record := &stores.MFAChallenge{
		UserID:      cred.UserID,
		IP:          in.IP,
		UserAgent:   in.UserAgent,
		Fingerprint: in.DeviceFingerprint,
		RememberMe:  in.RememberMe,
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(e.config.MFA.ChallengeTTL).Unix(),
	}
	if err := e.mfaStore.Save(ctx, challengeID, record, e.config.MFA.ChallengeTTL); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricMFARequired)
	e.emitAudit(ctx, AuditEvent{
		EventType:     auditEventMFARequired,
		ActorID:       cred.UserID,
		IP:            in.IP,
		UserAgent:     in.UserAgent,
		CorrelationID: in.CorrelationID,
		Success:       true,
	})
	return &LoginResult{MFARequired: true, ChallengeID: challengeID}, nil
}

// CheckEmailAvailability reports whether email is free to register. The
// response is padded to the same latency floor as Login so it leaks no
// more timing signal than the login path.
func (e *Engine) CheckEmailAvailability(ctx context.Context, email string) (bool, error) {
	start := e.now()
	defer e.enforceLatencyFloor(start)

	normalized := normalizeEmail(email)
	if normalized == "" {
		return false, nil
	}

	_, err := e.store.GetCredentialByEmail(ctx, normalized)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, ErrCredentialNotFound) {
		return true, nil
	}
	return false, mapStoreError(err)
}
