package authcore

import (
	"context"
	"errors"

	"github.com/idforge/authcore/internal/stores"
)

// VerifyMFA completes a pending login with a TOTP code. The challenge is
// consumed before the code is checked, so a wrong code burns the
// challenge and the caller must log in again — a challenge ID is never a
// multi-try token.
func (e *Engine) VerifyMFA(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	record, cred, err := e.consumeChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	if err := e.verifyTOTP(ctx, cred, code); err != nil {
		e.metricInc(MetricMFAFailure)
		e.recordLoginAttempt(ctx, cred.UserID, cred.Email, record.IP, "totp_failure", false)
		e.emitAudit(ctx, AuditEvent{
			EventType: auditEventMFAFailure,
			ActorID:   cred.UserID,
			IP:        record.IP,
			UserAgent: record.UserAgent,
			Error:     err.Error(),
		})
		return nil, err
	}

	return e.finishMFALogin(ctx, record, cred, nil)
}

// VerifyBackupCode completes a pending login with a single-use backup
// code. Challenge consumption semantics match [Engine.VerifyMFA].
func (e *Engine) VerifyBackupCode(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	record, cred, err := e.consumeChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	verify, err := e.consumeBackupCode(ctx, cred.UserID, record.IP, code)
	if err != nil {
		e.metricInc(MetricMFAFailure)
		e.recordLoginAttempt(ctx, cred.UserID, cred.Email, record.IP, "backup_code_failure", false)
		return nil, err
	}

	return e.finishMFALogin(ctx, record, cred, verify)
}

// consumeChallenge atomically consumes the challenge record and loads the
// owning credential, re-applying the account status gate in case the
// account changed state between login and verification.
func (e *Engine) consumeChallenge(ctx context.Context, challengeID string) (*stores.MFAChallenge, *Credential, error) {
	if challengeID == "" {
		return nil, nil, ErrChallengeInvalid
	}

	record, err := e.mfaStore.Consume(ctx, challengeID)
	if err != nil {
		if errors.Is(err, stores.ErrMFAChallengeNotFound) {
			e.metricInc(MetricMFAFailure)
			return nil, nil, ErrChallengeInvalid
		}
		return nil, nil, errors.Join(ErrStoreUnavailable, err)
	}

	cred, err := e.store.GetCredentialByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, nil, ErrChallengeInvalid
		}
		return nil, nil, mapStoreError(err)
	}
	if statusErr := accountStatusError(cred.Status); statusErr != nil {
		return nil, nil, statusErr
	}
	return record, cred, nil
}

// verifyTOTP checks the code against the account's enabled secret and,
// when replay protection is on, rejects any code at or below the last
// accepted time-step counter before advancing it.
func (e *Engine) verifyTOTP(ctx context.Context, cred *Credential, code string) error {
	totpRecord, err := e.store.GetTOTPSecret(ctx, cred.UserID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return ErrTOTPNotConfigured
		}
		return mapStoreError(err)
	}
	if totpRecord == nil || !totpRecord.Enabled || len(totpRecord.Secret) == 0 {
		return ErrTOTPNotConfigured
	}

	ok, counter, err := e.totp.VerifyCode(totpRecord.Secret, code, e.now())
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if !ok {
		return ErrTOTPInvalid
	}

	if e.config.MFA.TOTP.EnforceReplayProtection {
		if counter <= totpRecord.LastUsedCounter {
			e.metricInc(MetricTOTPReplayAttempt)
			return ErrTOTPReplay
		}
		if err := e.store.UpdateTOTPLastUsedCounter(ctx, cred.UserID, counter); err != nil {
			return mapStoreError(err)
		}
	}
	return nil
}

// finishMFALogin issues the session for a verified second factor,
// carrying the device/remember-me attributes captured at password time.
func (e *Engine) finishMFALogin(ctx context.Context, record *stores.MFAChallenge, cred *Credential, backup *BackupCodeVerifyResult) (*LoginResult, error) {
	result, err := e.establishSession(ctx, cred, sessionContext{
		ip:          record.IP,
		userAgent:   record.UserAgent,
		fingerprint: record.Fingerprint,
		rememberMe:  record.RememberMe,
	})
	if err != nil {
		return nil, err
	}
	if backup != nil {
		result.RemainingCodes = backup.RemainingCodes
		result.ShouldRegenerate = backup.ShouldRegenerate
	}

	e.metricInc(MetricMFASuccess)
	e.metricInc(MetricLoginSuccess)
	e.recordLoginAttempt(ctx, cred.UserID, cred.Email, record.IP, "", true)
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventMFASuccess,
		ActorID:   cred.UserID,
		SessionID: result.SessionID,
		IP:        record.IP,
		UserAgent: record.UserAgent,
		Success:   true,
	})
	return result, nil
}
