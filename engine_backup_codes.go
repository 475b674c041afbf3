package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BackupCodeStatus summarizes the user's backup-code pool without
// touching it.
func (e *Engine) BackupCodeStatus(ctx context.Context, userID string) (*BackupCodeStatus, error) {
	codes, err := e.store.ListBackupCodes(ctx, userID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	status := &BackupCodeStatus{Total: len(codes)}
	for _, code := range codes {
		if code.UsedAt != nil {
			status.Used++
		}
	}
	status.Remaining = status.Total - status.Used
	status.ShouldRegenerate = status.Total > 0 && status.Remaining < e.config.MFA.BackupCodeLowWater
	return status, nil
}

// ListUsedBackupCodes returns the consumed codes with their consumption
// timestamps. Plaintext codes are unrecoverable; only record IDs are
// exposed.
func (e *Engine) ListUsedBackupCodes(ctx context.Context, userID string) ([]UsedBackupCode, error) {
	codes, err := e.store.ListBackupCodes(ctx, userID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	used := make([]UsedBackupCode, 0, len(codes))
	for _, code := range codes {
		if code.UsedAt != nil {
			used = append(used, UsedBackupCode{ID: code.ID, UsedAt: *code.UsedAt})
		}
	}
	return used, nil
}

// RegenerateBackupCodes replaces the user's entire code pool with a fresh
// batch after re-verifying password and TOTP. The returned plaintext
// codes are shown exactly once; every previously issued code, used or
// not, is invalidated by the replacement.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, password, totpCode string) ([]string, error) {
	cred, err := e.stepUpVerify(ctx, userID, password, totpCode)
	if err != nil {
		return nil, err
	}

	count := e.config.MFA.BackupCodeCount
	length := e.config.MFA.BackupCodeLength
	plaintext := make([]string, 0, count)
	records := make([]BackupCodeRecord, 0, count)
	for i := 0; i < count; i++ {
		code, err := newBackupCode(length)
		if err != nil {
			return nil, errors.Join(ErrStoreUnavailable, err)
		}
		plaintext = append(plaintext, formatBackupCode(code))
		records = append(records, BackupCodeRecord{
			ID:   uuid.NewString(),
			Hash: backupCodeHash(cred.UserID, code),
		})
	}

	if err := e.store.ReplaceBackupCodes(ctx, cred.UserID, records); err != nil {
		return nil, mapStoreError(err)
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventBackupCodesGenerated,
		ActorID:   cred.UserID,
		Success:   true,
	})
	return plaintext, nil
}

// ExportBackupCodes renders the current pool state after password and
// TOTP re-verification. Only hashes are stored, so the export lists
// record IDs and used/unused state, never code values. Read-only: codes
// are not rotated or consumed by exporting.
func (e *Engine) ExportBackupCodes(ctx context.Context, userID, password, totpCode string, format ExportFormat) ([]byte, error) {
	cred, err := e.stepUpVerify(ctx, userID, password, totpCode)
	if err != nil {
		return nil, err
	}

	codes, err := e.store.ListBackupCodes(ctx, cred.UserID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if len(codes) == 0 {
		return nil, ErrBackupCodesNotConfigured
	}

	var out []byte
	switch format {
	case ExportFormatJSON:
		out, err = renderBackupCodesJSON(cred.UserID, codes, e.now())
	case ExportFormatText, "":
		out = renderBackupCodesText(codes, e.now())
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventBackupCodesExported,
		ActorID:   cred.UserID,
		Success:   true,
		Metadata:  map[string]string{"format": string(format)},
	})
	return out, nil
}

// VerifyBackupCodeDirect consumes a backup code outside a login challenge
// (step-up or recovery checks). Attempts are rate limited per user.
func (e *Engine) VerifyBackupCodeDirect(ctx context.Context, userID, code string) (*BackupCodeVerifyResult, error) {
	result, err := e.consumeBackupCode(ctx, userID, "", code)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// consumeBackupCode is the shared consumption path for the MFA login
// flow and direct verification. Consumption is atomic at the store: a
// code verifies at most once even under concurrent presentation.
func (e *Engine) consumeBackupCode(ctx context.Context, userID, ip, code string) (*BackupCodeVerifyResult, error) {
	if cfg := e.config.RateLimit; cfg.Enabled && cfg.BackupLimit > 0 {
		res, err := e.rateLimiter.Allow(ctx, "backup_code", userID, cfg.BackupLimit, cfg.Window)
		if err != nil {
			return nil, errors.Join(ErrStoreUnavailable, err)
		}
		if !res.Allowed {
			return nil, e.rejectRateLimited(ctx, "backup_code", ip, res.RetryAfter)
		}
	}

	canonical := canonicalizeBackupCode(code)
	if canonical == "" {
		return nil, ErrBackupCodeInvalid
	}

	consumed, err := e.store.ConsumeBackupCode(ctx, userID, backupCodeHash(userID, canonical))
	if err != nil {
		return nil, mapStoreError(err)
	}
	if !consumed {
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, AuditEvent{
			EventType: auditEventBackupCodeFailed,
			ActorID:   userID,
			IP:        ip,
		})
		return nil, ErrBackupCodeInvalid
	}

	status, err := e.BackupCodeStatus(ctx, userID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventBackupCodeUsed,
		ActorID:   userID,
		IP:        ip,
		Success:   true,
		Metadata:  map[string]string{"remaining": fmt.Sprintf("%d", status.Remaining)},
	})

	return &BackupCodeVerifyResult{
		RemainingCodes:   status.Remaining,
		ShouldRegenerate: status.Remaining < e.config.MFA.BackupCodeLowWater,
	}, nil
}

// stepUpVerify gates sensitive backup-code operations behind fresh
// password and TOTP proof. A valid session alone is not enough.
func (e *Engine) stepUpVerify(ctx context.Context, userID, password, totpCode string) (*Credential, error) {
	cred, err := e.store.GetCredentialByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, mapStoreError(err)
	}
	if statusErr := accountStatusError(cred.Status); statusErr != nil {
		return nil, statusErr
	}

	ok, err := e.passwordHash.Verify(password, cred.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	if !cred.TOTPEnabled {
		return nil, ErrTOTPNotConfigured
	}
	if err := e.verifyTOTP(ctx, cred, totpCode); err != nil {
		return nil, err
	}
	return cred, nil
}

func renderBackupCodesText(codes []BackupCodeRecord, now time.Time) []byte {
	var buf bytes.Buffer
	buf.WriteString("Backup code status, exported ")
	buf.WriteString(now.UTC().Format(time.RFC3339))
	buf.WriteString("\n\n")
	for i, code := range codes {
		state := "unused"
		if code.UsedAt != nil {
			state = "used " + code.UsedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(&buf, "%2d. %s  %s\n", i+1, code.ID, state)
	}
	return buf.Bytes()
}

type backupCodeExport struct {
	UserID     string                  `json:"user_id"`
	ExportedAt time.Time               `json:"exported_at"`
	Codes      []backupCodeExportEntry `json:"codes"`
}

type backupCodeExportEntry struct {
	ID     string     `json:"id"`
	UsedAt *time.Time `json:"used_at,omitempty"`
}

func renderBackupCodesJSON(userID string, codes []BackupCodeRecord, now time.Time) ([]byte, error) {
	export := backupCodeExport{UserID: userID, ExportedAt: now.UTC()}
	for _, code := range codes {
		export.Codes = append(export.Codes, backupCodeExportEntry{ID: code.ID, UsedAt: code.UsedAt})
	}
	return json.MarshalIndent(export, "", "  ")
}
