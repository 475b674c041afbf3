package authcore

import (
	"context"
	"errors"
	"strconv"
)

// Logout revokes the session and blacklists its current token hashes.
// Revoking an unknown or already-revoked session is a no-op: logout is
// idempotent and never fails for being late.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return mapStoreError(err)
	}

	revoked, err := e.store.RevokeSession(ctx, sessionID, RevokeReasonUserLogout, e.now())
	if err != nil {
		return mapStoreError(err)
	}
	if !revoked {
		return nil
	}

	e.invalidateSessionTokens(ctx, sess)
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventLogout,
		ActorID:   sess.UserID,
		SessionID: sessionID,
		Success:   true,
	})
	return nil
}

// LogoutAll revokes every active session of the user except the current
// one and returns the revoked count. Password re-entry is required: a
// stolen access token alone must not be able to terminate the victim's
// other sessions.
func (e *Engine) LogoutAll(ctx context.Context, userID, password, currentSessionID string) (int, error) {
	cred, err := e.store.GetCredentialByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, mapStoreError(err)
	}

	ok, err := e.passwordHash.Verify(password, cred.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, AuditEvent{
			EventType: auditEventLogoutAll,
			ActorID:   userID,
			Error:     "password verification failed",
		})
		return 0, ErrInvalidCredentials
	}

	revoked, err := e.store.RevokeSessionsForUser(ctx, userID, currentSessionID, RevokeReasonLogoutAll, e.now())
	if err != nil {
		return 0, mapStoreError(err)
	}
	if len(revoked) > 0 {
		e.invalidateRevokedBatch(ctx, revoked)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventLogoutAll,
		ActorID:   userID,
		SessionID: currentSessionID,
		Success:   true,
		Metadata:  map[string]string{"revoked": strconv.Itoa(len(revoked))},
	})
	return len(revoked), nil
}

// invalidateRevokedBatch blacklists the token hashes of a batch of
// just-revoked sessions in one store call and purges their cache entries.
func (e *Engine) invalidateRevokedBatch(ctx context.Context, revoked []*Session) {
	hashes := make([][32]byte, 0, len(revoked)*2)
	sessionIDs := make([]string, 0, len(revoked))
	until := e.now().Add(e.jwtManager.AccessTTL())
	for _, sess := range revoked {
		hashes = append(hashes, sess.AccessHash, sess.RefreshHash)
		sessionIDs = append(sessionIDs, sess.SessionID)
		if sess.ExpiresAt.After(until) {
			until = sess.ExpiresAt
		}
	}
	if err := e.store.BlacklistTokens(ctx, hashes, until); err != nil {
		e.logf("authcore: batch token blacklist write failed: %v", err)
	}
	e.purgeSessionCache(ctx, sessionIDs...)
}
