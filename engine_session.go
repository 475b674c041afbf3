package authcore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/idforge/authcore/internal"
	"github.com/idforge/authcore/jwt"
	"github.com/idforge/authcore/refresh"
)

// sessionContext carries the request attributes that survive from the
// password check (or MFA challenge) into session creation.
type sessionContext struct {
	ip            string
	userAgent     string
	fingerprint   string
	rememberMe    bool
	correlationID string
}

// establishSession registers the device, mints the token pair, and
// inserts the session. Cap enforcement and oldest-session eviction happen
// inside the store transaction; this method only handles the evicted
// session's token blacklisting and cache purge afterwards.
func (e *Engine) establishSession(ctx context.Context, cred *Credential, sc sessionContext) (*LoginResult, error) {
	device, isNewDevice, err := e.resolveDevice(ctx, cred.UserID, sc)
	if err != nil {
		return nil, err
	}

	now := e.now()
	sessionTTL := e.config.Session.TTL
	refreshTTL := e.config.Token.RefreshTTL
	if sc.rememberMe {
		sessionTTL = e.config.Session.RememberMe
		refreshTTL = e.config.Token.RememberMeRefreshTTL
	}

	sessionUUID := uuid.New()
	familyID := uuid.NewString()
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	accessToken, accessExpiresAt, err := e.jwtManager.CreateAccess(cred.UserID, sessionUUID.String(), familyID, now)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	sess := &Session{
		SessionID:     sessionUUID.String(),
		UserID:        cred.UserID,
		AccessHash:    internal.HashToken(accessToken),
		RefreshHash:   internal.HashSecret(secret),
		TokenFamilyID: familyID,
		RememberMe:    sc.rememberMe,
		CreatedAt:     now,
		ExpiresAt:     now.Add(sessionTTL),
	}
	if device != nil {
		sess.DeviceID = device.DeviceID
	}

	evicted, err := e.store.CreateSession(ctx, sess, e.config.Session.MaxActive)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if evicted != nil {
		e.invalidateSessionTokens(ctx, evicted)
		e.metricInc(MetricSessionEvicted)
		e.emitAudit(ctx, AuditEvent{
			EventType:     auditEventSessionEvicted,
			ActorID:       cred.UserID,
			SessionID:     evicted.SessionID,
			CorrelationID: sc.correlationID,
			Success:       true,
			Metadata:      map[string]string{"reason": string(RevokeReasonMaxSessionsExceeded)},
		})
	}

	e.cacheSession(ctx, sess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, AuditEvent{
		EventType:     auditEventSessionCreated,
		ActorID:       cred.UserID,
		SessionID:     sess.SessionID,
		IP:            sc.ip,
		UserAgent:     sc.userAgent,
		CorrelationID: sc.correlationID,
		Success:       true,
	})

	return &LoginResult{
		SessionID: sess.SessionID,
		Tokens: &TokenPair{
			AccessToken:      accessToken,
			AccessExpiresAt:  accessExpiresAt,
			RefreshToken:     refresh.Encode(sessionUUID, secret),
			RefreshExpiresAt: now.Add(refreshTTL),
		},
		IsNewDevice: isNewDevice,
	}, nil
}

// resolveDevice looks up the fingerprint and registers an untrusted
// device record on first sight. The new-device flag stays set until a
// trust-elevation flow outside this core marks the device trusted.
func (e *Engine) resolveDevice(ctx context.Context, userID string, sc sessionContext) (*Device, bool, error) {
	if sc.fingerprint == "" {
		return nil, false, nil
	}

	device, err := e.store.GetDeviceByFingerprint(ctx, userID, sc.fingerprint)
	if err == nil {
		return device, !device.Trusted, nil
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		return nil, false, mapStoreError(err)
	}

	device = &Device{
		DeviceID:    uuid.NewString(),
		UserID:      userID,
		Fingerprint: sc.fingerprint,
		FirstSeenAt: e.now(),
	}
	if err := e.store.CreateDevice(ctx, device); err != nil {
		return nil, false, mapStoreError(err)
	}

	e.emitAudit(ctx, AuditEvent{
		EventType:     auditEventNewDevice,
		ActorID:       userID,
		IP:            sc.ip,
		UserAgent:     sc.userAgent,
		CorrelationID: sc.correlationID,
		Success:       true,
		Metadata:      map[string]string{"device_id": device.DeviceID},
	})
	return device, true, nil
}

// invalidateSessionTokens blacklists the session's current token hashes
// until the session's natural expiry and drops its cache entry.
func (e *Engine) invalidateSessionTokens(ctx context.Context, sess *Session) {
	until := sess.ExpiresAt
	if accessHorizon := e.now().Add(e.jwtManager.AccessTTL()); accessHorizon.After(until) {
		until = accessHorizon
	}
	hashes := [][32]byte{sess.AccessHash, sess.RefreshHash}
	if err := e.store.BlacklistTokens(ctx, hashes, until); err != nil {
		e.logf("authcore: token blacklist write failed: %v", err)
	}
	e.purgeSessionCache(ctx, sess.SessionID)
}

// Refresh rotates the refresh token: the presented token is consumed, a
// new access/refresh pair is issued within the same token family, and the
// old refresh hash is blacklisted in the same store transaction.
//
// Presenting a rotated-out (stale) token for a live session is treated as
// theft: the whole session is revoked, its current tokens are
// blacklisted, and ErrTokenReuseDetected is returned.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	token, err := refresh.Decode(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}
	currentHash := internal.HashSecret(token.Secret)
	sessionID := token.SessionID.String()

	blacklisted, err := e.store.IsTokenBlacklisted(ctx, currentHash)
	if err != nil {
		return nil, mapStoreError(err)
	}

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			e.metricInc(MetricRefreshFailure)
			return nil, ErrRefreshInvalid
		}
		return nil, mapStoreError(err)
	}

	now := e.now()
	if sess.Active(now) && (blacklisted || sess.RefreshHash != currentHash) {
		return nil, e.escalateTokenReuse(ctx, sess)
	}
	if !sess.Active(now) {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	accessToken, accessExpiresAt, err := e.jwtManager.CreateAccess(sess.UserID, sessionID, sess.TokenFamilyID, now)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	_, err = e.store.RotateRefresh(ctx, sessionID, currentHash, internal.HashSecret(nextSecret), internal.HashToken(accessToken), sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, ErrRefreshHashMismatch) {
			// Lost a race with a concurrent rotation of the same token.
			return nil, e.escalateTokenReuse(ctx, sess)
		}
		return nil, mapStoreError(err)
	}

	refreshTTL := e.config.Token.RefreshTTL
	if sess.RememberMe {
		refreshTTL = e.config.Token.RememberMeRefreshTTL
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventRefreshRotated,
		ActorID:   sess.UserID,
		SessionID: sessionID,
		Success:   true,
	})

	return &TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     refresh.Encode(token.SessionID, nextSecret),
		RefreshExpiresAt: now.Add(refreshTTL),
	}, nil
}

// escalateTokenReuse revokes the session behind a replayed refresh token
// and blacklists its live tokens, killing the entire token family.
func (e *Engine) escalateTokenReuse(ctx context.Context, sess *Session) error {
	revoked, err := e.store.RevokeSession(ctx, sess.SessionID, RevokeReasonTokenReuseDetected, e.now())
	if err != nil {
		return mapStoreError(err)
	}
	if revoked {
		e.invalidateSessionTokens(ctx, sess)
	}

	e.metricInc(MetricRefreshReuseDetected)
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventTokenReuseDetected,
		ActorID:   sess.UserID,
		SessionID: sess.SessionID,
		Metadata:  map[string]string{"family_id": sess.TokenFamilyID},
	})
	return ErrTokenReuseDetected
}

// ValidateAccess parses and validates an access token and confirms its
// hash is not blacklisted and its session is still active. Intended for
// the host's request-authentication middleware.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (string, string, error) {
	claims, err := e.jwtManager.Parse(accessToken)
	if err != nil {
		return "", "", jwt.ErrTokenInvalid
	}

	blacklisted, err := e.store.IsTokenBlacklisted(ctx, internal.HashToken(accessToken))
	if err != nil {
		return "", "", mapStoreError(err)
	}
	if blacklisted {
		return "", "", jwt.ErrTokenInvalid
	}

	sess, err := e.store.GetSession(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return "", "", ErrSessionNotFound
		}
		return "", "", mapStoreError(err)
	}
	if !sess.Active(e.now()) {
		return "", "", ErrSessionNotFound
	}

	return claims.UID, claims.SID, nil
}

// ActiveSessions lists the user's currently active sessions.
func (e *Engine) ActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	sessions, err := e.store.ActiveSessions(ctx, userID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return sessions, nil
}
