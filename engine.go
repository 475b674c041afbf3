package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/idforge/authcore/internal/limiters"
	"github.com/idforge/authcore/internal/rate"
	"github.com/idforge/authcore/internal/stores"
	"github.com/idforge/authcore/jwt"
	"github.com/idforge/authcore/password"
	"github.com/redis/go-redis/v9"
)

// Engine is the authentication/session core. Instances are stateless:
// every piece of shared mutable state lives in the durable store or in
// Redis, so any number of engine instances can serve requests
// concurrently.
type Engine struct {
	config       Config
	redis        redis.UniversalClient
	store        Store
	rateLimiter  *rate.Limiter
	lockGuard    *limiters.LockoutGuard
	mfaStore     *stores.MFAChallengeStore
	passwordHash *password.Hasher
	totp         *totpManager
	jwtManager   *jwt.Manager
	audit        *auditDispatcher
	metrics      *Metrics
	emailQueue   EmailDispatchQueue
	logf         func(format string, args ...any)
	now          func() time.Time
}

// Close flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Metrics exposes the engine counter registry.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// AuditDropped returns the number of audit events dropped under load.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	event.Timestamp = e.now()
	e.audit.Emit(ctx, event)
}

// normalizeEmail lower-cases and trims the lookup key.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// enforceLatencyFloor sleeps out the remainder of the configured minimum
// latency, measured from start. Applied uniformly to success and fail
// paths of the credential and email-availability checks so response time
// carries no signal. The sleep parks only this request's goroutine.
func (e *Engine) enforceLatencyFloor(start time.Time) {
	floor := e.config.Credential.MinLatency
	if floor <= 0 {
		return
	}
	if remaining := floor - e.now().Sub(start); remaining > 0 {
		time.Sleep(remaining)
	}
}

// accountStatusError maps non-active credential status to its boundary
// error. Exhaustive over CredentialStatus.
func accountStatusError(status CredentialStatus) error {
	switch status {
	case StatusActive:
		return nil
	case StatusPendingVerification:
		return ErrAccountPendingVerification
	case StatusSuspended:
		return ErrAccountSuspended
	case StatusLocked:
		return ErrAccountLocked
	default:
		return ErrAccountSuspended
	}
}

// mapStoreError collapses unexpected dependency failures into the
// fail-closed internal error while letting sentinel classifications
// through unchanged.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCredentialNotFound),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrDeviceNotFound):
		return err
	default:
		return errors.Join(ErrStoreUnavailable, err)
	}
}

func (e *Engine) sessionCacheKey(sessionID string) string {
	return e.config.Session.CachePrefix + ":" + sessionID
}

// cacheSession writes the transient session marker consumed by the
// external validation layer. Best-effort: a cache failure is logged and
// ignored.
func (e *Engine) cacheSession(ctx context.Context, sess *Session) {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if err := e.redis.Set(ctx, e.sessionCacheKey(sess.SessionID), sess.UserID, ttl).Err(); err != nil {
		e.logf("authcore: session cache write failed: %v", err)
	}
}

// purgeSessionCache drops the session-keyed cache entry on revocation.
// Best-effort.
func (e *Engine) purgeSessionCache(ctx context.Context, sessionIDs ...string) {
	if len(sessionIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		keys = append(keys, e.sessionCacheKey(id))
	}
	if err := e.redis.Del(ctx, keys...).Err(); err != nil {
		e.logf("authcore: session cache purge failed: %v", err)
	}
}

// recordLoginAttempt appends to the durable attempt log. Best-effort:
// never on the critical path.
func (e *Engine) recordLoginAttempt(ctx context.Context, userID, email, ip, reason string, success bool) {
	attempt := &LoginAttempt{
		UserID:  userID,
		Email:   email,
		IP:      ip,
		Success: success,
		Reason:  reason,
		At:      e.now(),
	}
	if err := e.store.RecordLoginAttempt(ctx, attempt); err != nil {
		e.logf("authcore: login attempt record failed: %v", err)
	}
}
