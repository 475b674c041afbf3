package authcore

import (
	"errors"
	"time"

	"github.com/idforge/authcore/internal"
	"github.com/idforge/authcore/internal/limiters"
	"github.com/idforge/authcore/internal/rate"
	"github.com/idforge/authcore/internal/stores"
	"github.com/idforge/authcore/jwt"
	"github.com/idforge/authcore/password"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. The durable store and Redis client are
// required; everything else has defaults.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store      Store
	auditSink  AuditSink
	emailQueue EmailDispatchQueue
	logf       func(format string, args ...any)
	now        func() time.Time

	built bool
}

// New returns a [Builder] with default configuration.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the full configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client used for all transient state: rate
// windows, lockout counters, MFA challenges, and the session cache.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the durable store implementation.
func (b *Builder) WithStore(store Store) *Builder {
	b.store = store
	return b
}

// WithAuditSink sets the audit event destination.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithEmailQueue sets the outbound notification queue shared with the
// registration and reset flows. The engine itself never enqueues email.
func (b *Builder) WithEmailQueue(queue EmailDispatchQueue) *Builder {
	b.emailQueue = queue
	return b
}

// WithLogger sets the hook used to report swallowed side-effect failures.
func (b *Builder) WithLogger(logf func(format string, args ...any)) *Builder {
	b.logf = logf
	return b
}

// WithClock overrides the engine clock. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine. The builder is
// single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.store == nil {
		return nil, errors.New("durable store is required")
	}
	if err := validateConfig(b.config); err != nil {
		return nil, err
	}

	hasher, err := password.New(b.config.Credential.Password)
	if err != nil {
		return nil, err
	}
	jwtManager, err := jwt.NewManager(b.config.Token.JWT)
	if err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logf := b.logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	engine := &Engine{
		config:       b.config,
		redis:        b.redis,
		store:        b.store,
		rateLimiter:  rate.New(b.redis, b.config.RateLimit.KeyPrefix, internal.NewRateLimitMember, now),
		lockGuard:    limiters.NewLockoutGuard(b.redis, b.config.Lockout),
		mfaStore:     stores.NewMFAChallengeStore(b.redis, ""),
		passwordHash: hasher,
		totp:         newTOTPManager(b.config.MFA.TOTP),
		jwtManager:   jwtManager,
		audit:        newAuditDispatcher(b.config.Audit, b.auditSink),
		metrics:      NewMetrics(),
		emailQueue:   b.emailQueue,
		logf:         logf,
		now:          now,
	}

	b.built = true
	return engine, nil
}
