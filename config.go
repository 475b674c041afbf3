package authcore

import (
	"errors"
	"time"

	"github.com/idforge/authcore/internal/limiters"
	"github.com/idforge/authcore/jwt"
	"github.com/idforge/authcore/password"
)

// RateLimitConfig tunes the sliding-window login limiter. Login evaluates
// the email-scoped bucket first and the coarser IP-scoped bucket second;
// either breach rejects the request.
type RateLimitConfig struct {
	Enabled     bool
	EmailLimit  int
	IPLimit     int
	Window      time.Duration
	BackupLimit int // direct backup-code verification attempts per window
	KeyPrefix   string
}

// CredentialConfig tunes credential verification.
type CredentialConfig struct {
	// MinLatency is the enforced floor on the total duration of login and
	// email-availability checks, applied identically to success and
	// fast-fail paths.
	MinLatency time.Duration
	Password   password.Config
}

// MFAConfig tunes the second-factor flow.
type MFAConfig struct {
	ChallengeTTL time.Duration
	TOTP         TOTPConfig
	// BackupCodeCount codes are issued per batch; BackupCodeLowWater is
	// the remaining-count threshold below which regeneration is advised.
	BackupCodeCount    int
	BackupCodeLength   int
	BackupCodeLowWater int
}

// TOTPConfig tunes TOTP verification.
type TOTPConfig struct {
	Digits    int
	Period    int
	Skew      int // accepted time-step drift in each direction
	Algorithm string
	// EnforceReplayProtection rejects codes at or below the last accepted
	// time-step counter even inside the drift window.
	EnforceReplayProtection bool
}

// SessionConfig tunes session lifecycle.
type SessionConfig struct {
	// MaxActive caps concurrent active sessions per user; at the cap the
	// oldest active session is evicted.
	MaxActive  int
	TTL        time.Duration
	RememberMe time.Duration
	// CachePrefix namespaces the transient session cache entries that are
	// purged on revocation.
	CachePrefix string
}

// TokenConfig tunes token issuance.
type TokenConfig struct {
	JWT jwt.Config
	// RefreshTTL and RememberMeRefreshTTL bound refresh-token lifetime;
	// blacklist entries expire together with the token they block.
	RefreshTTL           time.Duration
	RememberMeRefreshTTL time.Duration
}

// AuditConfig tunes the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// LockoutConfig re-exports the lock guard tuning.
type LockoutConfig = limiters.LockoutConfig

// Config is the full engine configuration.
type Config struct {
	RateLimit  RateLimitConfig
	Lockout    LockoutConfig
	Credential CredentialConfig
	MFA        MFAConfig
	Session    SessionConfig
	Token      TokenConfig
	Audit      AuditConfig
}

func defaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{
			Enabled:     true,
			EmailLimit:  10,
			IPLimit:     50,
			Window:      time.Minute,
			BackupLimit: 10,
			KeyPrefix:   "arl",
		},
		Lockout: LockoutConfig{
			Enabled:   true,
			Threshold: 5,
			Window:    15 * time.Minute,
			Duration:  15 * time.Minute,
		},
		Credential: CredentialConfig{
			MinLatency: 200 * time.Millisecond,
			Password: password.Config{
				Memory:      64 * 1024,
				Time:        2,
				Parallelism: 2,
				SaltLength:  16,
				KeyLength:   32,
			},
		},
		MFA: MFAConfig{
			ChallengeTTL: 5 * time.Minute,
			TOTP: TOTPConfig{
				Digits:                  6,
				Period:                  30,
				Skew:                    1,
				Algorithm:               "SHA1",
				EnforceReplayProtection: true,
			},
			BackupCodeCount:    10,
			BackupCodeLength:   8,
			BackupCodeLowWater: 3,
		},
		Session: SessionConfig{
			MaxActive:   5,
			TTL:         24 * time.Hour,
			RememberMe:  30 * 24 * time.Hour,
			CachePrefix: "asc",
		},
		Token: TokenConfig{
			JWT: jwt.Config{
				AccessTTL:     15 * time.Minute,
				SigningMethod: jwt.MethodHS256,
			},
			RefreshTTL:           24 * time.Hour,
			RememberMeRefreshTTL: 30 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

func validateConfig(cfg Config) error {
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.EmailLimit <= 0 || cfg.RateLimit.IPLimit <= 0 {
			return errors.New("rate limit thresholds must be positive")
		}
		if cfg.RateLimit.IPLimit < cfg.RateLimit.EmailLimit {
			return errors.New("IP rate limit must be coarser than the email limit")
		}
		if cfg.RateLimit.Window <= 0 {
			return errors.New("rate limit window must be positive")
		}
	}
	if cfg.Lockout.Enabled {
		if cfg.Lockout.Threshold <= 1 {
			return errors.New("lockout threshold must be > 1")
		}
		if cfg.Lockout.Window <= 0 || cfg.Lockout.Duration <= 0 {
			return errors.New("lockout window and duration must be positive")
		}
	}
	if cfg.Credential.MinLatency < 0 || cfg.Credential.MinLatency > 5*time.Second {
		return errors.New("credential latency floor out of range")
	}
	if cfg.MFA.ChallengeTTL <= 0 {
		return errors.New("mfa challenge TTL must be positive")
	}
	if cfg.MFA.BackupCodeCount <= 0 || cfg.MFA.BackupCodeLength < 8 {
		return errors.New("invalid backup code batch configuration")
	}
	if cfg.MFA.BackupCodeLowWater < 0 || cfg.MFA.BackupCodeLowWater >= cfg.MFA.BackupCodeCount {
		return errors.New("backup code low-water mark must be below the batch size")
	}
	if cfg.MFA.TOTP.Skew < 0 || cfg.MFA.TOTP.Skew > 2 {
		return errors.New("totp skew must be between 0 and 2 steps")
	}
	if cfg.Session.MaxActive <= 0 {
		return errors.New("session cap must be positive")
	}
	if cfg.Session.TTL <= 0 || cfg.Session.RememberMe < cfg.Session.TTL {
		return errors.New("invalid session lifetime configuration")
	}
	if cfg.Token.RefreshTTL <= 0 || cfg.Token.RememberMeRefreshTTL < cfg.Token.RefreshTTL {
		return errors.New("invalid refresh lifetime configuration")
	}
	return nil
}
