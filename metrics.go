package authcore

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricAccountLockedOut
	MetricMFARequired
	MetricMFASuccess
	MetricMFAFailure
	MetricTOTPReplayAttempt
	MetricBackupCodeUsed
	MetricBackupCodeFailed
	MetricBackupCodeRegenerated
	MetricSessionCreated
	MetricSessionEvicted
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricLogout
	MetricLogoutAll
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed-size atomic counter registry. Counters are padded to
// avoid false sharing on the hot login path.
type Metrics struct {
	counters [metricIDCount]paddedCounter
}

// NewMetrics creates an empty registry.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Inc increments the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Get returns the current counter value.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot returns a point-in-time copy of all counters.
func (m *Metrics) Snapshot() map[MetricID]uint64 {
	if m == nil {
		return nil
	}
	out := make(map[MetricID]uint64, metricIDCount)
	for id := MetricID(0); id < metricIDCount; id++ {
		out[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return out
}

// MetricName returns the stable exported name of a counter.
func MetricName(id MetricID) string {
	switch id {
	case MetricLoginSuccess:
		return "login_success"
	case MetricLoginFailure:
		return "login_failure"
	case MetricLoginRateLimited:
		return "login_rate_limited"
	case MetricAccountLockedOut:
		return "account_locked_out"
	case MetricMFARequired:
		return "mfa_required"
	case MetricMFASuccess:
		return "mfa_success"
	case MetricMFAFailure:
		return "mfa_failure"
	case MetricTOTPReplayAttempt:
		return "totp_replay_attempt"
	case MetricBackupCodeUsed:
		return "backup_code_used"
	case MetricBackupCodeFailed:
		return "backup_code_failed"
	case MetricBackupCodeRegenerated:
		return "backup_code_regenerated"
	case MetricSessionCreated:
		return "session_created"
	case MetricSessionEvicted:
		return "session_evicted"
	case MetricRefreshSuccess:
		return "refresh_success"
	case MetricRefreshFailure:
		return "refresh_failure"
	case MetricRefreshReuseDetected:
		return "refresh_reuse_detected"
	case MetricLogout:
		return "logout"
	case MetricLogoutAll:
		return "logout_all"
	default:
		return "unknown"
	}
}

// MetricIDs returns all registered counter IDs in order.
func MetricIDs() []MetricID {
	ids := make([]MetricID, 0, metricIDCount)
	for id := MetricID(0); id < metricIDCount; id++ {
		ids = append(ids, id)
	}
	return ids
}
