package authcore

import (
	"sync"
	"testing"
)

func TestMetricsIncAndGet(t *testing.T) {
	m := NewMetrics()

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLogout)

	if got := m.Get(MetricLoginSuccess); got != 2 {
		t.Fatalf("Get(MetricLoginSuccess) = %d, want 2", got)
	}
	if got := m.Get(MetricLogout); got != 1 {
		t.Fatalf("Get(MetricLogout) = %d, want 1", got)
	}
	if got := m.Get(MetricLoginFailure); got != 0 {
		t.Fatalf("Get(MetricLoginFailure) = %d, want 0", got)
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Get(MetricRefreshSuccess); got != 8000 {
		t.Fatalf("Get() = %d, want 8000", got)
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.Inc(MetricMFASuccess)

	snap := m.Snapshot()
	if len(snap) != len(MetricIDs()) {
		t.Fatalf("snapshot has %d entries, want %d", len(snap), len(MetricIDs()))
	}
	if snap[MetricMFASuccess] != 1 {
		t.Fatalf("snapshot[MetricMFASuccess] = %d, want 1", snap[MetricMFASuccess])
	}
}

func TestMetricNamesAreUniqueAndStable(t *testing.T) {
	seen := make(map[string]MetricID)
	for _, id := range MetricIDs() {
		name := MetricName(id)
		if name == "" || name == "unknown" {
			t.Fatalf("MetricName(%d) = %q", id, name)
		}
		if prev, dup := seen[name]; dup {
			t.Fatalf("metric name %q shared by %d and %d", name, prev, id)
		}
		seen[name] = id
	}
}

func TestMetricsOutOfRange(t *testing.T) {
	m := NewMetrics()
	m.Inc(metricIDCount) // must not panic
	if got := m.Get(metricIDCount + 10); got != 0 {
		t.Fatalf("Get(out of range) = %d, want 0", got)
	}
}
