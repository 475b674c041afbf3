// Package prom bridges the engine's counter registry to Prometheus.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/idforge/authcore"
)

// Collector exposes an [authcore.Metrics] registry as Prometheus
// counters. The engine keeps its own lock-free counters on the hot path;
// the collector reads them only at scrape time.
type Collector struct {
	metrics *authcore.Metrics
	descs   map[authcore.MetricID]*prometheus.Desc
}

// NewCollector creates a collector over the given registry. namespace
// prefixes every metric name ("authcore" when empty).
func NewCollector(metrics *authcore.Metrics, namespace string) *Collector {
	if namespace == "" {
		namespace = "authcore"
	}

	descs := make(map[authcore.MetricID]*prometheus.Desc)
	for _, id := range authcore.MetricIDs() {
		name := prometheus.BuildFQName(namespace, "", authcore.MetricName(id)+"_total")
		descs[id] = prometheus.NewDesc(name, "Engine counter "+authcore.MetricName(id)+".", nil, nil)
	}
	return &Collector{metrics: metrics, descs: descs}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range c.descs {
		ch <- desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for id, desc := range c.descs {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(c.metrics.Get(id)))
	}
}
