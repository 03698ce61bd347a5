// Package metrics exposes Prometheus collectors for the sync pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the pipeline collectors on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	ticks       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	adapterCall *prometheus.HistogramVec
	records     *prometheus.GaugeVec
	discovered  *prometheus.CounterVec
}

// New registers the collectors. Go runtime and process collectors are
// included so /metrics is useful on its own.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meetsync",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by source and outcome.",
		}, []string{"source", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meetsync",
			Name:      "transitions_total",
			Help:      "Sync record state transitions.",
		}, []string{"source", "from", "to"}),
		adapterCall: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "meetsync",
			Name:      "adapter_call_seconds",
			Help:      "Latency of source adapter calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"source", "op", "result"}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meetsync",
			Name:      "records",
			Help:      "Sync records by source and status bucket.",
		}, []string{"source", "bucket"}),
		discovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meetsync",
			Name:      "discovered_recordings_total",
			Help:      "Recordings returned by Discover.",
		}, []string{"source"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks, m.transitions, m.adapterCall, m.records, m.discovered,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Tick counts a finished tick. outcome is "ok", "skipped" or "error".
func (m *Metrics) Tick(source, outcome string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(source, outcome).Inc()
}

// Transition counts one row moving from one state to another.
func (m *Metrics) Transition(source, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(source, from, to).Inc()
}

// AdapterCall observes the duration of an adapter call.
func (m *Metrics) AdapterCall(source, op string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.adapterCall.WithLabelValues(source, op, result).Observe(time.Since(started).Seconds())
}

// Discovered adds n discovered recordings.
func (m *Metrics) Discovered(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.discovered.WithLabelValues(source).Add(float64(n))
}

// SetRecords publishes per-bucket record counts for a source.
func (m *Metrics) SetRecords(source string, buckets map[string]int) {
	if m == nil {
		return
	}
	for bucket, n := range buckets {
		m.records.WithLabelValues(source, bucket).Set(float64(n))
	}
}
