package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the clamgate service.
type Metrics struct {
	ScanTotal       *prometheus.CounterVec
	ScanDurationMs  *prometheus.HistogramVec
	ScanBytesTotal  prometheus.Counter
	CacheHitTotal   *prometheus.CounterVec
	ClamdUp         prometheus.Gauge
	ClamdSignatures prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics on reg (pass nil
// to use the default registerer).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ScanTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clamgate_scan_total",
			Help: "Total number of scans by verdict (clean, infected, error).",
		}, []string{"verdict"}),

		ScanDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clamgate_scan_duration_ms",
			Help:    "Scan duration in milliseconds, including the daemon dialogue.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000},
		}, []string{"verdict"}),

		ScanBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "clamgate_scan_bytes_total",
			Help: "Total bytes relayed to the scanning daemon.",
		}),

		CacheHitTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clamgate_verdict_cache_total",
			Help: "Verdict cache lookups by outcome (hit, miss).",
		}, []string{"outcome"}),

		ClamdUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "clamgate_clamd_up",
			Help: "Whether the last clamd health probe succeeded.",
		}),

		ClamdSignatures: factory.NewGauge(prometheus.GaugeOpts{
			Name: "clamgate_clamd_signature_db",
			Help: "Signature DB revision reported by clamd VERSION.",
		}),
	}
}

// RecordScan records a completed scan.
func (m *Metrics) RecordScan(verdict string, bytes int64, durationMs float64) {
	m.ScanTotal.WithLabelValues(verdict).Inc()
	m.ScanDurationMs.WithLabelValues(verdict).Observe(durationMs)
	if bytes > 0 {
		m.ScanBytesTotal.Add(float64(bytes))
	}
}

// RecordCacheLookup records a verdict cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheHitTotal.WithLabelValues(outcome).Inc()
}

// RecordHealth records the outcome of a clamd health probe.
func (m *Metrics) RecordHealth(up bool, signatureDB int) {
	if up {
		m.ClamdUp.Set(1)
		m.ClamdSignatures.Set(float64(signatureDB))
	} else {
		m.ClamdUp.Set(0)
	}
}
