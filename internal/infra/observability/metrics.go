package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/wicaksana/ukm-sentinel-go/internal/domain"
)

// Metrics holds all Prometheus metrics for the detection service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	detectionDuration    *prometheus.HistogramVec
	reportsTotal         *prometheus.CounterVec
	reasonsTotal         *prometheus.CounterVec
	anomaliesBySeverity  *prometheus.CounterVec
	ensembleOnlyDiscards prometheus.Counter
	invalidTimestamps    prometheus.Counter
	externalErrors       *prometheus.CounterVec
	cacheHits            *prometheus.CounterVec
	cacheMisses          *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		detectionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_detection_duration_seconds",
				Help:    "Duration of detection runs by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		reportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_reports_total",
				Help: "Total detection reports produced, by report status.",
			},
			[]string{"status"},
		),
		reasonsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_anomaly_reasons_total",
				Help: "Total rule reasons attached to flagged transactions, by type.",
			},
			[]string{"type"},
		),
		anomaliesBySeverity: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_anomalies_total",
				Help: "Total flagged transactions, by final severity.",
			},
			[]string{"severity"},
		),
		ensembleOnlyDiscards: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sentinel_ensemble_only_discards_total",
				Help: "Transactions flagged by the ensemble alone and discarded without a rule reason.",
			},
		),
		invalidTimestamps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sentinel_invalid_timestamps_total",
				Help: "Transactions excluded from detection for a missing or unparseable timestamp.",
			},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordDetectionDuration records the duration of one detection operation.
func (m *Metrics) RecordDetectionDuration(operation string, d time.Duration) {
	m.detectionDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrReport counts one finished detection run by report status.
func (m *Metrics) IncrReport(status string) {
	m.reportsTotal.WithLabelValues(status).Inc()
}

// IncrReason counts one rule reason attached to a flagged transaction.
func (m *Metrics) IncrReason(reasonType string) {
	m.reasonsTotal.WithLabelValues(reasonType).Inc()
}

// IncrAnomaly counts one flagged transaction by its final severity.
func (m *Metrics) IncrAnomaly(severity string) {
	m.anomaliesBySeverity.WithLabelValues(severity).Inc()
}

// IncrEnsembleOnlyDiscard counts an ensemble-only flag that was dropped.
func (m *Metrics) IncrEnsembleOnlyDiscard() {
	m.ensembleOnlyDiscards.Inc()
}

// IncrInvalidTimestamp counts a transaction excluded for a bad timestamp.
func (m *Metrics) IncrInvalidTimestamp() {
	m.invalidTimestamps.Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// GetDetectionSnapshot returns a snapshot of detection metrics suitable
// for the GET /v1/metrics/detection endpoint.
func (m *Metrics) GetDetectionSnapshot() *domain.DetectionMetrics {
	// Prometheus counters expose cumulative values; read them back
	// directly instead of keeping a parallel tally.
	success := getCounterValue(m.reportsTotal, domain.StatusSuccess)
	insufficient := getCounterValue(m.reportsTotal, domain.StatusInsufficientData)
	errored := getCounterValue(m.reportsTotal, domain.StatusError)

	cacheHits := getCounterValue(m.cacheHits, "business_pattern")
	cacheMisses := getCounterValue(m.cacheMisses, "business_pattern")
	cacheHitRate := float64(0)
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	return &domain.DetectionMetrics{
		TotalRuns:            int64(success + insufficient + errored),
		SuccessRuns:          int64(success),
		InsufficientDataRuns: int64(insufficient),
		ErrorRuns:            int64(errored),
		HighSeverity:         int64(getCounterValue(m.anomaliesBySeverity, domain.SeverityHigh)),
		MediumSeverity:       int64(getCounterValue(m.anomaliesBySeverity, domain.SeverityMedium)),
		LowSeverity:          int64(getCounterValue(m.anomaliesBySeverity, domain.SeverityLow)),
		EnsembleOnlyDiscards: int64(readCounter(m.ensembleOnlyDiscards)),
		CacheHitRate:         cacheHitRate,
		Period:               "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	return readCounter(counter)
}

func readCounter(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
