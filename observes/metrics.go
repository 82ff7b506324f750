// Package observes exposes the engine's own health: Prometheus counters for
// the pipeline and alerting, and a sentry hub for the sentry channel.
package observes

import (
	"github.com/ncobase/telemetry/alert"
	"github.com/prometheus/client_golang/prometheus"
)

// Result label values for persisted batches.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics implements metrics.Observer and alert.Observer on top of
// Prometheus collectors.
type Metrics struct {
	// MetricsDroppedTotal counts metrics dropped per pipeline stage.
	// Labels: stage (ingest, persist)
	MetricsDroppedTotal *prometheus.CounterVec

	// MetricsAggregatedTotal counts metrics applied to the aggregator.
	MetricsAggregatedTotal prometheus.Counter

	// PersistBatchesTotal counts store writes by result.
	PersistBatchesTotal *prometheus.CounterVec

	// PersistedMetricsTotal counts metrics written to the store.
	PersistedMetricsTotal prometheus.Counter

	// PersistBatchSize tracks the size of store writes.
	PersistBatchSize prometheus.Histogram

	// AlertsTotal counts SendAlert calls by level and outcome.
	AlertsTotal *prometheus.CounterVec

	// ChannelFailuresTotal counts failed channel deliveries.
	// Labels: channel
	ChannelFailuresTotal *prometheus.CounterVec

	namespace string
	reg       prometheus.Registerer
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registry leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if namespace == "" {
		namespace = "telemetry"
	}
	m := &Metrics{
		MetricsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "collector",
				Name:      "metrics_dropped_total",
				Help:      "Metrics dropped because a pipeline queue was full or closed.",
			},
			[]string{"stage"},
		),
		MetricsAggregatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "collector",
				Name:      "metrics_aggregated_total",
				Help:      "Metrics applied to the in-memory aggregator.",
			},
		),
		PersistBatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "collector",
				Name:      "persist_batches_total",
				Help:      "Store writes, broken down by result.",
			},
			[]string{"result"},
		),
		PersistedMetricsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "collector",
				Name:      "persisted_metrics_total",
				Help:      "Metrics written to the durable store.",
			},
		),
		PersistBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "collector",
				Name:      "persist_batch_size",
				Help:      "Number of metrics per store write.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alert",
				Name:      "alerts_total",
				Help:      "SendAlert calls, broken down by level and outcome.",
			},
			[]string{"level", "outcome"},
		),
		ChannelFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alert",
				Name:      "channel_failures_total",
				Help:      "Failed alert channel deliveries.",
			},
			[]string{"channel"},
		),
		namespace: namespace,
		reg:       reg,
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.MetricsDroppedTotal,
		m.MetricsAggregatedTotal,
		m.PersistBatchesTotal,
		m.PersistedMetricsTotal,
		m.PersistBatchSize,
		m.AlertsTotal,
		m.ChannelFailuresTotal,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MetricsDropped implements metrics.Observer.
func (m *Metrics) MetricsDropped(stage string, n int) {
	m.MetricsDroppedTotal.WithLabelValues(stage).Add(float64(n))
}

// BatchAggregated implements metrics.Observer.
func (m *Metrics) BatchAggregated(n int) {
	m.MetricsAggregatedTotal.Add(float64(n))
}

// BatchPersisted implements metrics.Observer.
func (m *Metrics) BatchPersisted(n int, err error) {
	if err != nil {
		m.PersistBatchesTotal.WithLabelValues(ResultFailure).Inc()
		return
	}
	m.PersistBatchesTotal.WithLabelValues(ResultSuccess).Inc()
	m.PersistedMetricsTotal.Add(float64(n))
	m.PersistBatchSize.Observe(float64(n))
}

// AlertSent implements alert.Observer.
func (m *Metrics) AlertSent(level alert.Level, outcome alert.Outcome) {
	m.AlertsTotal.WithLabelValues(string(level), string(outcome)).Inc()
}

// ChannelFailed implements alert.Observer.
func (m *Metrics) ChannelFailed(channel string) {
	m.ChannelFailuresTotal.WithLabelValues(channel).Inc()
}

// RegisterGauge exposes fn as a gauge evaluated on every scrape.
func (m *Metrics) RegisterGauge(subsystem, name, help string, fn func() float64) error {
	if m.reg == nil {
		return nil
	}
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}
