package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/tracekit/pkg/config"
)

// TransactionMetrics tracks units of work.
//
// Metrics:
//   - tracekit_transactions_started_total: units of work begun, by op
//   - tracekit_transactions_finished_total: units of work ended, by op, status and export
//   - tracekit_transactions_abandoned_total: units of work cancelled, by op
//   - tracekit_transaction_duration_seconds: root span duration histogram
//   - tracekit_transactions_active: units of work currently open
//   - tracekit_spans_total: child spans recorded, by op
//   - tracekit_spans_dropped_total: child spans over the per-transaction cap
//   - tracekit_spans_orphaned_total: child spans still open when the root ended
type TransactionMetrics struct {
	startedTotal   *prometheus.CounterVec
	finishedTotal  *prometheus.CounterVec
	abandonedTotal *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	active         prometheus.Gauge

	spansTotal    *prometheus.CounterVec
	spansDropped  prometheus.Counter
	spansOrphaned prometheus.Counter
}

// NewTransactionMetrics creates and registers transaction metrics with the provided registry.
func NewTransactionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *TransactionMetrics {
	tm := &TransactionMetrics{
		startedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "transactions_started_total",
				Help:      "Total number of units of work begun",
			},
			[]string{"op"},
		),

		finishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "transactions_finished_total",
				Help:      "Total number of units of work ended",
			},
			[]string{"op", "status", "exported"},
		),

		abandonedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "transactions_abandoned_total",
				Help:      "Total number of units of work cancelled before they ended",
			},
			[]string{"op"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "transaction_duration_seconds",
				Help:      "Duration of units of work in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"op"},
		),

		active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "transactions_active",
				Help:      "Number of units of work currently open",
			},
		),

		spansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "spans_total",
				Help:      "Total number of child spans recorded",
			},
			[]string{"op"},
		),

		spansDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "spans_dropped_total",
				Help:      "Total number of child spans dropped over the per-transaction limit",
			},
		),

		spansOrphaned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "spans_orphaned_total",
				Help:      "Total number of child spans still open when their transaction ended",
			},
		),
	}

	registry.MustRegister(
		tm.startedTotal,
		tm.finishedTotal,
		tm.abandonedTotal,
		tm.duration,
		tm.active,
		tm.spansTotal,
		tm.spansDropped,
		tm.spansOrphaned,
	)

	return tm
}

// RecordStarted records a unit of work being begun.
func (tm *TransactionMetrics) RecordStarted(op string) {
	tm.startedTotal.WithLabelValues(op).Inc()
	tm.active.Inc()
}

// RecordFinished records a unit of work that ended.
//
// Parameters:
//   - op: operation of the root span
//   - status: final span status ("ok", "not_found", ...), "unset" when empty
//   - exported: whether the transaction reached the exporter
//   - duration: root span duration
func (tm *TransactionMetrics) RecordFinished(op, status string, exported bool, duration time.Duration) {
	if status == "" {
		status = "unset"
	}
	tm.finishedTotal.WithLabelValues(op, status, strconv.FormatBool(exported)).Inc()
	tm.duration.WithLabelValues(op).Observe(duration.Seconds())
	tm.active.Dec()
}

// RecordAbandoned records a cancelled unit of work.
func (tm *TransactionMetrics) RecordAbandoned(op string) {
	tm.active.Dec()
	tm.abandonedTotal.WithLabelValues(op).Inc()
}

// RecordSpans records the child spans of a finished transaction.
func (tm *TransactionMetrics) RecordSpans(op string, count, dropped, orphaned int) {
	if count > 0 {
		tm.spansTotal.WithLabelValues(op).Add(float64(count))
	}
	if dropped > 0 {
		tm.spansDropped.Add(float64(dropped))
	}
	if orphaned > 0 {
		tm.spansOrphaned.Add(float64(orphaned))
	}
}
