package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/tracekit/pkg/config"
)

// FaultMetrics tracks engine faults and captured errors.
//
// Metrics:
//   - tracekit_faults_total: faults reported by the engine, by kind
//   - tracekit_exceptions_captured_total: error events, by mechanism and grouping
//   - tracekit_exception_chain_length: exceptions per event
type FaultMetrics struct {
	faultsTotal     *prometheus.CounterVec
	exceptionsTotal *prometheus.CounterVec
	chainLength     prometheus.Histogram
}

// NewFaultMetrics creates and registers fault metrics with the provided registry.
func NewFaultMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *FaultMetrics {
	fm := &FaultMetrics{
		faultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "faults_total",
				Help:      "Total number of engine faults by kind",
			},
			[]string{"kind"},
		),

		exceptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "exceptions_captured_total",
				Help:      "Total number of captured error events",
			},
			[]string{"mechanism", "handled", "group"},
		),

		chainLength: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "exception_chain_length",
				Help:      "Number of exceptions in a captured error event",
				Buckets:   []float64{1, 2, 3, 5, 8, 13},
			},
		),
	}

	registry.MustRegister(
		fm.faultsTotal,
		fm.exceptionsTotal,
		fm.chainLength,
	)

	return fm
}

// RecordFault records one fault.
func (fm *FaultMetrics) RecordFault(kind string) {
	fm.faultsTotal.WithLabelValues(kind).Inc()
}

// RecordException records a captured error event.
//
// Parameters:
//   - mechanism: how the error was captured ("generic", "http", "grpc")
//   - handled: whether the host handled the error
//   - group: whether the root exception is an exception group
//   - chain: number of exceptions in the event
func (fm *FaultMetrics) RecordException(mechanism string, handled, group bool, chain int) {
	fm.exceptionsTotal.WithLabelValues(mechanism, strconv.FormatBool(handled), strconv.FormatBool(group)).Inc()
	fm.chainLength.Observe(float64(chain))
}
