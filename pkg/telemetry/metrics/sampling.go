package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/tracekit/pkg/config"
)

// SamplingMetrics tracks sampling decisions.
//
// Metrics:
//   - tracekit_sampling_decisions_total: decisions by origin, reason and outcome
//   - tracekit_sampling_effective_rate: rate of the most recent head decision
type SamplingMetrics struct {
	decisionsTotal *prometheus.CounterVec
	effectiveRate  prometheus.Gauge
}

// NewSamplingMetrics creates and registers sampling metrics with the provided registry.
func NewSamplingMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *SamplingMetrics {
	sm := &SamplingMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "sampling_decisions_total",
				Help:      "Total number of sampling decisions",
			},
			[]string{"origin", "reason", "sampled"},
		),

		effectiveRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "sampling_effective_rate",
				Help:      "Sample rate applied to the most recent new trace",
			},
		),
	}

	registry.MustRegister(
		sm.decisionsTotal,
		sm.effectiveRate,
	)

	return sm
}

// RecordDecision records one decision.
//
// Parameters:
//   - origin: "head" or "continued"
//   - reason: "inherited", "deferred", "rate" or "rate_zero"
//   - sampled: the outcome
func (sm *SamplingMetrics) RecordDecision(origin, reason string, sampled bool) {
	sm.decisionsTotal.WithLabelValues(origin, reason, strconv.FormatBool(sampled)).Inc()
}

// SetEffectiveRate updates the rate gauge.
func (sm *SamplingMetrics) SetEffectiveRate(rate float64) {
	sm.effectiveRate.Set(rate)
}
