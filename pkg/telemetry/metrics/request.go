package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/tracekit/pkg/config"
)

// RequestMetrics tracks request-level timings measured by the HTTP middleware.
//
// Metrics:
//   - tracekit_request_queue_time_seconds: time between the proxy stamping
//     X-Request-Start and the service picking the request up
//   - tracekit_request_queue_time_skewed_total: queue times clamped because the
//     proxy clock was ahead
type RequestMetrics struct {
	queueTime *prometheus.HistogramVec
	skewed    prometheus.Counter
}

// NewRequestMetrics creates and registers request metrics with the provided registry.
func NewRequestMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		queueTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_queue_time_seconds",
				Help:      "Time requests spent queued before reaching the service",
				Buckets:   cfg.QueueTimeBuckets,
			},
			[]string{"op"},
		),

		skewed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_queue_time_skewed_total",
				Help:      "Total number of queue times clamped to zero due to clock skew",
			},
		),
	}

	registry.MustRegister(
		rm.queueTime,
		rm.skewed,
	)

	return rm
}

// RecordQueueTime records a queue time measurement.
func (rm *RequestMetrics) RecordQueueTime(op string, d time.Duration, skewed bool) {
	if skewed {
		rm.skewed.Inc()
	}
	rm.queueTime.WithLabelValues(op).Observe(d.Seconds())
}
