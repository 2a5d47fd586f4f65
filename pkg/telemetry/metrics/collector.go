package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/tracekit/pkg/config"
	"mercator-hq/tracekit/pkg/telemetry/tracing"
	"mercator-hq/tracekit/pkg/telemetry/tracing/exception"
	"mercator-hq/tracekit/pkg/telemetry/tracing/queuetime"
	"mercator-hq/tracekit/pkg/telemetry/tracing/sampling"
	"mercator-hq/tracekit/pkg/telemetry/tracing/span"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracerr"
)

// OtherOp replaces op label values once the cardinality limit is reached.
const OtherOp = "other"

// Collector records the engine's instrumentation points as Prometheus
// metrics. It implements tracing.Observer; register it with
// tracing.WithObserver.
//
// Op names come from host code and may be unbounded, so they pass through a
// CardinalityLimiter before being used as label values.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	samplingMetrics    *SamplingMetrics
	transactionMetrics *TransactionMetrics
	faultMetrics       *FaultMetrics
	requestMetrics     *RequestMetrics

	cardinalityLimiter *CardinalityLimiter
}

var _ tracing.Observer = (*Collector)(nil)

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a new registry is created.
//
// Example:
//
//	cfg := config.Default().Telemetry.Metrics
//	collector := metrics.NewCollector(&cfg, nil)
//	tracer, err := tracing.New(&c.Tracing, tracing.WithObserver(collector))
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	// Set defaults if not specified
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = append([]float64(nil), config.DefaultDurationBuckets...)
	}
	if len(cfg.QueueTimeBuckets) == 0 {
		cfg.QueueTimeBuckets = append([]float64(nil), config.DefaultQueueTimeBuckets...)
	}
	if cfg.MaxCardinality <= 0 {
		cfg.MaxCardinality = config.DefaultMetricsMaxCardinality
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(cfg.MaxCardinality),
	}

	c.samplingMetrics = NewSamplingMetrics(cfg, registry)
	c.transactionMetrics = NewTransactionMetrics(cfg, registry)
	c.faultMetrics = NewFaultMetrics(cfg, registry)
	c.requestMetrics = NewRequestMetrics(cfg, registry)

	return c
}

// op returns a bounded label value for an op.
func (c *Collector) op(op string) string {
	if op == "" {
		return "default"
	}
	if !c.cardinalityLimiter.Allow(op) {
		return OtherOp
	}
	return op
}

// Decision records a sampling decision.
func (c *Collector) Decision(_ context.Context, d sampling.Decision) {
	if !c.config.Enabled {
		return
	}

	sampled, _ := d.Sampled.Bool()
	c.samplingMetrics.RecordDecision(d.Origin.String(), d.Reason, sampled)
	if d.Origin == sampling.OriginHead && d.HasSampleRate {
		c.samplingMetrics.SetEffectiveRate(d.SampleRate)
	}
}

// TransactionStarted records a unit of work being begun.
func (c *Collector) TransactionStarted(_ context.Context, root *span.Span) {
	if !c.config.Enabled {
		return
	}

	c.transactionMetrics.RecordStarted(c.op(root.Op()))
}

// TransactionFinished records a unit of work that ended, with its children.
func (c *Collector) TransactionFinished(tx span.Transaction, exported bool) {
	if !c.config.Enabled {
		return
	}

	op := c.op(tx.Root.Op)
	c.transactionMetrics.RecordFinished(op, string(tx.Root.Status), exported, tx.Root.Duration())
	c.transactionMetrics.RecordSpans(op, len(tx.Spans), tx.Dropped, tx.Orphans())
}

// TransactionAbandoned records a cancelled unit of work.
func (c *Collector) TransactionAbandoned(root *span.Span) {
	if !c.config.Enabled {
		return
	}

	c.transactionMetrics.RecordAbandoned(c.op(root.Op()))
}

// ExceptionCaptured records an error event.
func (c *Collector) ExceptionCaptured(_ context.Context, _ string, excs []exception.Exception) {
	if !c.config.Enabled || len(excs) == 0 {
		return
	}

	m := excs[0].Mechanism
	c.faultMetrics.RecordException(m.Type, m.Handled, m.IsExceptionGroup, len(excs))
}

// QueueTime records the request queue time of the active unit of work.
func (c *Collector) QueueTime(ctx context.Context, r queuetime.Result) {
	if !c.config.Enabled {
		return
	}

	op := ""
	if s := tracing.SpanFromContext(ctx); s != nil {
		op = s.Op()
	}
	c.requestMetrics.RecordQueueTime(c.op(op), r.Duration, r.Skewed)
}

// Fault records an engine fault.
func (c *Collector) Fault(f tracerr.Fault) {
	if !c.config.Enabled {
		return
	}

	c.faultMetrics.RecordFault(string(f.Kind))
}

// Registry returns the Prometheus registry used by this collector.
// This can be used to create an HTTP handler for the /metrics endpoint:
//
//	http.Handle("/metrics", promhttp.HandlerFor(
//		collector.Registry(),
//		promhttp.HandlerOpts{},
//	))
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of distinct values admitted for a label.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow checks if a value is allowed. Returns true if the value was seen
// before or if the limit has not been reached yet.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[value]; exists {
		return true
	}

	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
