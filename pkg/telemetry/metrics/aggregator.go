package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/tracekit/pkg/telemetry/tracing/scope"
)

// Attribute keys added from the active scope.
const (
	AttrUserID    = "user.id"
	AttrUserEmail = "user.email"
	AttrUserName  = "user.name"
	AttrTraceID   = "trace_id"
)

// Kind is the type of an application metric.
type Kind string

const (
	KindCounter      Kind = "counter"
	KindDistribution Kind = "distribution"
	KindGauge        Kind = "gauge"
)

// Aggregate is the accumulated state of one metric and attribute set over a
// flush interval.
type Aggregate struct {
	Name       string
	Kind       Kind
	Attributes map[string]string

	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Last  float64

	// TraceID is the trace of the most recent sample. It is not part of the
	// aggregation key.
	TraceID string
}

// Sink receives aggregates on every flush.
type Sink interface {
	Flush(ctx context.Context, aggs []Aggregate) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, aggs []Aggregate) error

func (f SinkFunc) Flush(ctx context.Context, aggs []Aggregate) error { return f(ctx, aggs) }

// LogSink writes every aggregate as one log line.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Flush(ctx context.Context, aggs []Aggregate) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, a := range aggs {
		args := []any{
			"metric", a.Name,
			"kind", string(a.Kind),
			"count", a.Count,
			"sum", a.Sum,
			"min", a.Min,
			"max", a.Max,
		}
		if a.TraceID != "" {
			args = append(args, AttrTraceID, a.TraceID)
		}
		for _, k := range sortedKeys(a.Attributes) {
			args = append(args, k, a.Attributes[k])
		}
		logger.InfoContext(ctx, "metric aggregate", args...)
	}
	return nil
}

// Aggregator buffers application metrics and hands them to a Sink on a cron
// schedule. Every sample is enriched with the user and trace id of the scope
// found in its context, so a metric emitted while handling a request can be
// tied back to who made it.
type Aggregator struct {
	sink     Sink
	schedule string
	logger   *slog.Logger

	mu      sync.Mutex
	buckets map[string]*Aggregate

	cronMu  sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewAggregator creates an aggregator flushing to sink. schedule uses the
// standard cron syntax, including descriptors such as "@every 10s".
func NewAggregator(sink Sink, schedule string, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		sink:     sink,
		schedule: schedule,
		logger:   logger.With("component", "metrics.aggregator"),
		buckets:  make(map[string]*Aggregate),
	}
}

// Incr adds value to a counter.
func (a *Aggregator) Incr(ctx context.Context, name string, value float64, attrs map[string]string) {
	a.add(ctx, name, KindCounter, value, attrs)
}

// Distribution records one observation of a distribution.
func (a *Aggregator) Distribution(ctx context.Context, name string, value float64, attrs map[string]string) {
	a.add(ctx, name, KindDistribution, value, attrs)
}

// Gauge sets a gauge. The last value wins; min and max are kept.
func (a *Aggregator) Gauge(ctx context.Context, name string, value float64, attrs map[string]string) {
	a.add(ctx, name, KindGauge, value, attrs)
}

// Timing records a duration in seconds as a distribution.
func (a *Aggregator) Timing(ctx context.Context, name string, d time.Duration, attrs map[string]string) {
	a.add(ctx, name, KindDistribution, d.Seconds(), attrs)
}

func (a *Aggregator) add(ctx context.Context, name string, kind Kind, value float64, attrs map[string]string) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}

	merged, traceID := enrich(ctx, attrs)
	key := bucketKey(name, kind, merged)

	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buckets[key]
	if !ok {
		b = &Aggregate{Name: name, Kind: kind, Attributes: merged, Min: value, Max: value}
		a.buckets[key] = b
	}
	b.Count++
	b.Sum += value
	b.Last = value
	if traceID != "" {
		b.TraceID = traceID
	}
	if value < b.Min {
		b.Min = value
	}
	if value > b.Max {
		b.Max = value
	}
}

// enrich copies attrs and adds the scope's user. Attributes the caller set
// are kept. The trace id is returned separately.
func enrich(ctx context.Context, attrs map[string]string) (map[string]string, string) {
	out := make(map[string]string, len(attrs)+3)
	var traceID string
	if sc := scope.FromContext(ctx); sc != nil {
		u := sc.User()
		setIfNotEmpty(out, AttrUserID, u.ID)
		setIfNotEmpty(out, AttrUserEmail, u.Email)
		setIfNotEmpty(out, AttrUserName, u.Username)
		if tc := sc.TraceContext(); tc.TraceID.IsValid() {
			traceID = tc.TraceID.String()
		}
	}
	for k, v := range attrs {
		out[k] = v
	}
	return out, traceID
}

func setIfNotEmpty(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}

func bucketKey(name string, kind Kind, attrs map[string]string) string {
	var b strings.Builder
	b.WriteString(string(kind))
	b.WriteByte('|')
	b.WriteString(name)
	for _, k := range sortedKeys(attrs) {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(attrs[k])
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Pending returns the number of buffered aggregates.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets)
}

// Flush hands the buffered aggregates to the sink and resets the buffer.
// Aggregates are sorted by kind, name and attributes. On sink failure they are
// dropped.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	if len(a.buckets) == 0 {
		a.mu.Unlock()
		return nil
	}
	buckets := a.buckets
	a.buckets = make(map[string]*Aggregate)
	a.mu.Unlock()

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	aggs := make([]Aggregate, 0, len(keys))
	for _, k := range keys {
		aggs = append(aggs, *buckets[k])
	}

	if err := a.sink.Flush(ctx, aggs); err != nil {
		return fmt.Errorf("failed to flush %d aggregates: %w", len(aggs), err)
	}
	return nil
}

// Start begins flushing on the schedule. The aggregator is stopped, with a
// final flush, when ctx is cancelled.
func (a *Aggregator) Start(ctx context.Context) error {
	a.cronMu.Lock()
	defer a.cronMu.Unlock()

	if a.running {
		return nil
	}

	if _, err := cron.ParseStandard(a.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", a.schedule, err)
	}

	a.cron = cron.New()
	_, err := a.cron.AddFunc(a.schedule, func() {
		a.runFlush(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule flush: %w", err)
	}

	a.cron.Start()
	a.running = true
	a.logger.Info("metric aggregator started", "schedule", a.schedule)

	go func() {
		<-ctx.Done()
		a.Stop()
	}()

	return nil
}

func (a *Aggregator) runFlush(ctx context.Context) {
	if err := a.Flush(ctx); err != nil {
		a.logger.Error("scheduled flush failed", "error", err)
	}
}

// Stop stops the schedule, waits for a running flush and flushes what is
// left.
func (a *Aggregator) Stop() {
	a.cronMu.Lock()
	defer a.cronMu.Unlock()

	if !a.running {
		return
	}
	done := a.cron.Stop()
	<-done.Done()
	a.running = false

	if err := a.Flush(context.Background()); err != nil {
		a.logger.Error("final flush failed", "error", err)
	}
	a.logger.Info("metric aggregator stopped")
}

// IsRunning returns true if the schedule is active.
func (a *Aggregator) IsRunning() bool {
	a.cronMu.Lock()
	defer a.cronMu.Unlock()
	return a.running
}

// NextFlush returns the next scheduled flush time, or nil when not running.
func (a *Aggregator) NextFlush() *time.Time {
	a.cronMu.Lock()
	defer a.cronMu.Unlock()

	if !a.running {
		return nil
	}
	entries := a.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
