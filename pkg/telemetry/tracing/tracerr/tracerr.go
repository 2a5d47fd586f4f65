// Package tracerr defines the fault taxonomy of the tracing engine and the
// Reporter through which every fault is surfaced.
//
// No fault is ever returned into a host's request path. Malformed headers
// degrade to "absent", invalid sample rates are clamped, double finishes are
// ignored, and negative queue times are clamped to zero. The Reporter only
// makes those events observable: it logs them (rate limited), counts them per
// kind and forwards them to an optional hook such as the metrics collector.
package tracerr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Kind classifies a fault.
type Kind string

const (
	// MalformedInput is bad header syntax. Treated as absence of the header.
	MalformedInput Kind = "malformed_input"

	// ConfigurationError is an invalid local setting, e.g. a sample rate
	// outside [0, 1]. The value is clamped.
	ConfigurationError Kind = "configuration_error"

	// ProtocolViolation is misuse of the engine API: finishing a span twice,
	// mutating a scope after teardown, starting a child under a closed root.
	ProtocolViolation Kind = "protocol_violation"

	// ClockSkew is a timestamp from the future, e.g. a negative queue time.
	ClockSkew Kind = "clock_skew"
)

// Kinds lists every fault kind in a stable order.
var Kinds = []Kind{MalformedInput, ConfigurationError, ProtocolViolation, ClockSkew}

// Fault describes one reported fault.
type Fault struct {
	Kind    Kind
	Op      string
	Message string
}

// Error implements error so a Fault can be logged or wrapped like any other
// error value by callers that want to.
func (f Fault) Error() string {
	return fmt.Sprintf("%s in %s: %s", f.Kind, f.Op, f.Message)
}

// Hook receives every reported fault, regardless of log rate limiting.
type Hook func(Fault)

// Default log limits: a flood of identical violations from one misbehaving
// caller should not drown the host's own logs.
const (
	DefaultLogsPerSecond = 10
	DefaultLogBurst      = 20
)

// Reporter logs, counts and forwards faults. It is safe for concurrent use.
type Reporter struct {
	logger  *slog.Logger
	limiter *rate.Limiter

	mu     sync.RWMutex
	hook   Hook
	counts map[Kind]*atomic.Int64

	suppressed atomic.Int64
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithLogLimit overrides the log rate limit. A limit of rate.Inf disables
// limiting.
func WithLogLimit(perSecond rate.Limit, burst int) ReporterOption {
	return func(r *Reporter) {
		r.limiter = rate.NewLimiter(perSecond, burst)
	}
}

// WithHook installs a hook at construction time.
func WithHook(h Hook) ReporterOption {
	return func(r *Reporter) {
		r.hook = h
	}
}

// NewReporter creates a Reporter. If logger is nil, slog.Default() is used.
func NewReporter(logger *slog.Logger, opts ...ReporterOption) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reporter{
		logger:  logger.With("component", "tracing.faults"),
		limiter: rate.NewLimiter(rate.Limit(DefaultLogsPerSecond), DefaultLogBurst),
		counts:  make(map[Kind]*atomic.Int64, len(Kinds)),
	}
	for _, k := range Kinds {
		r.counts[k] = &atomic.Int64{}
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// SetHook replaces the hook. Passing nil removes it.
func (r *Reporter) SetHook(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = h
}

// Report records a fault. It never panics and never blocks on I/O beyond the
// logger's own handler.
func (r *Reporter) Report(ctx context.Context, kind Kind, op, msg string, args ...any) {
	if r == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if c, ok := r.counts[kind]; ok {
		c.Add(1)
	}

	r.mu.RLock()
	hook := r.hook
	r.mu.RUnlock()
	if hook != nil {
		hook(Fault{Kind: kind, Op: op, Message: msg})
	}

	if !r.limiter.AllowN(time.Now(), 1) {
		r.suppressed.Add(1)
		return
	}

	attrs := make([]any, 0, len(args)+4)
	attrs = append(attrs, "fault", string(kind), "op", op)
	attrs = append(attrs, args...)
	r.logger.Log(ctx, levelFor(kind), msg, attrs...)
}

// Count returns how many faults of the given kind were reported.
func (r *Reporter) Count(kind Kind) int64 {
	if r == nil {
		return 0
	}
	if c, ok := r.counts[kind]; ok {
		return c.Load()
	}
	return 0
}

// Suppressed returns how many log lines were dropped by the rate limiter.
func (r *Reporter) Suppressed() int64 {
	if r == nil {
		return 0
	}
	return r.suppressed.Load()
}

// levelFor maps a fault kind to a log level. Malformed input and clock skew
// are routine on the open internet and only interesting while debugging.
func levelFor(kind Kind) slog.Level {
	switch kind {
	case ConfigurationError, ProtocolViolation:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}
