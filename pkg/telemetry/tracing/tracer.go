package tracing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"mercator-hq/tracekit/pkg/config"
	"mercator-hq/tracekit/pkg/telemetry/tracing/baggage"
	"mercator-hq/tracekit/pkg/telemetry/tracing/dsc"
	"mercator-hq/tracekit/pkg/telemetry/tracing/exception"
	"mercator-hq/tracekit/pkg/telemetry/tracing/export"
	"mercator-hq/tracekit/pkg/telemetry/tracing/sampling"
	"mercator-hq/tracekit/pkg/telemetry/tracing/scope"
	"mercator-hq/tracekit/pkg/telemetry/tracing/span"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracerr"
)

// Transaction name sources.
const (
	SourceCustom = "custom"
	SourceURL    = "url"
	SourceRoute  = "route"
)

// Tracer begins units of work, resolves their sampling decision and hands
// finished transactions and captured errors to an exporter.
//
// A Tracer holds no per-request state. Everything that belongs to one unit of
// work travels in the context returned by Begin, so a single Tracer serves
// any number of concurrent units of work.
type Tracer struct {
	cfg config.TracingConfig

	resolver   *sampling.Resolver
	propagator *Propagator
	exporter   export.Exporter
	reporter   *tracerr.Reporter
	logger     *slog.Logger
	observers  observers

	enabled  bool
	shutdown atomic.Bool
}

// Option configures a Tracer.
type Option func(*options)

type options struct {
	exporter  export.Exporter
	logger    *slog.Logger
	reporter  *tracerr.Reporter
	sampler   sampling.SamplerFunc
	observers []Observer
}

// WithExporter sets the exporter. The default logs a summary line per item.
func WithExporter(e export.Exporter) Option {
	return func(o *options) { o.exporter = e }
}

// WithLogger sets the logger used by the tracer and its default reporter.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithReporter sets the fault reporter. Its hook is replaced when observers
// are registered.
func WithReporter(r *tracerr.Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithSampler installs a custom sampling function for locally taken
// decisions. It takes precedence over the configured rate.
func WithSampler(fn sampling.SamplerFunc) Option {
	return func(o *options) { o.sampler = fn }
}

// WithObserver registers observers. They are called in registration order.
func WithObserver(obs ...Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs...) }
}

// New creates a Tracer from cfg.
//
// When cfg.Enabled is false the tracer still resolves decisions and
// propagates headers, but nothing is exported.
//
// The tracer must be shut down when no longer needed:
//
//	defer tracer.Shutdown(context.Background())
func New(cfg *config.TracingConfig, opts ...Option) (*Tracer, error) {
	if cfg == nil {
		return nil, errors.New("tracing config is nil")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	reporter := o.reporter
	if reporter == nil {
		limit := rate.Limit(cfg.FaultLogRate)
		if cfg.FaultLogRate <= 0 {
			limit = rate.Limit(tracerr.DefaultLogsPerSecond)
		}
		reporter = tracerr.NewReporter(logger, tracerr.WithLogLimit(limit, max(1, int(2*float64(limit)))))
	}

	t := &Tracer{
		cfg:       *cfg,
		reporter:  reporter,
		logger:    logger.With("component", "tracing"),
		observers: observers(o.observers),
		enabled:   cfg.Enabled,
	}
	if len(t.observers) > 0 {
		reporter.SetHook(t.observers.Fault)
	}

	resolver, err := sampling.NewResolver(sampling.Config{
		Strategy:   cfg.Sampler,
		SampleRate: cfg.EffectiveSampleRate(),
		Sampler:    o.sampler,
		Reporter:   reporter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sampler: %w", err)
	}
	t.resolver = resolver

	propagator, err := NewPropagator(PropagatorConfig{
		Targets:         cfg.PropagationTargets,
		EmitSentryTrace: cfg.EmitSentryTrace,
		Reporter:        reporter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create propagator: %w", err)
	}
	t.propagator = propagator

	switch {
	case !cfg.Enabled:
		t.exporter = export.Discard{}
	case o.exporter != nil:
		t.exporter = o.exporter
	default:
		t.exporter = export.NewLogExporter(logger)
	}

	return t, nil
}

// Enabled returns whether tracing is enabled.
func (t *Tracer) Enabled() bool {
	return t.enabled
}

// Propagator returns the tracer's header propagator.
func (t *Tracer) Propagator() *Propagator {
	return t.propagator
}

// Reporter returns the tracer's fault reporter.
func (t *Tracer) Reporter() *tracerr.Reporter {
	return t.reporter
}

// SampleRate returns the current local sample rate.
func (t *Tracer) SampleRate() float64 {
	return t.resolver.SampleRate()
}

// SetSampleRate replaces the local sample rate for units of work begun from
// now on. Out of range values are clamped and reported.
func (t *Tracer) SetSampleRate(r float64) {
	t.resolver.SetSampleRate(r)
	t.logger.Info("sample rate updated", "sample_rate", t.resolver.SampleRate())
}

// Exporter returns the exporter units of work and events are handed to.
func (t *Tracer) Exporter() export.Exporter {
	return t.exporter
}

// Closed reports whether Shutdown was called.
func (t *Tracer) Closed() bool {
	return t.shutdown.Load()
}

// Shutdown shuts the exporter down. Units of work ending afterwards are
// dropped. Calling Shutdown twice is a no-op.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.shutdown.Swap(true) {
		return nil
	}
	return t.exporter.Shutdown(ctx)
}

// BeginOption configures a unit of work.
type BeginOption func(*beginOptions)

type beginOptions struct {
	op         string
	source     string
	start      time.Time
	attributes map[string]any
}

// WithOp sets the operation of the root span, e.g. "http.server".
func WithOp(op string) BeginOption {
	return func(o *beginOptions) { o.op = op }
}

// WithSource records how the transaction name was derived.
func WithSource(source string) BeginOption {
	return func(o *beginOptions) { o.source = source }
}

// WithStartTime backdates the root span.
func WithStartTime(ts time.Time) BeginOption {
	return func(o *beginOptions) { o.start = ts }
}

// WithAttributes passes values to a custom sampler.
func WithAttributes(attrs map[string]any) BeginOption {
	return func(o *beginOptions) { o.attributes = attrs }
}

// Begin starts a unit of work named name.
//
// Inbound headers stored in ctx by Extract decide whether the unit of work
// continues an upstream trace or starts a new one. The returned context
// carries the unit of work's scope and must be passed to everything that
// runs on its behalf.
//
// If ctx is cancelled before End, the unit of work is abandoned: its scope is
// discarded at once, the root span is marked cancelled and nothing is
// exported.
func (t *Tracer) Begin(ctx context.Context, name string, opts ...BeginOption) (context.Context, *Transaction) {
	bo := beginOptions{op: "default", source: SourceCustom}
	for _, opt := range opts {
		opt(&bo)
	}

	ib := inboundFrom(ctx)
	incoming, hasDSC := dsc.FromBaggage(ib.baggage)

	d := t.resolver.Resolve(ctx, sampling.Input{
		Incoming:   ib.incoming,
		DSC:        incoming,
		HasDSC:     hasDSC,
		Name:       name,
		Op:         bo.op,
		Attributes: bo.attributes,
	})
	t.observers.Decision(ctx, d)

	tx := &Transaction{
		tracer:   t,
		decision: d,
		dsc:      t.freeze(d, name, ib.baggage, incoming, hasDSC),
	}
	tx.root = span.NewTransaction(d.TraceContext(), span.Options{
		Name:      name,
		Op:        bo.op,
		Source:    bo.source,
		StartTime: bo.start,
		OnFinish:  tx.finished,
		MaxSpans:  t.cfg.MaxSpans,
		Reporter:  t.reporter,
	})
	tx.root.Start()
	tx.root.SetData(DataSampleReason, d.Reason)
	tx.scope = scope.New(tx.root, tx.dsc, t.reporter)

	ctx = scope.NewContext(ctx, tx.scope)
	ctx = context.WithValue(ctx, transactionKey{}, tx)
	tx.stop = context.AfterFunc(ctx, tx.abandon)

	t.observers.TransactionStarted(ctx, tx.root)
	return ctx, tx
}

// freeze returns the DSC of the unit of work. A continued trace keeps the
// upstream DSC as received. Everything else gets a DSC generated here, which
// forwards any third-party baggage.
func (t *Tracer) freeze(d sampling.Decision, name string, bag baggage.Baggage, incoming dsc.DSC, hasDSC bool) dsc.DSC {
	if d.Origin == sampling.OriginContinued && hasDSC {
		return incoming
	}
	return dsc.Builder{
		TraceID:       d.TraceID,
		PublicKey:     t.cfg.PublicKey,
		Release:       t.cfg.Release,
		Environment:   t.cfg.Environment,
		Transaction:   name,
		SampleRate:    d.SampleRate,
		HasSampleRate: d.HasSampleRate,
		Sampled:       d.Sampled,
		ThirdParty:    bag,
	}.Build()
}

// CaptureOption configures CaptureException.
type CaptureOption func(*exception.Options)

// WithMechanism records how the error was caught. Errors recovered from a
// panic are unhandled.
func WithMechanism(mechanism string, handled bool) CaptureOption {
	return func(o *exception.Options) {
		o.MechanismType = mechanism
		o.Handled = handled
	}
}

// CaptureException turns err into an event, stamps it with the active
// scope's trace ids and data, and hands it to the exporter. It returns the
// event id, or "" for a nil error.
func (t *Tracer) CaptureException(ctx context.Context, err error, opts ...CaptureOption) string {
	if err == nil {
		return ""
	}

	eo := exception.Options{Handled: true, MaxDepth: t.cfg.MaxExceptionDepth}
	for _, opt := range opts {
		opt(&eo)
	}
	excs := exception.Classify(err, eo)

	ev := export.Event{
		EventID:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		Timestamp:   time.Now(),
		Level:       "error",
		Exceptions:  excs,
		Release:     t.cfg.Release,
		Environment: t.cfg.Environment,
	}
	if sc := scope.FromContext(ctx); sc != nil {
		snap := sc.Snapshot()
		ev.TraceID = snap.TraceContext.TraceID
		ev.SpanID = snap.TraceContext.SpanID
		ev.User = snap.User
		ev.Tags = snap.Tags
		ev.Extra = snap.Extra
		ev.Contexts = snap.Contexts
	}
	if tx := TransactionFromContext(ctx); tx != nil {
		ev.Transaction = tx.root.Name()
	}

	if t.shutdown.Load() {
		t.logger.WarnContext(ctx, "event dropped after shutdown", "event_id", ev.EventID)
	} else if err := t.exporter.CaptureEvent(context.WithoutCancel(ctx), ev); err != nil {
		t.logger.WarnContext(ctx, "failed to export event", "event_id", ev.EventID, "error", err)
	}

	t.observers.ExceptionCaptured(ctx, ev.EventID, excs)
	return ev.EventID
}

type transactionKey struct{}

// TransactionFromContext returns the unit of work carried by ctx, or nil.
func TransactionFromContext(ctx context.Context) *Transaction {
	tx, _ := ctx.Value(transactionKey{}).(*Transaction)
	return tx
}

const (
	txOpen int32 = iota
	txEnded
	txAbandoned
)

// Transaction is one unit of work.
type Transaction struct {
	tracer   *Tracer
	root     *span.Span
	scope    *scope.Scope
	decision sampling.Decision
	dsc      dsc.DSC

	state atomic.Int32
	stop  func() bool
}

// Span returns the root span.
func (tx *Transaction) Span() *span.Span { return tx.root }

// Scope returns the root scope.
func (tx *Transaction) Scope() *scope.Scope { return tx.scope }

// Decision returns the sampling decision the unit of work was begun with.
func (tx *Transaction) Decision() sampling.Decision { return tx.decision }

// DSC returns the frozen dynamic sampling context.
func (tx *Transaction) DSC() dsc.DSC { return tx.dsc }

// Abandoned reports whether the unit of work was cancelled before End.
func (tx *Transaction) Abandoned() bool { return tx.state.Load() == txAbandoned }

// End ends the unit of work. A root span without a status is finished as ok.
func (tx *Transaction) End() {
	tx.EndWithStatus(span.StatusUnset)
}

// EndWithStatus ends the unit of work with status st, exporting it if it is
// sampled. Ending twice is a protocol violation; ending an abandoned unit of
// work is a no-op.
func (tx *Transaction) EndWithStatus(st span.Status) {
	if !tx.state.CompareAndSwap(txOpen, txEnded) {
		if tx.state.Load() == txEnded {
			tx.tracer.reporter.Report(context.Background(), tracerr.ProtocolViolation, "transaction.end",
				"unit of work ended twice", "trace_id", tx.decision.TraceID.String())
		}
		return
	}
	tx.stop()

	if tx.root.State() != span.StateFinished {
		if st == span.StatusUnset && tx.root.Status() == span.StatusUnset {
			st = span.StatusOK
		}
		tx.root.FinishWithStatus(st)
	}
	tx.scope.End()
}

func (tx *Transaction) abandon() {
	if !tx.state.CompareAndSwap(txOpen, txAbandoned) {
		return
	}
	tx.root.Abandon()
	tx.scope.End()
	tx.tracer.observers.TransactionAbandoned(tx.root)
}

// finished runs synchronously inside the root span's Finish, before the
// scope is torn down.
func (tx *Transaction) finished(data span.Transaction) {
	t := tx.tracer
	exported := false

	if data.Root.Sampled && !t.shutdown.Load() {
		snap := tx.scope.Snapshot()
		err := t.exporter.ExportTransaction(context.Background(), export.Transaction{
			Transaction: data,
			User:        snap.User,
			Tags:        snap.Tags,
			Extra:       snap.Extra,
			Baggage:     tx.dsc.String(),
		})
		if err != nil {
			t.logger.Warn("failed to export transaction",
				"trace_id", data.Root.TraceID.String(),
				"error", err,
			)
		} else {
			exported = true
		}
	}

	t.observers.TransactionFinished(data, exported)
}
