package export

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"mercator-hq/tracekit/pkg/telemetry/tracing/span"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracecontext"
)

// ErrShutdown is returned by exporters that have been shut down.
var ErrShutdown = errors.New("exporter is shut down")

const instrumentationName = "mercator-hq/tracekit"

// Attribute keys added by the OTel bridge.
const (
	AttrOp          = "tracekit.op"
	AttrSource      = "tracekit.transaction.source"
	AttrOrphaned    = "tracekit.orphaned"
	AttrDropped     = "tracekit.spans.dropped"
	AttrBaggage     = "tracekit.baggage"
	AttrTagPrefix   = "tracekit.tag."
	AttrEventID     = "tracekit.event_id"
	AttrGroup       = "exception.group"
	AttrExceptionID = "exception.id"
	AttrParentID    = "exception.parent_id"
	AttrSourceField = "exception.source"
	AttrEnduserID   = "enduser.id"
	AttrEnduserName = "enduser.name"
)

// OTelConfig configures the OTLP gRPC exporter.
type OTelConfig struct {
	Endpoint string
	Insecure bool
	Timeout  time.Duration
	Headers  map[string]string

	ServiceName    string
	ServiceVersion string
	Environment    string
}

// OTelExporter replays finished transactions into an OpenTelemetry tracer
// provider. Spans keep the trace and span ids the engine assigned.
type OTelExporter struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	closed   atomic.Bool
}

// NewOTel creates an exporter that ships spans to an OTLP gRPC collector.
func NewOTel(ctx context.Context, cfg OTelConfig) (*OTelExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(instrumentationName)),
	}

	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	exp, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := NewResource(ctx, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	return NewOTelWithProvider(sdktrace.WithBatcher(exp), res), nil
}

// NewResource describes the service spans are reported for.
func NewResource(ctx context.Context, service, version, environment string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(service)}
	if version != "" {
		attrs = append(attrs, semconv.ServiceVersion(version))
	}
	if environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(environment))
	}

	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// NewOTelWithProvider builds the bridge around a span processor option such
// as sdktrace.WithBatcher or sdktrace.WithSyncer.
func NewOTelWithProvider(processor sdktrace.TracerProviderOption, res *resource.Resource) *OTelExporter {
	opts := []sdktrace.TracerProviderOption{
		processor,
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithIDGenerator(idGenerator{}),
	}
	if res != nil {
		opts = append(opts, sdktrace.WithResource(res))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	return &OTelExporter{
		provider: provider,
		tracer:   provider.Tracer(instrumentationName),
	}
}

// ExportTransaction converts the transaction and its spans to OTel spans.
func (e *OTelExporter) ExportTransaction(ctx context.Context, tx Transaction) error {
	if e.closed.Load() {
		return ErrShutdown
	}

	root := tx.Root
	base := parentContext(ctx, root.TraceID, root.ParentSpanID)

	attrs := spanAttributes(root)
	attrs = append(attrs, userAttributes(tx)...)
	for k, v := range tx.Tags {
		attrs = append(attrs, attribute.String(AttrTagPrefix+k, v))
	}
	for k, v := range tx.Extra {
		attrs = append(attrs, toAttribute(k, v))
	}
	if tx.Baggage != "" {
		attrs = append(attrs, attribute.String(AttrBaggage, tx.Baggage))
	}
	if tx.Dropped > 0 {
		attrs = append(attrs, attribute.Int(AttrDropped, tx.Dropped))
	}

	rootCtx, rootSpan := e.tracer.Start(
		withIDs(base, root.TraceID, root.SpanID),
		spanName(root),
		trace.WithTimestamp(root.Start),
		trace.WithSpanKind(spanKind(root.Op, true)),
		trace.WithAttributes(attrs...),
	)

	parents := map[trace.SpanID]context.Context{root.SpanID: rootCtx}
	for _, c := range tx.Spans {
		pctx, ok := parents[c.ParentSpanID]
		if !ok {
			pctx = rootCtx
		}
		cctx, s := e.tracer.Start(
			withIDs(pctx, c.TraceID, c.SpanID),
			spanName(c),
			trace.WithTimestamp(c.Start),
			trace.WithSpanKind(spanKind(c.Op, false)),
			trace.WithAttributes(spanAttributes(c)...),
		)
		parents[c.SpanID] = cctx
		end(s, c)
	}

	end(rootSpan, root)
	return nil
}

// CaptureEvent records the event as an "exception" span attached to the span
// that was active when the error was captured.
func (e *OTelExporter) CaptureEvent(ctx context.Context, ev Event) error {
	if e.closed.Load() {
		return ErrShutdown
	}

	base := parentContext(ctx, ev.TraceID, ev.SpanID)
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	attrs := []attribute.KeyValue{attribute.String(AttrEventID, ev.EventID)}
	if ev.User.ID != "" {
		attrs = append(attrs, attribute.String(AttrEnduserID, ev.User.ID))
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, attribute.String(AttrTagPrefix+k, v))
	}

	_, s := e.tracer.Start(base, "exception",
		trace.WithTimestamp(ts),
		trace.WithAttributes(attrs...),
	)
	for _, ex := range ev.Exceptions {
		eattrs := []attribute.KeyValue{
			semconv.ExceptionType(ex.Type),
			semconv.ExceptionMessage(ex.Value),
			attribute.Bool(AttrGroup, ex.Mechanism.IsExceptionGroup),
			attribute.Int(AttrExceptionID, ex.Mechanism.ExceptionID),
		}
		if ex.Mechanism.ParentID != nil {
			eattrs = append(eattrs, attribute.Int(AttrParentID, *ex.Mechanism.ParentID))
		}
		if ex.Mechanism.Source != "" {
			eattrs = append(eattrs, attribute.String(AttrSourceField, ex.Mechanism.Source))
		}
		s.AddEvent(semconv.ExceptionEventName, trace.WithTimestamp(ts), trace.WithAttributes(eattrs...))
	}
	if len(ev.Exceptions) > 0 {
		s.SetStatus(codes.Error, ev.Exceptions[0].Value)
	}
	s.End(trace.WithTimestamp(ts))
	return nil
}

// ForceFlush exports all buffered spans.
func (e *OTelExporter) ForceFlush(ctx context.Context) error {
	return e.provider.ForceFlush(ctx)
}

// Shutdown flushes buffered spans and stops the provider.
func (e *OTelExporter) Shutdown(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}
	return e.provider.Shutdown(ctx)
}

func end(s trace.Span, d span.Data) {
	switch {
	case d.Status.IsError():
		s.SetStatus(codes.Error, string(d.Status))
	case d.Status == span.StatusOK:
		s.SetStatus(codes.Ok, "")
	}
	endAt := d.End
	if endAt.IsZero() {
		endAt = d.Start
	}
	s.End(trace.WithTimestamp(endAt))
}

// parentContext returns a context whose parent is the remote span id, or no
// parent at all. Any span already in ctx is hidden.
func parentContext(ctx context.Context, traceID trace.TraceID, parent trace.SpanID) context.Context {
	if !parent.IsValid() {
		return trace.ContextWithSpanContext(ctx, trace.SpanContext{})
	}
	return trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     parent,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
}

func spanName(d span.Data) string {
	if d.Name != "" {
		return d.Name
	}
	if d.Op != "" {
		return d.Op
	}
	return "span"
}

func spanKind(op string, root bool) trace.SpanKind {
	switch {
	case strings.HasSuffix(op, ".server"):
		return trace.SpanKindServer
	case strings.HasSuffix(op, ".client"):
		return trace.SpanKindClient
	case strings.HasPrefix(op, "queue.") || strings.HasPrefix(op, "messaging."):
		return trace.SpanKindConsumer
	case root:
		return trace.SpanKindServer
	default:
		return trace.SpanKindInternal
	}
}

func spanAttributes(d span.Data) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(d.Data)+len(d.Tags)+3)
	if d.Op != "" {
		attrs = append(attrs, attribute.String(AttrOp, d.Op))
	}
	if d.Source != "" {
		attrs = append(attrs, attribute.String(AttrSource, d.Source))
	}
	if d.Orphaned {
		attrs = append(attrs, attribute.Bool(AttrOrphaned, true))
	}

	keys := make([]string, 0, len(d.Data))
	for k := range d.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, toAttribute(k, d.Data[k]))
	}
	for k, v := range d.Tags {
		attrs = append(attrs, attribute.String(AttrTagPrefix+k, v))
	}
	return attrs
}

func userAttributes(tx Transaction) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if tx.User.ID != "" {
		attrs = append(attrs, attribute.String(AttrEnduserID, tx.User.ID))
	}
	if tx.User.Username != "" {
		attrs = append(attrs, attribute.String(AttrEnduserName, tx.User.Username))
	}
	return attrs
}

func toAttribute(k string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(k, val)
	case bool:
		return attribute.Bool(k, val)
	case int:
		return attribute.Int(k, val)
	case int64:
		return attribute.Int64(k, val)
	case float64:
		return attribute.Float64(k, val)
	case time.Duration:
		return attribute.Float64(k, float64(val)/float64(time.Millisecond))
	case []string:
		return attribute.StringSlice(k, val)
	case fmt.Stringer:
		return attribute.String(k, val.String())
	default:
		return attribute.String(k, fmt.Sprint(val))
	}
}

type idsKey struct{}

type ids struct {
	traceID trace.TraceID
	spanID  trace.SpanID
}

func withIDs(ctx context.Context, traceID trace.TraceID, spanID trace.SpanID) context.Context {
	return context.WithValue(ctx, idsKey{}, ids{traceID: traceID, spanID: spanID})
}

// idGenerator hands the SDK the ids stored by withIDs and falls back to
// random ids.
type idGenerator struct{}

func (idGenerator) NewIDs(ctx context.Context) (trace.TraceID, trace.SpanID) {
	if v, ok := ctx.Value(idsKey{}).(ids); ok && v.traceID.IsValid() && v.spanID.IsValid() {
		return v.traceID, v.spanID
	}
	return tracecontext.NewTraceID(), tracecontext.NewSpanID()
}

func (idGenerator) NewSpanID(ctx context.Context, _ trace.TraceID) trace.SpanID {
	if v, ok := ctx.Value(idsKey{}).(ids); ok && v.spanID.IsValid() {
		return v.spanID
	}
	return tracecontext.NewSpanID()
}
