package tracing

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/propagation"

	"mercator-hq/tracekit/pkg/telemetry/tracing/baggage"
	"mercator-hq/tracekit/pkg/telemetry/tracing/dsc"
	"mercator-hq/tracekit/pkg/telemetry/tracing/scope"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracecontext"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracerr"
)

// Trace Context Propagation
//
// Inbound, Extract reads
//
//	traceparent:  00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01
//	sentry-trace: 4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-1
//	baggage:      sentry-trace_id=4bf9...,sentry-sample_rate=0.1,vendor=x
//
// and stores them in the context, where Begin picks them up. traceparent
// wins when both trace headers are present. A malformed trace header is
// reported and treated as absent.
//
// Outbound, Inject writes the active span as traceparent (and sentry-trace
// when enabled) plus the frozen DSC as baggage. Baggage members already on
// the outgoing carrier that are not vendor members are kept.

// PropagatorConfig configures a Propagator.
type PropagatorConfig struct {
	// Targets are regular expressions matched against outgoing URLs. Empty
	// means every URL.
	Targets []string

	// EmitSentryTrace writes sentry-trace next to traceparent.
	EmitSentryTrace bool

	Reporter *tracerr.Reporter
}

// Propagator reads and writes trace headers. It implements
// propagation.TextMapPropagator so it can be used wherever OpenTelemetry
// propagators are accepted.
type Propagator struct {
	targets         []*regexp.Regexp
	emitSentryTrace bool
	reporter        *tracerr.Reporter
}

var _ propagation.TextMapPropagator = (*Propagator)(nil)

// NewPropagator compiles the propagation targets.
func NewPropagator(cfg PropagatorConfig) (*Propagator, error) {
	p := &Propagator{
		emitSentryTrace: cfg.EmitSentryTrace,
		reporter:        cfg.Reporter,
	}
	for _, t := range cfg.Targets {
		re, err := regexp.Compile(t)
		if err != nil {
			return nil, fmt.Errorf("invalid propagation target %q: %w", t, err)
		}
		p.targets = append(p.targets, re)
	}
	return p, nil
}

var defaultPropagator = &Propagator{}

// inbound holds the headers found by Extract.
type inbound struct {
	incoming *tracecontext.Incoming
	baggage  baggage.Baggage
}

type inboundKey struct{}

func inboundFrom(ctx context.Context) inbound {
	ib, _ := ctx.Value(inboundKey{}).(inbound)
	return ib
}

// Extract stores the inbound trace headers of carrier in ctx. It never
// fails: unusable headers leave the next Begin starting a new trace.
func (p *Propagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	var ib inbound

	if in, ok := tracecontext.Extract(carrier); ok {
		ib.incoming = &in
	} else if carrier != nil {
		tp, st := carrier.Get(tracecontext.TraceParentHeader), carrier.Get(tracecontext.SentryTraceHeader)
		if tp != "" || st != "" {
			p.reporter.Report(ctx, tracerr.MalformedInput, "propagation.extract",
				"unusable trace header, starting a new trace",
				"traceparent", truncate(tp, 64), "sentry_trace", truncate(st, 64))
		}
	}

	if carrier != nil {
		if values := headerValues(carrier, baggage.Header); len(values) > 0 {
			ib.baggage = baggage.ParseHeaderValues(values)
		}
	}

	return context.WithValue(ctx, inboundKey{}, ib)
}

// Inject writes the trace headers of the active span in ctx to carrier.
// Nothing is written when ctx has no active span.
func (p *Propagator) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	sc := scope.FromContext(ctx)
	if sc == nil {
		return
	}
	tc := sc.TraceContext()
	if !tc.IsValid() {
		return
	}

	carrier.Set(tracecontext.TraceParentHeader, tracecontext.FormatTraceParent(tc))
	if p.emitSentryTrace {
		carrier.Set(tracecontext.SentryTraceHeader, tracecontext.FormatSentryTrace(tc))
	}

	if b := mergeBaggage(sc.DSC(), carrier.Get(baggage.Header)); b != "" {
		carrier.Set(baggage.Header, b)
	}
}

// Fields returns the header names the propagator reads and writes.
func (p *Propagator) Fields() []string {
	return []string{tracecontext.TraceParentHeader, tracecontext.SentryTraceHeader, baggage.Header}
}

// ShouldPropagate reports whether headers may be sent to rawURL.
func (p *Propagator) ShouldPropagate(rawURL string) bool {
	if len(p.targets) == 0 {
		return true
	}
	for _, re := range p.targets {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// mergeBaggage returns the DSC followed by the non-vendor members of an
// existing outgoing baggage value that the DSC does not already carry.
func mergeBaggage(d dsc.DSC, existing string) string {
	out := d.Baggage()
	if existing == "" {
		return out.String()
	}

	seen := make(map[string]bool, out.Len())
	for _, m := range out.Members() {
		seen[m.Raw()] = true
	}
	var extra []baggage.Member
	for _, m := range baggage.Parse(existing).ThirdParty().Members() {
		if !seen[m.Raw()] {
			extra = append(extra, m)
		}
	}
	return out.With(extra...).String()
}

type valuesGetter interface {
	Values(key string) []string
}

func headerValues(c propagation.TextMapCarrier, key string) []string {
	if vg, ok := c.(valuesGetter); ok {
		return vg.Values(key)
	}
	if v := c.Get(key); v != "" {
		return []string{v}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Extract stores inbound headers in ctx using a propagator without targets.
//
//	ctx := tracing.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
//	ctx, tx := tracer.Begin(ctx, "GET /users")
//	defer tx.End()
func Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return defaultPropagator.Extract(ctx, carrier)
}

// Inject writes the active span's headers to carrier.
func Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	defaultPropagator.Inject(ctx, carrier)
}

// ExtractFromMap extracts trace context from a string map.
// This is useful for extracting context from non-HTTP sources.
func ExtractFromMap(ctx context.Context, carrier map[string]string) context.Context {
	return Extract(ctx, propagation.MapCarrier(carrier))
}

// InjectToMap injects trace context into a string map.
// This is useful for injecting context into non-HTTP destinations.
func InjectToMap(ctx context.Context, carrier map[string]string) {
	Inject(ctx, propagation.MapCarrier(carrier))
}

// PropagationDebugInfo decodes the trace headers in headers for display.
func PropagationDebugInfo(headers http.Header) map[string]string {
	info := make(map[string]string)

	if tp := headers.Get(tracecontext.TraceParentHeader); tp != "" {
		info["traceparent"] = tp
		if in, ok := tracecontext.ParseTraceParent(tp); ok {
			info["traceparent.trace_id"] = in.TraceID.String()
			info["traceparent.parent_id"] = in.ParentSpanID.String()
			info["traceparent.sampled"] = in.Sampled.String()
		} else {
			info["traceparent.error"] = "invalid traceparent format"
		}
	} else {
		info["traceparent"] = "not present"
	}

	if st := headers.Get(tracecontext.SentryTraceHeader); st != "" {
		info["sentry-trace"] = st
		if in, ok := tracecontext.ParseSentryTrace(st); ok {
			info["sentry-trace.trace_id"] = in.TraceID.String()
			info["sentry-trace.parent_id"] = in.ParentSpanID.String()
			info["sentry-trace.sampled"] = in.Sampled.String()
		} else {
			info["sentry-trace.error"] = "invalid sentry-trace format"
		}
	} else {
		info["sentry-trace"] = "not present"
	}

	if in, ok := tracecontext.Extract(propagation.HeaderCarrier(headers)); ok {
		info["continues"] = in.Header
	} else {
		info["continues"] = "none (new trace)"
	}

	values := headers.Values(baggage.Header)
	if len(values) == 0 {
		info["baggage"] = "not present"
		return info
	}
	b := baggage.ParseHeaderValues(values)
	info["baggage"] = strings.Join(values, ",")
	if d, ok := dsc.FromBaggage(b); ok {
		for _, e := range d.Entries() {
			info["dsc."+e.Key] = e.Value
		}
	}
	if tp := b.ThirdParty(); tp.Len() > 0 {
		info["baggage.third_party"] = tp.String()
	}
	return info
}
