package tracing

import (
	"context"

	"mercator-hq/tracekit/pkg/telemetry/tracing/scope"
	"mercator-hq/tracekit/pkg/telemetry/tracing/span"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracecontext"
)

// StartSpan starts a child of the active span and returns a context whose
// scope is forked for it. Children started from several goroutines with the
// same ctx are all parented to the same span.
//
// Without an active span the returned span is detached and never exported.
func StartSpan(ctx context.Context, op string, description ...string) (context.Context, *span.Span) {
	sc := scope.FromContext(ctx)
	parent := spanOf(sc)
	if parent == nil {
		detached := span.StartTransaction(tracecontext.TraceContext{
			TraceID: tracecontext.NewTraceID(),
			SpanID:  tracecontext.NewSpanID(),
			Sampled: tracecontext.SampledFalse,
		}, span.Options{Op: op})
		return ctx, detached
	}

	child := parent.StartChild(op, description...)
	return scope.NewContext(ctx, sc.Fork(child)), child
}

// SpanFromContext returns the active span, or nil.
func SpanFromContext(ctx context.Context) *span.Span {
	return spanOf(scope.FromContext(ctx))
}

func spanOf(sc *scope.Scope) *span.Span {
	if sc == nil {
		return nil
	}
	s, _ := sc.Span().(*span.Span)
	return s
}

// TraceContext returns the trace context of the active span. The zero value
// is returned when ctx carries no scope.
func TraceContext(ctx context.Context) tracecontext.TraceContext {
	sc := scope.FromContext(ctx)
	if sc == nil {
		return tracecontext.TraceContext{}
	}
	return sc.TraceContext()
}

// TraceID returns the trace ID from the context as a string.
// Returns empty string if no trace context exists.
func TraceID(ctx context.Context) string {
	tc := TraceContext(ctx)
	if !tc.TraceID.IsValid() {
		return ""
	}
	return tc.TraceID.String()
}

// SpanID returns the span ID from the context as a string.
// Returns empty string if no span context exists.
func SpanID(ctx context.Context) string {
	tc := TraceContext(ctx)
	if !tc.SpanID.IsValid() {
		return ""
	}
	return tc.SpanID.String()
}

// IsSampled returns whether the current trace is sampled.
func IsSampled(ctx context.Context) bool {
	return TraceContext(ctx).Sampled == tracecontext.SampledTrue
}

// SetUser sets the user on the active scope.
func SetUser(ctx context.Context, u scope.User) {
	if sc := scope.FromContext(ctx); sc != nil {
		sc.SetUser(u)
	}
}

// SetTag sets a tag on the active scope.
func SetTag(ctx context.Context, key, value string) {
	if sc := scope.FromContext(ctx); sc != nil {
		sc.SetTag(key, value)
	}
}

// SetExtra sets an extra value on the active scope.
func SetExtra(ctx context.Context, key string, value any) {
	if sc := scope.FromContext(ctx); sc != nil {
		sc.SetExtra(key, value)
	}
}

// SetData sets a data attribute on the active span.
func SetData(ctx context.Context, key string, value any) {
	if s := SpanFromContext(ctx); s != nil {
		s.SetData(key, value)
	}
}
