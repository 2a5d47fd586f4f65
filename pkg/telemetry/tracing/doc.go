// Package tracing propagates trace context across process boundaries and
// decides, once per unit of work, whether a trace is recorded.
//
// # Overview
//
// A unit of work (an inbound request, a job, a message) is begun with
// Tracer.Begin and ended with Transaction.End. In between, the context
// returned by Begin carries a scope holding the active span, the frozen
// dynamic sampling context (DSC) and user data. Everything that runs on the
// unit of work's behalf receives that context; there is no process-wide
// mutable state, so any number of units of work run concurrently.
//
// # Trace Context Propagation
//
// Two trace headers are understood, W3C traceparent and sentry-trace, plus
// the W3C baggage header whose "sentry-" members form the DSC:
//
//	traceparent: 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01
//	baggage: sentry-trace_id=4bf92f3577b34da6a3ce929d0e0e4736,sentry-sample_rate=0.25
//
// Propagator implements the OpenTelemetry TextMapPropagator interface and
// works with any TextMapCarrier: HTTP headers, gRPC metadata, message
// attributes.
//
// # Sampling
//
// The decision is taken once and never revisited:
//   - an upstream decision in the trace header is inherited
//   - a trace header without a decision is decided locally
//   - a new trace is decided from the local rate only; sample rates found in
//     baggage are ignored for new traces
//
// Local decisions are deterministic for a given trace id and rate.
//
// # Usage
//
//	cfg := config.Default().Tracing
//	tracer, err := tracing.New(&cfg, tracing.WithExporter(exp))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tracer.Shutdown(context.Background())
//
//	http.ListenAndServe(":8080", tracer.Middleware(mux))
//
// Inside a handler:
//
//	ctx, sp := tracing.StartSpan(r.Context(), "db.query", "SELECT users")
//	defer sp.Finish()
//
//	tracing.SetUser(ctx, scope.User{ID: "42"})
//	if err != nil {
//	    tracer.CaptureException(ctx, err)
//	}
//
// Outgoing calls made with tracer.Transport or the gRPC client interceptor
// carry the trace to targets matching the configured propagation targets.
//
// # Instrumentation
//
// Observers receive sampling decisions, unit-of-work starts and ends,
// captured exceptions, queue times and engine faults. The metrics package
// provides a Prometheus observer.
//
// # Faults
//
// Malformed headers, misuse of the API and clock skew never surface as errors
// on the request path. They are reported through tracerr.Reporter, which
// logs them rate limited and counts them per kind.
package tracing
