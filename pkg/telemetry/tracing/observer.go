package tracing

import (
	"context"

	"mercator-hq/tracekit/pkg/telemetry/tracing/exception"
	"mercator-hq/tracekit/pkg/telemetry/tracing/queuetime"
	"mercator-hq/tracekit/pkg/telemetry/tracing/sampling"
	"mercator-hq/tracekit/pkg/telemetry/tracing/span"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracerr"
)

// Observer is notified at the engine's instrumentation points. Observers run
// synchronously on the caller's goroutine and must not block.
//
// Embed NopObserver to implement only some of the hooks.
type Observer interface {
	// Decision is called once per unit of work, after sampling resolution.
	Decision(ctx context.Context, d sampling.Decision)

	// TransactionStarted is called when a unit of work begins.
	TransactionStarted(ctx context.Context, root *span.Span)

	// TransactionFinished is called when the root span finishes. exported
	// tells whether the transaction was handed to the exporter.
	TransactionFinished(tx span.Transaction, exported bool)

	// TransactionAbandoned is called when a unit of work is cancelled.
	TransactionAbandoned(root *span.Span)

	// ExceptionCaptured is called for every captured error event.
	ExceptionCaptured(ctx context.Context, eventID string, excs []exception.Exception)

	// QueueTime is called when a request carried a usable X-Request-Start.
	QueueTime(ctx context.Context, r queuetime.Result)

	// Fault is called for every fault the engine reports.
	Fault(f tracerr.Fault)
}

// NopObserver implements Observer with no-op methods.
type NopObserver struct{}

func (NopObserver) Decision(context.Context, sampling.Decision)                      {}
func (NopObserver) TransactionStarted(context.Context, *span.Span)                   {}
func (NopObserver) TransactionFinished(span.Transaction, bool)                       {}
func (NopObserver) TransactionAbandoned(*span.Span)                                  {}
func (NopObserver) ExceptionCaptured(context.Context, string, []exception.Exception) {}
func (NopObserver) QueueTime(context.Context, queuetime.Result)                      {}
func (NopObserver) Fault(tracerr.Fault)                                              {}

// observers fans out to several observers in registration order.
type observers []Observer

func (o observers) Decision(ctx context.Context, d sampling.Decision) {
	for _, ob := range o {
		ob.Decision(ctx, d)
	}
}

func (o observers) TransactionStarted(ctx context.Context, root *span.Span) {
	for _, ob := range o {
		ob.TransactionStarted(ctx, root)
	}
}

func (o observers) TransactionFinished(tx span.Transaction, exported bool) {
	for _, ob := range o {
		ob.TransactionFinished(tx, exported)
	}
}

func (o observers) TransactionAbandoned(root *span.Span) {
	for _, ob := range o {
		ob.TransactionAbandoned(root)
	}
}

func (o observers) ExceptionCaptured(ctx context.Context, eventID string, excs []exception.Exception) {
	for _, ob := range o {
		ob.ExceptionCaptured(ctx, eventID, excs)
	}
}

func (o observers) QueueTime(ctx context.Context, r queuetime.Result) {
	for _, ob := range o {
		ob.QueueTime(ctx, r)
	}
}

func (o observers) Fault(f tracerr.Fault) {
	for _, ob := range o {
		ob.Fault(f)
	}
}
