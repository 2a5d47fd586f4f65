// Package metrics provides Prometheus metrics for the tracing engine and a
// scope-aware aggregator for application metrics.
//
// # Overview
//
// Collector implements tracing.Observer and turns the engine's
// instrumentation points into Prometheus metrics:
//
//   - Sampling Metrics: decisions by origin, reason and outcome
//   - Transaction Metrics: units of work started, finished, abandoned and
//     active; duration histogram; child span counts
//   - Fault Metrics: engine faults by kind, captured error events
//   - Request Metrics: queue time measured from X-Request-Start
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	tracer, err := tracing.New(&cfg.Tracing, tracing.WithObserver(collector))
//	mux.Handle("/metrics", collector.Handler())
//
// # Cardinality Management
//
// Op names are set by host code. The collector admits at most
// MaxCardinality distinct ops; further ops are recorded as "other".
//
// # Aggregator
//
// Aggregator buffers counters, distributions and gauges emitted by
// application code and flushes them on a cron schedule. Each sample is tagged
// with user.id, user.email and user.name from the scope in its context; the
// trace id of the latest sample is kept on the aggregate without splitting it:
//
//	agg := metrics.NewAggregator(metrics.LogSink{Logger: logger}, "@every 10s", logger)
//	if err := agg.Start(ctx); err != nil {
//		return err
//	}
//	agg.Incr(ctx, "checkout.completed", 1, map[string]string{"plan": "pro"})
package metrics
