// Package telemetry groups the tracekit engine and the observability it runs
// with.
//
// # Components
//
//   - tracing: trace context propagation, sampling, scopes, spans and error
//     capture
//   - logging: structured logging correlated with the active trace
//   - metrics: Prometheus metrics for the engine and a scope-aware aggregator
//   - health: liveness, readiness and version endpoints
//
// # Usage
//
//	cfg := config.GetConfig()
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	if err != nil {
//		return err
//	}
//	defer logger.Shutdown()
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	tracer, err := tracing.New(&cfg.Tracing,
//		tracing.WithLogger(logger.Slog()),
//		tracing.WithObserver(collector),
//	)
//	if err != nil {
//		return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	mux.Handle("/", tracer.Middleware(app))
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
package telemetry
