// Package health provides liveness, readiness and version endpoints for the
// tracekit server.
//
// # Endpoints
//
//   - LivenessPath (default /health): the process is running
//   - ReadinessPath (default /ready): every registered check passes
//   - VersionPath (default /version): build information
//
// # Usage
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	health.RegisterTracerChecks(checker, tracer)
//	health.Register(mux, checker, cfg.Telemetry.Health, info, 20)
//
// The tracer check fails after Shutdown. The exporter check flushes
// exporters that buffer spans (OTLP), so an unreachable collector makes the
// service report degraded.
//
// Checks run concurrently, each bounded by the check timeout.
package health
