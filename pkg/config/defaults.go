package config

import "time"

// Default configuration values.
const (
	// Tracing defaults
	DefaultTracingEnabled           = true
	DefaultTracingSampler           = "ratio"
	DefaultTracingSampleRate        = 1.0
	DefaultTracingServiceName       = "tracekit"
	DefaultTracingEnvironment       = "production"
	DefaultTracingMaxSpans          = 1000
	DefaultTracingMaxExceptionDepth = 10
	DefaultTracingFaultLogRate      = 10.0

	// Export defaults
	DefaultExporter     = "log"
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultOTLPTimeout  = 10 * time.Second

	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 15 * time.Second

	// Logging defaults
	DefaultLoggingLevel  = "info"
	DefaultLoggingFormat = "json"

	// Metrics defaults
	DefaultMetricsPath           = "/metrics"
	DefaultMetricsNamespace      = "tracekit"
	DefaultMetricsMaxCardinality = 1000
	DefaultMetricsFlushSchedule  = "@every 10s"

	// Health defaults
	DefaultHealthLivenessPath  = "/health"
	DefaultHealthReadinessPath = "/ready"
	DefaultHealthVersionPath   = "/version"
	DefaultHealthCheckTimeout  = 5 * time.Second
)

// DefaultDurationBuckets are transaction duration buckets in seconds.
var DefaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// DefaultQueueTimeBuckets are queue time buckets in seconds.
var DefaultQueueTimeBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Tracing:   TracingConfig{Enabled: DefaultTracingEnabled},
		Telemetry: TelemetryConfig{Health: HealthConfig{Enabled: true}},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values in cfg with defaults. Booleans are left
// alone: their zero value is indistinguishable from an explicit false.
func ApplyDefaults(cfg *Config) {
	// Tracing defaults
	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRate == nil {
		rate := DefaultTracingSampleRate
		cfg.Tracing.SampleRate = &rate
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Tracing.Environment == "" {
		cfg.Tracing.Environment = DefaultTracingEnvironment
	}
	if cfg.Tracing.MaxSpans == 0 {
		cfg.Tracing.MaxSpans = DefaultTracingMaxSpans
	}
	if cfg.Tracing.MaxExceptionDepth == 0 {
		cfg.Tracing.MaxExceptionDepth = DefaultTracingMaxExceptionDepth
	}
	if cfg.Tracing.FaultLogRate == 0 {
		cfg.Tracing.FaultLogRate = DefaultTracingFaultLogRate
	}

	// Export defaults
	if cfg.Export.Exporter == "" {
		cfg.Export.Exporter = DefaultExporter
	}
	if cfg.Export.Endpoint == "" {
		cfg.Export.Endpoint = DefaultOTLPEndpoint
	}
	if cfg.Export.OTLP.Timeout == 0 {
		cfg.Export.OTLP.Timeout = DefaultOTLPTimeout
	}

	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Telemetry.Metrics.DurationBuckets) == 0 {
		cfg.Telemetry.Metrics.DurationBuckets = append([]float64(nil), DefaultDurationBuckets...)
	}
	if len(cfg.Telemetry.Metrics.QueueTimeBuckets) == 0 {
		cfg.Telemetry.Metrics.QueueTimeBuckets = append([]float64(nil), DefaultQueueTimeBuckets...)
	}
	if cfg.Telemetry.Metrics.MaxCardinality == 0 {
		cfg.Telemetry.Metrics.MaxCardinality = DefaultMetricsMaxCardinality
	}
	if cfg.Telemetry.Metrics.FlushSchedule == "" {
		cfg.Telemetry.Metrics.FlushSchedule = DefaultMetricsFlushSchedule
	}
	if cfg.Telemetry.Health.LivenessPath == "" {
		cfg.Telemetry.Health.LivenessPath = DefaultHealthLivenessPath
	}
	if cfg.Telemetry.Health.ReadinessPath == "" {
		cfg.Telemetry.Health.ReadinessPath = DefaultHealthReadinessPath
	}
	if cfg.Telemetry.Health.VersionPath == "" {
		cfg.Telemetry.Health.VersionPath = DefaultHealthVersionPath
	}
	if cfg.Telemetry.Health.CheckTimeout == 0 {
		cfg.Telemetry.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}
