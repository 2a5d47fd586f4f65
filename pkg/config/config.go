package config

import "time"

// Config is the root configuration structure for tracekit.
// It contains all configuration sections for the engine and the
// tracekit server.
type Config struct {
	// Tracing configures sampling, propagation and the dynamic sampling context.
	Tracing TracingConfig `yaml:"tracing"`

	// Export configures where finished transactions and events are sent.
	Export ExportConfig `yaml:"export"`

	// Server configures the tracekit HTTP server started by "tracekit serve".
	Server ServerConfig `yaml:"server"`

	// Telemetry contains logging, metrics and health check configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// TracingConfig contains the settings of the tracing engine.
type TracingConfig struct {
	// Enabled controls whether units of work are traced at all.
	// When false the engine still propagates incoming headers.
	Enabled bool `yaml:"enabled"`

	// Sampler is the sampling strategy: "always", "never" or "ratio".
	Sampler string `yaml:"sampler"`

	// SampleRate is the local rate for new trace heads, in [0.0, 1.0].
	// A pointer so an explicit 0 is kept. Out of range values are clamped
	// at runtime, not rejected.
	SampleRate *float64 `yaml:"sample_rate"`

	// ServiceName identifies this service in exported data.
	ServiceName string `yaml:"service_name"`

	// Release and Environment are written into the dynamic sampling context
	// of traces started here.
	Release     string `yaml:"release"`
	Environment string `yaml:"environment"`

	// PublicKey identifies the project the trace belongs to.
	PublicKey string `yaml:"public_key"`

	// PropagationTargets restricts outgoing header injection to URLs
	// matching one of these regular expressions. Empty means all.
	PropagationTargets []string `yaml:"propagation_targets"`

	// EmitSentryTrace adds the sentry-trace header next to traceparent
	// on outgoing requests.
	EmitSentryTrace bool `yaml:"emit_sentry_trace"`

	// MaxSpans caps the child spans recorded per transaction.
	MaxSpans int `yaml:"max_spans"`

	// MaxExceptionDepth caps how deep exception groups are walked.
	MaxExceptionDepth int `yaml:"max_exception_depth"`

	// FaultLogRate is the number of engine fault log lines allowed per second.
	FaultLogRate float64 `yaml:"fault_log_rate"`
}

// EffectiveSampleRate returns the configured sample rate, or the default
// when none was set.
func (c TracingConfig) EffectiveSampleRate() float64 {
	if c.SampleRate == nil {
		return DefaultTracingSampleRate
	}
	return *c.SampleRate
}

// ExportConfig selects and configures the exporter.
type ExportConfig struct {
	// Exporter is one of "otlp", "log", "memory" or "none".
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP collector address (host:port).
	Endpoint string `yaml:"endpoint"`

	// OTLP contains OTLP gRPC specific settings.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter settings.
type OTLPConfig struct {
	// Insecure disables TLS for the collector connection.
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export call.
	Timeout time.Duration `yaml:"timeout"`

	// Headers are sent with every export request.
	Headers map[string]string `yaml:"headers"`
}

// ServerConfig contains the HTTP server settings of "tracekit serve".
type ServerConfig struct {
	// ListenAddress is the address to listen on (e.g., "127.0.0.1:8080").
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next keep-alive request.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig contains observability settings for tracekit itself.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the logging level: "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is the log format: "json", "text" or "console".
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	AddSource bool `yaml:"add_source"`

	// RedactPII enables automatic redaction of sensitive values.
	RedactPII bool `yaml:"redact_pii"`

	// BufferSize is the async log buffer size.
	BufferSize int `yaml:"buffer_size"`

	// RedactPatterns are additional patterns to redact.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern is a custom redaction rule.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and served.
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the metrics endpoint.
	Path string `yaml:"path"`

	// Namespace and Subsystem prefix every metric name.
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`

	// DurationBuckets are histogram buckets for transaction durations, in seconds.
	DurationBuckets []float64 `yaml:"duration_buckets"`

	// QueueTimeBuckets are histogram buckets for request queue time, in seconds.
	QueueTimeBuckets []float64 `yaml:"queue_time_buckets"`

	// MaxCardinality caps distinct values per label.
	MaxCardinality int `yaml:"max_cardinality"`

	// FlushSchedule is the cron schedule on which per-user aggregates are
	// flushed and reset.
	FlushSchedule string `yaml:"flush_schedule"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	LivenessPath  string        `yaml:"liveness_path"`
	ReadinessPath string        `yaml:"readiness_path"`
	VersionPath   string        `yaml:"version_path"`
	CheckTimeout  time.Duration `yaml:"check_timeout"`
}
