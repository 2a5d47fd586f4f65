package config

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
//
// An out of range sample rate is not a validation error. It is reported by
// Warnings and clamped by the sampler.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateTracing(&cfg.Tracing)...)
	errs = append(errs, validateExport(&cfg.Export)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// Warnings returns problems that do not prevent startup.
func Warnings(cfg *Config) []FieldError {
	var warns []FieldError
	if r := cfg.Tracing.SampleRate; r != nil && (math.IsNaN(*r) || *r < 0 || *r > 1) {
		warns = append(warns, FieldError{
			Field:   "tracing.sample_rate",
			Message: fmt.Sprintf("sample rate %v is outside [0.0, 1.0] and will be clamped", *r),
		})
	}
	if cfg.Tracing.Sampler == "always" && cfg.Tracing.SampleRate != nil && *cfg.Tracing.SampleRate != 1 {
		warns = append(warns, FieldError{
			Field:   "tracing.sample_rate",
			Message: "sample rate is ignored by the 'always' sampler",
		})
	}
	if cfg.Tracing.Sampler == "never" && cfg.Tracing.SampleRate != nil && *cfg.Tracing.SampleRate != 0 {
		warns = append(warns, FieldError{
			Field:   "tracing.sample_rate",
			Message: "sample rate is ignored by the 'never' sampler",
		})
	}
	if cfg.Tracing.PublicKey == "" {
		warns = append(warns, FieldError{
			Field:   "tracing.public_key",
			Message: "public key is empty; the dynamic sampling context will not identify a project",
		})
	}
	return warns
}

func validateTracing(cfg *TracingConfig) []FieldError {
	var errs []FieldError

	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
	if !validSamplers[cfg.Sampler] {
		errs = append(errs, FieldError{
			Field:   "tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Sampler),
		})
	}

	if cfg.ServiceName == "" {
		errs = append(errs, FieldError{
			Field:   "tracing.service_name",
			Message: "service name is required",
		})
	}

	for i, target := range cfg.PropagationTargets {
		if _, err := regexp.Compile(target); err != nil {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("tracing.propagation_targets[%d]", i),
				Message: fmt.Sprintf("invalid regular expression: %v", err),
			})
		}
	}

	if cfg.MaxSpans < 0 {
		errs = append(errs, FieldError{
			Field:   "tracing.max_spans",
			Message: "max spans must not be negative",
		})
	}
	if cfg.MaxExceptionDepth < 0 {
		errs = append(errs, FieldError{
			Field:   "tracing.max_exception_depth",
			Message: "max exception depth must not be negative",
		})
	}
	if cfg.FaultLogRate < 0 {
		errs = append(errs, FieldError{
			Field:   "tracing.fault_log_rate",
			Message: "fault log rate must not be negative",
		})
	}

	return errs
}

func validateExport(cfg *ExportConfig) []FieldError {
	var errs []FieldError

	validExporters := map[string]bool{"otlp": true, "log": true, "memory": true, "none": true}
	if !validExporters[cfg.Exporter] {
		errs = append(errs, FieldError{
			Field:   "export.exporter",
			Message: fmt.Sprintf("invalid exporter %q: must be 'otlp', 'log', 'memory', or 'none'", cfg.Exporter),
		})
	}

	if cfg.Exporter == "otlp" && cfg.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "export.endpoint",
			Message: "endpoint is required for the otlp exporter",
		})
	}

	if cfg.OTLP.Timeout < 0 {
		errs = append(errs, FieldError{
			Field:   "export.otlp.timeout",
			Message: "timeout must not be negative",
		})
	}

	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if !strings.Contains(cfg.ListenAddress, ":") {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: must be host:port", cfg.ListenAddress),
		})
	}

	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 || cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server",
			Message: "timeouts must not be negative",
		})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	for i, p := range cfg.Logging.RedactPatterns {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d]", i),
				Message: fmt.Sprintf("invalid regular expression: %v", err),
			})
		}
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Path == "" || cfg.Metrics.Path[0] != '/' {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.path",
				Message: "metrics path must start with /",
			})
		}
		if _, err := cron.ParseStandard(cfg.Metrics.FlushSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.flush_schedule",
				Message: fmt.Sprintf("invalid cron schedule %q: %v", cfg.Metrics.FlushSchedule, err),
			})
		}
	}

	if cfg.Health.Enabled {
		paths := map[string]string{
			"telemetry.health.liveness_path":  cfg.Health.LivenessPath,
			"telemetry.health.readiness_path": cfg.Health.ReadinessPath,
			"telemetry.health.version_path":   cfg.Health.VersionPath,
		}
		for _, field := range []string{
			"telemetry.health.liveness_path",
			"telemetry.health.readiness_path",
			"telemetry.health.version_path",
		} {
			if p := paths[field]; p == "" || p[0] != '/' {
				errs = append(errs, FieldError{
					Field:   field,
					Message: "path must start with /",
				})
			}
		}
		if cfg.Health.CheckTimeout <= 0 {
			errs = append(errs, FieldError{
				Field:   "telemetry.health.check_timeout",
				Message: "check timeout must be positive",
			})
		}
	}

	return errs
}
