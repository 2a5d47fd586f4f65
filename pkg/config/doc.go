// Package config provides configuration management for tracekit.
//
// Configuration is read from a YAML file, completed with defaults, optionally
// overridden from the environment and validated before use.
//
// # Configuration Loading
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("tracekit.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("tracekit.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention TRACEKIT_SECTION_FIELD:
//
//   - TRACEKIT_TRACING_SAMPLE_RATE overrides tracing.sample_rate
//   - TRACEKIT_EXPORT_ENDPOINT overrides export.endpoint
//   - TRACEKIT_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Environment variables always take precedence over file-based configuration.
//
// # Sample Rate
//
// tracing.sample_rate is a pointer so that an explicit 0 survives defaulting.
// Values outside [0.0, 1.0] pass validation and are reported by Warnings; the
// sampler clamps them at runtime.
//
// # Hot Reload
//
// Watcher observes the configuration file and calls ReloadConfig after a
// debounce interval. Components register with OnReload to pick up changes,
// for example a new sample rate. A reload that fails validation leaves the
// previous configuration in place.
package config
