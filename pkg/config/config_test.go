package config

import (
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if !cfg.Tracing.Enabled {
		t.Error("expected tracing to be enabled by default")
	}
	if cfg.Tracing.Sampler != DefaultTracingSampler {
		t.Errorf("expected sampler %q, got %q", DefaultTracingSampler, cfg.Tracing.Sampler)
	}
	if cfg.Tracing.SampleRate == nil || *cfg.Tracing.SampleRate != DefaultTracingSampleRate {
		t.Errorf("expected sample rate %v, got %v", DefaultTracingSampleRate, cfg.Tracing.SampleRate)
	}
	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("expected listen address %q, got %q", DefaultListenAddress, cfg.Server.ListenAddress)
	}
	if cfg.Export.Exporter != DefaultExporter {
		t.Errorf("expected exporter %q, got %q", DefaultExporter, cfg.Export.Exporter)
	}
	if cfg.Telemetry.Metrics.FlushSchedule != DefaultMetricsFlushSchedule {
		t.Errorf("expected flush schedule %q, got %q", DefaultMetricsFlushSchedule, cfg.Telemetry.Metrics.FlushSchedule)
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("default configuration should be valid: %v", err)
	}
}

func TestApplyDefaults_KeepsExplicitZeroRate(t *testing.T) {
	zero := 0.0
	cfg := &Config{Tracing: TracingConfig{SampleRate: &zero}}
	ApplyDefaults(cfg)

	if *cfg.Tracing.SampleRate != 0 {
		t.Errorf("expected explicit zero sample rate to be kept, got %v", *cfg.Tracing.SampleRate)
	}
	if cfg.Tracing.EffectiveSampleRate() != 0 {
		t.Errorf("EffectiveSampleRate() = %v, want 0", cfg.Tracing.EffectiveSampleRate())
	}
}

func TestApplyDefaults_BucketsAreCopied(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.Metrics.DurationBuckets[0] = 42

	if DefaultDurationBuckets[0] == 42 {
		t.Error("modifying config buckets must not modify the package defaults")
	}
}

func TestEffectiveSampleRate_Unset(t *testing.T) {
	var cfg TracingConfig
	if got := cfg.EffectiveSampleRate(); got != DefaultTracingSampleRate {
		t.Errorf("EffectiveSampleRate() = %v, want %v", got, DefaultTracingSampleRate)
	}
}
