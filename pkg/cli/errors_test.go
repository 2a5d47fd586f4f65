package cli

import (
	"errors"
	"fmt"
	"testing"

	"mercator-hq/tracekit/pkg/config"
)

func TestConfigError(t *testing.T) {
	err := &ConfigError{
		Field:   "tracing.sampler",
		Message: "unknown sampler",
	}

	expected := "config error in tracing.sampler: unknown sampler"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestCommandError(t *testing.T) {
	underlyingErr := errors.New("underlying error")
	err := NewCommandError("serve", underlyingErr)

	expected := "command serve failed: underlying error"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	if !errors.Is(err, underlyingErr) {
		t.Error("errors.Is() should work with CommandError.Unwrap()")
	}
}

func TestConfigErrors(t *testing.T) {
	verr := config.ValidationError{Errors: []config.FieldError{
		{Field: "export.exporter", Message: "unknown exporter"},
		{Field: "server.listen_address", Message: "required"},
	}}

	got := ConfigErrors(fmt.Errorf("load: %w", verr))
	if len(got) != 2 {
		t.Fatalf("ConfigErrors() returned %d errors, want 2", len(got))
	}
	if got[0].Field != "export.exporter" || got[1].Message != "required" {
		t.Errorf("ConfigErrors() = %+v", got)
	}

	if got := ConfigErrors(errors.New("other")); got != nil {
		t.Errorf("ConfigErrors(other) = %v, want nil", got)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"generic", errors.New("boom"), ExitFailure},
		{"command", NewCommandError("serve", errors.New("boom")), ExitFailure},
		{"config", NewConfigError("f", "m"), ExitConfigError},
		{"wrapped config", NewCommandError("serve", NewConfigError("f", "m")), ExitConfigError},
		{"validation", config.ValidationError{Errors: []config.FieldError{{Field: "f"}}}, ExitConfigError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
