package health

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/tracekit/pkg/telemetry/tracing"
)

// Names of the checks registered by RegisterTracerChecks.
const (
	CheckTracer   = "tracer"
	CheckExporter = "exporter"
)

type flusher interface {
	ForceFlush(ctx context.Context) error
}

// TracerCheck fails once the tracer has been shut down.
func TracerCheck(t *tracing.Tracer) CheckFunc {
	return func(context.Context) error {
		if t.Closed() {
			return errors.New("tracer is shut down")
		}
		return nil
	}
}

// ExporterCheck flushes exporters that buffer, so a collector that stopped
// accepting spans makes the service not ready. Other exporters always pass.
func ExporterCheck(t *tracing.Tracer) CheckFunc {
	return func(ctx context.Context) error {
		f, ok := t.Exporter().(flusher)
		if !ok {
			return nil
		}
		if err := f.ForceFlush(ctx); err != nil {
			return fmt.Errorf("exporter flush failed: %w", err)
		}
		return nil
	}
}

// RegisterTracerChecks registers the tracer and exporter checks.
func RegisterTracerChecks(c *Checker, t *tracing.Tracer) {
	c.RegisterCheck(CheckTracer, TracerCheck(t))
	c.RegisterCheck(CheckExporter, ExporterCheck(t))
}
