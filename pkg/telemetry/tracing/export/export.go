// Package export hands finished transactions and captured error events to
// whatever ships them out of the process.
//
// The engine itself never does network I/O. Exporter implementations adapt
// to existing transports: OTelExporter replays units of work into the
// OpenTelemetry SDK and its OTLP exporter, MemoryExporter keeps them for
// tests and debugging, LogExporter writes one log line per item and Discard
// drops everything.
package export

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tracekit/pkg/telemetry/tracing/exception"
	"mercator-hq/tracekit/pkg/telemetry/tracing/scope"
	"mercator-hq/tracekit/pkg/telemetry/tracing/span"
)

// Exporter receives finished units of work. Implementations must be safe
// for concurrent use.
type Exporter interface {
	ExportTransaction(ctx context.Context, tx Transaction) error
	CaptureEvent(ctx context.Context, ev Event) error
	Shutdown(ctx context.Context) error
}

// Transaction is a finished transaction plus the scope state of its unit of
// work at the time it ended.
type Transaction struct {
	span.Transaction

	User  scope.User
	Tags  map[string]string
	Extra map[string]any

	// Baggage is the frozen dynamic sampling context of the trace.
	Baggage string
}

// Event is a captured error.
type Event struct {
	EventID   string
	Timestamp time.Time
	Level     string

	TraceID     trace.TraceID
	SpanID      trace.SpanID
	Transaction string

	Exceptions []exception.Exception

	User     scope.User
	Tags     map[string]string
	Extra    map[string]any
	Contexts map[string]map[string]any

	Release     string
	Environment string
}

// MemoryExporter records everything it receives.
type MemoryExporter struct {
	mu           sync.Mutex
	transactions []Transaction
	events       []Event
	shutdown     bool
}

// NewMemoryExporter creates an empty MemoryExporter.
func NewMemoryExporter() *MemoryExporter {
	return &MemoryExporter{}
}

func (m *MemoryExporter) ExportTransaction(_ context.Context, tx Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return ErrShutdown
	}
	m.transactions = append(m.transactions, tx)
	return nil
}

func (m *MemoryExporter) CaptureEvent(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return ErrShutdown
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *MemoryExporter) Shutdown(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = true
	return nil
}

// Transactions returns a copy of the recorded transactions.
func (m *MemoryExporter) Transactions() []Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transaction(nil), m.transactions...)
}

// Events returns a copy of the recorded events.
func (m *MemoryExporter) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Reset drops everything recorded so far.
func (m *MemoryExporter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = nil
	m.events = nil
}

// LogExporter logs a summary of every transaction and event.
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter creates a LogExporter. A nil logger means slog.Default().
func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger.With("component", "tracing.export")}
}

func (l *LogExporter) ExportTransaction(ctx context.Context, tx Transaction) error {
	l.logger.InfoContext(ctx, "transaction finished",
		"trace_id", tx.Root.TraceID.String(),
		"span_id", tx.Root.SpanID.String(),
		"name", tx.Root.Name,
		"op", tx.Root.Op,
		"status", string(tx.Root.Status),
		"duration_ms", tx.Root.Duration().Milliseconds(),
		"spans", len(tx.Spans),
		"orphans", tx.Orphans(),
		"dropped", tx.Dropped,
	)
	return nil
}

func (l *LogExporter) CaptureEvent(ctx context.Context, ev Event) error {
	var typ, value string
	group := false
	if len(ev.Exceptions) > 0 {
		typ = ev.Exceptions[0].Type
		value = ev.Exceptions[0].Value
		group = ev.Exceptions[0].Mechanism.IsExceptionGroup
	}
	l.logger.ErrorContext(ctx, "exception captured",
		"event_id", ev.EventID,
		"trace_id", ev.TraceID.String(),
		"type", typ,
		"value", value,
		"exception_group", group,
		"exceptions", len(ev.Exceptions),
	)
	return nil
}

func (l *LogExporter) Shutdown(context.Context) error { return nil }

// Discard drops everything. It is used when export is disabled.
type Discard struct{}

func (Discard) ExportTransaction(context.Context, Transaction) error { return nil }
func (Discard) CaptureEvent(context.Context, Event) error            { return nil }
func (Discard) Shutdown(context.Context) error                       { return nil }
