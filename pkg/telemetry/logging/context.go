package logging

import (
	"context"
	"log/slog"

	"mercator-hq/tracekit/pkg/telemetry/tracing/scope"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"
)

// Log field names added from the context.
const (
	FieldRequestID = "request_id"
	FieldTraceID   = "trace_id"
	FieldSpanID    = "span_id"
	FieldUserID    = "user_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// contextAttrs collects the request id and, when ctx carries a tracing
// scope, the active trace id, span id and user id.
func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr
	if requestID := GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, slog.String(FieldRequestID, requestID))
	}

	sc := scope.FromContext(ctx)
	if sc == nil {
		return attrs
	}
	tc := sc.TraceContext()
	if tc.TraceID.IsValid() {
		attrs = append(attrs, slog.String(FieldTraceID, tc.TraceID.String()))
	}
	if tc.SpanID.IsValid() {
		attrs = append(attrs, slog.String(FieldSpanID, tc.SpanID.String()))
	}
	if u := sc.User(); u.ID != "" {
		attrs = append(attrs, slog.String(FieldUserID, u.ID))
	}
	return attrs
}

// extractContextFields returns contextAttrs as key-value pairs suitable for
// logger.With().
func extractContextFields(ctx context.Context) []any {
	attrs := contextAttrs(ctx)
	fields := make([]any, 0, len(attrs))
	for _, a := range attrs {
		fields = append(fields, a)
	}
	return fields
}

// ContextLogger is a logger bound to a context.
type ContextLogger struct {
	logger *Logger
	ctx    context.Context
}

// NewContextLogger creates a logger that includes the fields of ctx in every
// line.
func NewContextLogger(logger *Logger, ctx context.Context) *ContextLogger {
	return &ContextLogger{
		logger: logger,
		ctx:    ctx,
	}
}

// Debug logs a debug message with context fields.
func (cl *ContextLogger) Debug(msg string, args ...any) {
	cl.logger.DebugContext(cl.ctx, msg, args...)
}

// Info logs an info message with context fields.
func (cl *ContextLogger) Info(msg string, args ...any) {
	cl.logger.InfoContext(cl.ctx, msg, args...)
}

// Warn logs a warning message with context fields.
func (cl *ContextLogger) Warn(msg string, args ...any) {
	cl.logger.WarnContext(cl.ctx, msg, args...)
}

// Error logs an error message with context fields.
func (cl *ContextLogger) Error(msg string, args ...any) {
	cl.logger.ErrorContext(cl.ctx, msg, args...)
}

// With creates a new context logger with additional fields.
func (cl *ContextLogger) With(args ...any) *ContextLogger {
	return &ContextLogger{
		logger: cl.logger.With(args...),
		ctx:    cl.ctx,
	}
}
