package tracing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/propagation"

	"mercator-hq/tracekit/pkg/telemetry/tracing/queuetime"
	"mercator-hq/tracekit/pkg/telemetry/tracing/span"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracerr"
)

// HTTPStatuser is implemented by errors that know the HTTP status they
// should produce.
type HTTPStatuser interface {
	HTTPStatus() int
}

// StatusFromError returns the HTTP status of the first error in err's chain
// that implements HTTPStatuser.
func StatusFromError(err error) (int, bool) {
	var hs HTTPStatuser
	if errors.As(err, &hs) {
		if code := hs.HTTPStatus(); code >= 100 && code <= 999 {
			return code, true
		}
	}
	return 0, false
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code before writing.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called if not already done.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware runs every request as a unit of work.
//
// The transaction is named "<METHOD> <path>" and renamed to the matched
// ServeMux pattern once the handler returns. Its status follows the response
// code. A panic in the handler is captured as an unhandled error with the
// status the client actually received: a handler that already wrote 404
// before panicking is reported as 404. If nothing was written the panic
// value decides via HTTPStatuser, falling back to 500.
//
// Example usage:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("GET /users/{id}", getUser)
//	handler := tracer.Middleware(mux)
func (t *Tracer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := t.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, tx := t.Begin(ctx, r.Method+" "+r.URL.Path,
			WithOp("http.server"),
			WithSource(SourceURL),
		)

		root := tx.Span()
		root.SetData(DataHTTPMethod, r.Method)
		root.SetData(DataURLPath, r.URL.Path)
		t.recordQueueTime(ctx, root, r.Header.Get(queuetime.Header))

		rw := newResponseWriter(w)
		r = r.WithContext(ctx)

		defer func() {
			rec := recover()
			if r.Pattern != "" {
				root.SetName(r.Pattern, SourceRoute)
			}
			if rec == nil {
				root.SetData(DataHTTPStatusCode, rw.statusCode)
				tx.EndWithStatus(span.StatusFromHTTP(rw.statusCode))
				return
			}
			if rec == http.ErrAbortHandler {
				tx.EndWithStatus(span.StatusCancelled)
				panic(rec)
			}
			t.recoverRequest(ctx, tx, rw, r, rec)
		}()

		next.ServeHTTP(rw, r)
	})
}

func (t *Tracer) recoverRequest(ctx context.Context, tx *Transaction, rw *responseWriter, r *http.Request, rec any) {
	err, ok := rec.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", rec)
	}

	status := rw.statusCode
	if !rw.written {
		status = http.StatusInternalServerError
		if code, ok := StatusFromError(err); ok {
			status = code
		}
		http.Error(rw, http.StatusText(status), status)
	}

	t.logger.ErrorContext(ctx, "panic in handler",
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"trace_id", TraceID(ctx),
		"stack", string(debug.Stack()),
	)

	t.CaptureException(ctx, err, WithMechanism("http", false))

	tx.Span().SetData(DataHTTPStatusCode, status)
	tx.EndWithStatus(span.StatusFromHTTP(status))
}

func (t *Tracer) recordQueueTime(ctx context.Context, root *span.Span, header string) {
	if header == "" {
		return
	}
	res, ok := queuetime.Extract(header, time.Now())
	if !ok {
		t.reporter.Report(ctx, tracerr.MalformedInput, "queuetime.extract",
			"unparseable request start header", "value", truncate(header, 64))
		return
	}
	if res.Skewed {
		t.reporter.Report(ctx, tracerr.ClockSkew, "queuetime.extract",
			"request start is in the future, queue time clamped to zero", "value", truncate(header, 64))
	}
	root.SetData(queuetime.Attribute, res.Milliseconds())
	t.observers.QueueTime(ctx, res)
}
