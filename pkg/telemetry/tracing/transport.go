package tracing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"

	"go.opentelemetry.io/otel/propagation"

	"mercator-hq/tracekit/pkg/telemetry/tracing/span"
)

// Transport returns an http.RoundTripper that records every request made
// under an active span as an "http.client" child span. The span ends when
// the response body is drained or closed, so its duration covers the body
// read.
//
// Trace headers are only sent to URLs matching the propagation targets.
//
//	client := &http.Client{Transport: tracer.Transport(nil)}
func (t *Tracer) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &transport{base: base, propagator: t.propagator}
}

type transport struct {
	base       http.RoundTripper
	propagator *Propagator
}

// RoundTrip implements http.RoundTripper.
func (tr *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if SpanFromContext(req.Context()) == nil {
		return tr.base.RoundTrip(req)
	}

	target := stripQuery(req.URL)
	ctx, sp := StartSpan(req.Context(), "http.client", req.Method+" "+target)
	sp.SetData(DataHTTPMethod, req.Method)
	sp.SetData(DataURLFull, target)

	// A RoundTripper must not modify the caller's request.
	req = req.Clone(ctx)
	if tr.propagator.ShouldPropagate(req.URL.String()) {
		tr.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
	}

	resp, err := tr.base.RoundTrip(req)
	if err != nil {
		SetErrorData(sp, err, "")
		sp.FinishWithStatus(statusFromTransportError(err))
		return nil, err
	}

	sp.SetData(DataHTTPStatusCode, resp.StatusCode)
	status := span.StatusFromHTTP(resp.StatusCode)
	if resp.Body == nil || resp.Body == http.NoBody {
		sp.FinishWithStatus(status)
		return resp, nil
	}
	resp.Body = &spanBody{ReadCloser: resp.Body, span: sp, status: status}
	return resp, nil
}

// spanBody finishes the client span at EOF or Close, whichever comes first.
type spanBody struct {
	io.ReadCloser
	span   *span.Span
	status span.Status
	once   sync.Once
}

func (b *spanBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	switch {
	case err == io.EOF:
		b.finish(b.status)
	case err != nil:
		b.finish(statusFromTransportError(err))
	}
	return n, err
}

func (b *spanBody) Close() error {
	err := b.ReadCloser.Close()
	b.finish(b.status)
	return err
}

func (b *spanBody) finish(st span.Status) {
	b.once.Do(func() { b.span.FinishWithStatus(st) })
}

func statusFromTransportError(err error) span.Status {
	switch {
	case errors.Is(err, context.Canceled):
		return span.StatusCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return span.StatusDeadlineExceeded
	default:
		return span.StatusInternalError
	}
}

func stripQuery(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.Fragment = ""
	c.User = nil
	return c.String()
}
