package tracing

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/tracekit/pkg/telemetry/tracing/queuetime"
	"mercator-hq/tracekit/pkg/telemetry/tracing/span"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracerr"
)

type statusError struct{ code int }

func (e statusError) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e statusError) HTTPStatus() int { return e.code }

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   int
		wantOK bool
	}{
		{name: "plain error", err: errors.New("x")},
		{name: "direct", err: statusError{code: 404}, want: 404, wantOK: true},
		{name: "wrapped", err: fmt.Errorf("lookup: %w", statusError{code: 409}), want: 409, wantOK: true},
		{name: "out of range", err: statusError{code: 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := StatusFromError(tt.err)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("StatusFromError() = %d, %v, want %d, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMiddleware_RecordsRequest(t *testing.T) {
	tr, exp := newTestTracer(t, 1)

	var sawTraceID string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		sawTraceID = TraceID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/users/7", nil)
	rec := httptest.NewRecorder()
	tr.Middleware(mux).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	txs := exp.Transactions()
	require.Len(t, txs, 1)
	root := txs[0].Root
	assert.Equal(t, "GET /users/{id}", root.Name)
	assert.Equal(t, SourceRoute, root.Source)
	assert.Equal(t, "http.server", root.Op)
	assert.Equal(t, span.StatusOK, root.Status)
	assert.Equal(t, http.StatusOK, root.Data[DataHTTPStatusCode])
	assert.Equal(t, "/users/7", root.Data[DataURLPath])
	assert.Equal(t, root.TraceID.String(), sawTraceID)
}

func TestMiddleware_StatusFromResponse(t *testing.T) {
	tests := []struct {
		code int
		want span.Status
	}{
		{code: http.StatusNoContent, want: span.StatusOK},
		{code: http.StatusNotFound, want: span.StatusNotFound},
		{code: http.StatusTooManyRequests, want: span.StatusResourceExhausted},
		{code: http.StatusBadGateway, want: span.StatusInternalError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			tr, exp := newTestTracer(t, 1)
			h := tr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

			txs := exp.Transactions()
			require.Len(t, txs, 1)
			assert.Equal(t, tt.want, txs[0].Root.Status)
			assert.Equal(t, "GET /x", txs[0].Root.Name)
			assert.Equal(t, SourceURL, txs[0].Root.Source)
		})
	}
}

func TestMiddleware_ContinuesTrace(t *testing.T) {
	tr, exp := newTestTracer(t, 0)

	h := tr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-"+testTraceID+"-"+testParentID+"-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	txs := exp.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, testTraceID, txs[0].Root.TraceID.String())
	assert.Equal(t, testParentID, txs[0].Root.ParentSpanID.String())
}

func TestMiddleware_PanicKeepsWrittenStatus(t *testing.T) {
	tr, exp := newTestTracer(t, 1)

	h := tr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		panic("lookup failed")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	txs := exp.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, span.StatusNotFound, txs[0].Root.Status)
	assert.Equal(t, http.StatusNotFound, txs[0].Root.Data[DataHTTPStatusCode])

	events := exp.Events()
	require.Len(t, events, 1)
	require.NotEmpty(t, events[0].Exceptions)
	exc := events[0].Exceptions[0]
	assert.Equal(t, "panic: lookup failed", exc.Value)
	assert.Equal(t, "http", exc.Mechanism.Type)
	assert.False(t, exc.Mechanism.Handled)
	assert.Equal(t, txs[0].Root.TraceID, events[0].TraceID)
}

func TestMiddleware_PanicStatusFromError(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		wantCode int
		want     span.Status
	}{
		{name: "plain panic", value: "boom", wantCode: http.StatusInternalServerError, want: span.StatusInternalError},
		{name: "error with status", value: statusError{code: 503}, wantCode: http.StatusServiceUnavailable, want: span.StatusUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, exp := newTestTracer(t, 1)
			h := tr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic(tt.value)
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			txs := exp.Transactions()
			require.Len(t, txs, 1)
			assert.Equal(t, tt.want, txs[0].Root.Status)
			assert.Len(t, exp.Events(), 1)
		})
	}
}

func TestMiddleware_AbortHandlerRepanics(t *testing.T) {
	tr, exp := newTestTracer(t, 1)
	h := tr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})

	txs := exp.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, span.StatusCancelled, txs[0].Root.Status)
	assert.Empty(t, exp.Events())
}

func TestMiddleware_QueueTime(t *testing.T) {
	obs := &recordingObserver{}
	tr, exp := newTestTracer(t, 1, WithObserver(obs))
	h := tr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	start := time.Now().Add(-500 * time.Millisecond)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(queuetime.Header, fmt.Sprintf("t=%d", start.UnixMicro()))
	h.ServeHTTP(httptest.NewRecorder(), req)

	txs := exp.Transactions()
	require.Len(t, txs, 1)
	ms, ok := txs[0].Root.Data[queuetime.Attribute].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, ms, 480.0)
	assert.Less(t, ms, 1000.0)
	assert.Equal(t, 1, obs.count("queue_time"))
}

func TestMiddleware_QueueTimeFaults(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		kind     tracerr.Kind
		wantData bool
	}{
		{
			name:     "future timestamp",
			header:   fmt.Sprintf("t=%d", time.Now().Add(time.Hour).UnixMilli()),
			kind:     tracerr.ClockSkew,
			wantData: true,
		},
		{
			name:   "malformed",
			header: "t=yesterday",
			kind:   tracerr.MalformedInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, exp := newTestTracer(t, 1)
			h := tr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(queuetime.Header, tt.header)
			h.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, int64(1), tr.Reporter().Count(tt.kind))

			txs := exp.Transactions()
			require.Len(t, txs, 1)
			v, ok := txs[0].Root.Data[queuetime.Attribute]
			assert.Equal(t, tt.wantData, ok)
			if tt.wantData {
				assert.Equal(t, 0.0, v)
			}
		})
	}
}

func TestMiddleware_ConcurrentRequestsIsolated(t *testing.T) {
	tr, exp := newTestTracer(t, 1)
	h := tr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetTag(r.Context(), "path", r.URL.Path)
		time.Sleep(time.Millisecond)
	}))

	srv := httptest.NewServer(h)
	defer srv.Close()

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			resp, err := http.Get(fmt.Sprintf("%s/req/%d", srv.URL, i))
			if err == nil {
				resp.Body.Close()
			}
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	txs := exp.Transactions()
	require.Len(t, txs, n)
	seen := make(map[string]bool)
	for _, tx := range txs {
		assert.Equal(t, tx.Root.Data[DataURLPath], tx.Tags["path"])
		seen[tx.Root.TraceID.String()] = true
	}
	assert.Len(t, seen, n)
}
