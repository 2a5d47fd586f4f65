package span

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"

	"mercator-hq/tracekit/pkg/telemetry/tracing/tracecontext"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracerr"
)

func rootContext(sampled tracecontext.Sampled) tracecontext.TraceContext {
	return tracecontext.TraceContext{
		TraceID: tracecontext.NewTraceID(),
		SpanID:  tracecontext.NewSpanID(),
		Sampled: sampled,
	}
}

func newReporter() (*tracerr.Reporter, *bytes.Buffer) {
	var buf bytes.Buffer
	return tracerr.NewReporter(slog.New(slog.NewTextHandler(&buf, nil)), tracerr.WithLogLimit(rate.Inf, 0)), &buf
}

func TestSpan_StateMachine(t *testing.T) {
	tx := NewTransaction(rootContext(tracecontext.SampledTrue), Options{Name: "GET /", Op: "http.server"})
	assert.Equal(t, StateIdle, tx.State())

	tx.Start()
	assert.Equal(t, StateStarted, tx.State())

	tx.Finish()
	assert.Equal(t, StateFinished, tx.State())
}

func TestSpan_ChildInheritsTraceAndDecision(t *testing.T) {
	for _, sampled := range []tracecontext.Sampled{tracecontext.SampledTrue, tracecontext.SampledFalse} {
		tx := StartTransaction(rootContext(sampled), Options{})
		child := tx.StartChild("db.query")
		grandchild := child.StartChild("db.row")

		assert.Equal(t, tx.TraceID(), child.TraceID())
		assert.Equal(t, tx.TraceID(), grandchild.TraceID())
		assert.Equal(t, tx.SpanID(), child.TraceContext().ParentSpanID)
		assert.Equal(t, child.SpanID(), grandchild.TraceContext().ParentSpanID)
		assert.NotEqual(t, tx.SpanID(), child.SpanID())
		assert.Equal(t, tx.Sampled(), child.Sampled())
		assert.Equal(t, tx.Sampled(), grandchild.Sampled())
	}
}

func TestSpan_FinishTwiceIsViolation(t *testing.T) {
	rep, buf := newReporter()
	calls := 0
	tx := StartTransaction(rootContext(tracecontext.SampledTrue), Options{
		Reporter: rep,
		OnFinish: func(Transaction) { calls++ },
	})

	tx.FinishWithStatus(StatusOK)
	end := tx.Snapshot().End
	tx.FinishWithStatus(StatusInternalError)

	assert.Equal(t, 1, calls)
	assert.Equal(t, StatusOK, tx.Status())
	assert.Equal(t, end, tx.Snapshot().End)
	assert.Equal(t, int64(1), rep.Count(tracerr.ProtocolViolation))
	assert.Contains(t, buf.String(), "span finished twice")
}

func TestSpan_FinishIdleIsViolation(t *testing.T) {
	rep, _ := newReporter()
	tx := NewTransaction(rootContext(tracecontext.SampledTrue), Options{Reporter: rep})
	tx.Finish()
	assert.Equal(t, StateIdle, tx.State())
	assert.Equal(t, int64(1), rep.Count(tracerr.ProtocolViolation))
}

func TestSpan_TransactionSnapshot(t *testing.T) {
	var got Transaction
	start := time.Now().Add(-time.Second)
	tx := StartTransaction(rootContext(tracecontext.SampledTrue), Options{
		Name:      "GET /users",
		Op:        "http.server",
		Source:    "route",
		StartTime: start,
		OnFinish:  func(t Transaction) { got = t },
	})
	tx.SetData("http.server.request.time_in_queue", 12.5)

	done := tx.StartChild("db.query", "SELECT 1")
	done.SetTag("db.system", "postgres")
	done.FinishWithStatus(StatusOK)

	open := tx.StartChild("http.client")

	tx.FinishWithStatus(StatusOK)

	require.Len(t, got.Spans, 2)
	assert.True(t, got.Root.Transaction)
	assert.Equal(t, "GET /users", got.Root.Name)
	assert.Equal(t, "route", got.Root.Source)
	assert.Equal(t, start, got.Root.Start)
	assert.Equal(t, 12.5, got.Root.Data["http.server.request.time_in_queue"])
	assert.GreaterOrEqual(t, got.Root.Duration(), time.Second)

	assert.Equal(t, "SELECT 1", got.Spans[0].Name)
	assert.Equal(t, "postgres", got.Spans[0].Tags["db.system"])
	assert.False(t, got.Spans[0].Orphaned)

	assert.True(t, got.Spans[1].Orphaned)
	assert.Equal(t, got.Root.End, got.Spans[1].End)
	assert.True(t, open.Orphaned())
	assert.Equal(t, 1, got.Orphans())

	// Finishing an orphan later is allowed.
	open.Finish()
	assert.Equal(t, StateFinished, open.State())
}

func TestSpan_ChildAfterRootFinishedIsDetached(t *testing.T) {
	rep, buf := newReporter()
	tx := StartTransaction(rootContext(tracecontext.SampledTrue), Options{Reporter: rep})
	tx.Finish()

	late := tx.StartChild("late")
	assert.False(t, late.Recorded())
	assert.Equal(t, tx.TraceID(), late.TraceID())
	assert.Equal(t, int64(1), rep.Count(tracerr.ProtocolViolation))
	assert.Contains(t, buf.String(), "child started after transaction finished")

	late.Finish()
	assert.Equal(t, int64(1), rep.Count(tracerr.ProtocolViolation))
}

func TestSpan_MaxSpans(t *testing.T) {
	var got Transaction
	tx := StartTransaction(rootContext(tracecontext.SampledTrue), Options{
		MaxSpans: 2,
		OnFinish: func(t Transaction) { got = t },
	})
	for i := 0; i < 5; i++ {
		tx.StartChild("op").Finish()
	}
	tx.Finish()

	assert.Len(t, got.Spans, 2)
	assert.Equal(t, 3, got.Dropped)
}

func TestSpan_Abandon(t *testing.T) {
	called := false
	tx := StartTransaction(rootContext(tracecontext.SampledTrue), Options{
		OnFinish: func(Transaction) { called = true },
	})

	assert.True(t, tx.Abandon())
	assert.False(t, tx.Abandon())
	assert.Equal(t, StatusCancelled, tx.Status())
	assert.False(t, called)
	assert.False(t, tx.StartChild("after").Recorded())
}

func TestSpan_ConcurrentChildren(t *testing.T) {
	var got Transaction
	tx := StartTransaction(rootContext(tracecontext.SampledTrue), Options{
		OnFinish: func(t Transaction) { got = t },
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := tx.StartChild("worker")
			c.SetData("i", 1)
			c.Finish()
		}()
	}
	wg.Wait()
	tx.Finish()

	require.Len(t, got.Spans, 10)
	for _, s := range got.Spans {
		assert.Equal(t, tx.SpanID(), s.ParentSpanID)
	}
}

func TestStatusFromHTTP(t *testing.T) {
	tests := []struct {
		code int
		want Status
	}{
		{200, StatusOK},
		{302, StatusOK},
		{400, StatusInvalidArgument},
		{401, StatusUnauthenticated},
		{403, StatusPermissionDenied},
		{404, StatusNotFound},
		{409, StatusAlreadyExists},
		{413, StatusFailedPrecondition},
		{429, StatusResourceExhausted},
		{499, StatusCancelled},
		{500, StatusInternalError},
		{501, StatusUnimplemented},
		{503, StatusUnavailable},
		{504, StatusDeadlineExceeded},
		{0, StatusUnknown},
		{700, StatusUnknown},
	}
	for _, tt := range tests {
		if got := StatusFromHTTP(tt.code); got != tt.want {
			t.Errorf("StatusFromHTTP(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestStatusFromGRPC(t *testing.T) {
	tests := []struct {
		code codes.Code
		want Status
	}{
		{codes.OK, StatusOK},
		{codes.NotFound, StatusNotFound},
		{codes.Internal, StatusInternalError},
		{codes.Unauthenticated, StatusUnauthenticated},
		{codes.Code(99), StatusUnknown},
	}
	for _, tt := range tests {
		if got := StatusFromGRPC(tt.code); got != tt.want {
			t.Errorf("StatusFromGRPC(%v) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestStatus_IsError(t *testing.T) {
	assert.False(t, StatusUnset.IsError())
	assert.False(t, StatusOK.IsError())
	assert.True(t, StatusNotFound.IsError())
}
