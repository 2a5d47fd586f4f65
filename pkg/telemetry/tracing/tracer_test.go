package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tracekit/pkg/config"
	"mercator-hq/tracekit/pkg/telemetry/tracing/dsc"
	"mercator-hq/tracekit/pkg/telemetry/tracing/exception"
	"mercator-hq/tracekit/pkg/telemetry/tracing/export"
	"mercator-hq/tracekit/pkg/telemetry/tracing/queuetime"
	"mercator-hq/tracekit/pkg/telemetry/tracing/sampling"
	"mercator-hq/tracekit/pkg/telemetry/tracing/scope"
	"mercator-hq/tracekit/pkg/telemetry/tracing/span"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracecontext"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracerr"
)

const (
	testTraceID  = "4bf92f3577b34da6a3ce929d0e0e4736"
	testParentID = "00f067aa0ba902b7"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(rate float64) config.TracingConfig {
	cfg := config.Default().Tracing
	cfg.SampleRate = &rate
	cfg.PublicKey = "public-key"
	cfg.Release = "1.0.0"
	return cfg
}

func newTestTracer(t *testing.T, rate float64, opts ...Option) (*Tracer, *export.MemoryExporter) {
	t.Helper()
	cfg := testConfig(rate)
	exp := export.NewMemoryExporter()
	opts = append([]Option{WithExporter(exp), WithLogger(discardLogger())}, opts...)
	tr, err := New(&cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Shutdown(context.Background()) })
	return tr, exp
}

func inboundContext(headers map[string]string) context.Context {
	return ExtractFromMap(context.Background(), headers)
}

// TestNew tests the creation of a new tracer
func TestNew(t *testing.T) {
	valid := testConfig(0.5)

	disabled := testConfig(1)
	disabled.Enabled = false

	badSampler := testConfig(1)
	badSampler.Sampler = "sometimes"

	badTarget := testConfig(1)
	badTarget.PropagationTargets = []string{"("}

	tests := []struct {
		name    string
		config  *config.TracingConfig
		wantErr bool
	}{
		{name: "nil config", config: nil, wantErr: true},
		{name: "ratio sampler", config: &valid},
		{name: "disabled tracing", config: &disabled},
		{name: "unknown sampler", config: &badSampler, wantErr: true},
		{name: "invalid propagation target", config: &badTarget, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, err := New(tt.config, WithLogger(discardLogger()))
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				return
			}
			if tracer.Enabled() != tt.config.Enabled {
				t.Errorf("Enabled() = %v, want %v", tracer.Enabled(), tt.config.Enabled)
			}
			_ = tracer.Shutdown(context.Background())
		})
	}
}

func TestTracer_Begin_NewTrace(t *testing.T) {
	tr, exp := newTestTracer(t, 1)

	ctx, tx := tr.Begin(context.Background(), "checkout", WithOp("task"))
	d := tx.Decision()

	assert.Equal(t, sampling.OriginHead, d.Origin)
	assert.Equal(t, tracecontext.SampledTrue, d.Sampled)
	assert.Equal(t, d.TraceID.String(), TraceID(ctx))
	assert.Equal(t, tx.Span().SpanID().String(), SpanID(ctx))
	assert.True(t, IsSampled(ctx))

	frozen := tx.DSC()
	id, ok := frozen.TraceID()
	require.True(t, ok)
	assert.Equal(t, d.TraceID, id)
	pk, _ := frozen.Get(dsc.KeyPublicKey)
	assert.Equal(t, "public-key", pk)
	name, _ := frozen.Get(dsc.KeyTransaction)
	assert.Equal(t, "checkout", name)

	tx.End()

	txs := exp.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, "checkout", txs[0].Root.Name)
	assert.Equal(t, "task", txs[0].Root.Op)
	assert.Equal(t, span.StatusOK, txs[0].Root.Status)
	assert.Equal(t, frozen.String(), txs[0].Baggage)
	assert.Equal(t, sampling.ReasonRate, txs[0].Root.Data[DataSampleReason])
}

func TestTracer_Begin_NewTraceIgnoresBaggageRate(t *testing.T) {
	tr, exp := newTestTracer(t, 0)

	ctx := inboundContext(map[string]string{
		"baggage": "sentry-trace_id=" + testTraceID + ",sentry-sample_rate=1.0,sentry-sampled=true",
	})
	_, tx := tr.Begin(ctx, "job")

	d := tx.Decision()
	assert.Equal(t, sampling.OriginHead, d.Origin)
	assert.Equal(t, tracecontext.SampledFalse, d.Sampled)
	assert.NotEqual(t, testTraceID, d.TraceID.String())
	assert.Equal(t, 0.0, d.SampleRate)

	rate, ok := tx.DSC().SampleRate()
	require.True(t, ok)
	assert.Equal(t, 0.0, rate)

	tx.End()
	assert.Empty(t, exp.Transactions())
}

func TestTracer_Begin_InheritsUpstreamDecision(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		rate    float64
		want    tracecontext.Sampled
	}{
		{
			name:    "traceparent sampled overrides zero rate",
			headers: map[string]string{"traceparent": "00-" + testTraceID + "-" + testParentID + "-01"},
			rate:    0,
			want:    tracecontext.SampledTrue,
		},
		{
			name:    "traceparent not sampled overrides full rate",
			headers: map[string]string{"traceparent": "00-" + testTraceID + "-" + testParentID + "-00"},
			rate:    1,
			want:    tracecontext.SampledFalse,
		},
		{
			name:    "sentry-trace sampled",
			headers: map[string]string{"sentry-trace": testTraceID + "-" + testParentID + "-1"},
			rate:    0,
			want:    tracecontext.SampledTrue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestTracer(t, tt.rate)
			_, tx := tr.Begin(inboundContext(tt.headers), "continued")
			defer tx.End()

			d := tx.Decision()
			assert.Equal(t, sampling.OriginContinued, d.Origin)
			assert.Equal(t, sampling.ReasonInherited, d.Reason)
			assert.Equal(t, tt.want, d.Sampled)
			assert.Equal(t, testTraceID, d.TraceID.String())
			assert.Equal(t, testParentID, tx.Span().TraceContext().ParentSpanID.String())
		})
	}
}

func TestTracer_Begin_DeferredDecision(t *testing.T) {
	tr, _ := newTestTracer(t, 1)

	_, tx := tr.Begin(inboundContext(map[string]string{
		"sentry-trace": testTraceID + "-" + testParentID,
	}), "deferred")
	defer tx.End()

	d := tx.Decision()
	assert.Equal(t, sampling.OriginContinued, d.Origin)
	assert.Equal(t, sampling.ReasonDeferred, d.Reason)
	assert.Equal(t, tracecontext.SampledTrue, d.Sampled)
	assert.Equal(t, testTraceID, d.TraceID.String())
}

func TestTracer_Begin_KeepsIncomingDSC(t *testing.T) {
	tr, _ := newTestTracer(t, 0)

	incoming := "sentry-trace_id=" + testTraceID + ",sentry-sample_rate=0.5,sentry-public_key=upstream,other=1"
	ctx, tx := tr.Begin(inboundContext(map[string]string{
		"traceparent": "00-" + testTraceID + "-" + testParentID + "-01",
		"baggage":     incoming,
	}), "continued")
	defer tx.End()

	assert.Equal(t, incoming, tx.DSC().String())

	out := map[string]string{}
	tr.Propagator().Inject(ctx, propagation.MapCarrier(out))
	assert.Equal(t, incoming, out["baggage"])
	assert.Equal(t, "00-"+testTraceID+"-"+tx.Span().SpanID().String()+"-01", out["traceparent"])
}

func TestTracer_Begin_ForwardsThirdPartyBaggage(t *testing.T) {
	tr, _ := newTestTracer(t, 1)

	_, tx := tr.Begin(inboundContext(map[string]string{"baggage": "vendor=abc"}), "head")
	defer tx.End()

	v, ok := tx.DSC().ThirdParty().Get("vendor")
	require.True(t, ok)
	assert.Equal(t, "abc", v)
	assert.Contains(t, tx.DSC().String(), "vendor=abc")
}

func TestTracer_ConcurrentUnitsOfWork(t *testing.T) {
	tr, exp := newTestTracer(t, 1)

	const n = 64
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[trace.TraceID]bool, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, tx := tr.Begin(context.Background(), fmt.Sprintf("work-%d", i))
			userID := fmt.Sprintf("user-%d", i)
			SetUser(ctx, scope.User{ID: userID})

			ctx, sp := StartSpan(ctx, "step")
			SetTag(ctx, "worker", userID)
			sp.Finish()

			assert.Equal(t, userID, tx.Scope().User().ID)

			mu.Lock()
			ids[tx.Decision().TraceID] = true
			mu.Unlock()
			tx.End()
		}(i)
	}
	wg.Wait()

	assert.Len(t, ids, n)

	txs := exp.Transactions()
	require.Len(t, txs, n)
	for _, tx := range txs {
		assert.Equal(t, "user-"+tx.Root.Name[len("work-"):], tx.User.ID)
	}
}

func TestTracer_CancelAbandonsUnitOfWork(t *testing.T) {
	obs := &recordingObserver{}
	tr, exp := newTestTracer(t, 1, WithObserver(obs))

	parent, cancel := context.WithCancel(context.Background())
	ctx, tx := tr.Begin(parent, "cancelled")
	childCtx, _ := StartSpan(ctx, "db")

	cancel()

	require.Eventually(t, func() bool { return obs.count("abandoned") == 1 }, time.Second, time.Millisecond)
	assert.True(t, tx.Abandoned())
	assert.True(t, tx.Scope().Ended())
	assert.True(t, scope.FromContext(childCtx).Ended())
	assert.Equal(t, span.StatusCancelled, tx.Span().Status())

	tx.End()
	assert.Empty(t, exp.Transactions())
	assert.Equal(t, int64(0), tr.Reporter().Count(tracerr.ProtocolViolation))
	assert.Equal(t, 0, obs.count("finished"))
}

func TestTransaction_EndTwice(t *testing.T) {
	tr, exp := newTestTracer(t, 1)

	_, tx := tr.Begin(context.Background(), "twice")
	tx.End()
	tx.End()

	assert.Len(t, exp.Transactions(), 1)
	assert.Equal(t, int64(1), tr.Reporter().Count(tracerr.ProtocolViolation))
	assert.False(t, tx.Abandoned())
}

func TestTransaction_EndWithStatus(t *testing.T) {
	tr, exp := newTestTracer(t, 1)

	_, tx := tr.Begin(context.Background(), "failing")
	tx.EndWithStatus(span.StatusInternalError)

	txs := exp.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, span.StatusInternalError, txs[0].Root.Status)
}

func TestTransaction_ScopeEndedAfterEnd(t *testing.T) {
	tr, _ := newTestTracer(t, 1)

	ctx, tx := tr.Begin(context.Background(), "work")
	tx.End()

	SetTag(ctx, "late", "value")
	assert.True(t, tx.Scope().Ended())
	assert.Equal(t, int64(1), tr.Reporter().Count(tracerr.ProtocolViolation))
}

func TestStartSpan_ChildrenFromGoroutines(t *testing.T) {
	tr, exp := newTestTracer(t, 1)

	ctx, tx := tr.Begin(context.Background(), "fan-out")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			childCtx, sp := StartSpan(ctx, "worker", fmt.Sprintf("worker-%d", i))
			SetTag(childCtx, "worker", fmt.Sprint(i))
			time.Sleep(time.Millisecond)
			sp.Finish()
		}(i)
	}
	wg.Wait()

	// The parent scope is untouched by the children's tags.
	_, ok := tx.Scope().Tags()["worker"]
	assert.False(t, ok)

	tx.End()

	txs := exp.Transactions()
	require.Len(t, txs, 1)
	require.Len(t, txs[0].Spans, 2)
	for _, s := range txs[0].Spans {
		assert.Equal(t, tx.Span().SpanID(), s.ParentSpanID)
		assert.Equal(t, tx.Span().TraceID(), s.TraceID)
		assert.False(t, s.Orphaned)
	}
}

func TestStartSpan_NestedParenting(t *testing.T) {
	tr, exp := newTestTracer(t, 1)

	ctx, tx := tr.Begin(context.Background(), "nested")
	ctx, outer := StartSpan(ctx, "outer")
	_, inner := StartSpan(ctx, "inner")
	inner.Finish()
	outer.Finish()
	tx.End()

	txs := exp.Transactions()
	require.Len(t, txs, 1)
	require.Len(t, txs[0].Spans, 2)

	byOp := map[string]span.Data{}
	for _, s := range txs[0].Spans {
		byOp[s.Op] = s
	}
	assert.Equal(t, tx.Span().SpanID(), byOp["outer"].ParentSpanID)
	assert.Equal(t, byOp["outer"].SpanID, byOp["inner"].ParentSpanID)
}

func TestStartSpan_WithoutActiveSpan(t *testing.T) {
	ctx, sp := StartSpan(context.Background(), "orphan")
	require.NotNil(t, sp)
	assert.False(t, sp.Sampled())
	assert.Nil(t, SpanFromContext(ctx))
	sp.Finish()
}

func TestContextAccessors_NoScope(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", TraceID(ctx))
	assert.Equal(t, "", SpanID(ctx))
	assert.False(t, IsSampled(ctx))
	assert.Nil(t, SpanFromContext(ctx))
	assert.Nil(t, TransactionFromContext(ctx))

	// Mutators are no-ops without a scope.
	SetUser(ctx, scope.User{ID: "1"})
	SetTag(ctx, "k", "v")
	SetExtra(ctx, "k", 1)
	SetData(ctx, "k", 1)
}

type groupError struct{ errs []error }

func (g groupError) Error() string   { return "several failures" }
func (g groupError) Errors() []error { return g.errs }

func TestTracer_CaptureException_Group(t *testing.T) {
	tr, exp := newTestTracer(t, 1)

	ctx, tx := tr.Begin(context.Background(), "batch")
	defer tx.End()
	SetUser(ctx, scope.User{ID: "42", Email: "user@example.com"})
	SetTag(ctx, "region", "eu")

	err := groupError{errs: []error{errors.New("first"), errors.New("second")}}
	id := tr.CaptureException(ctx, err)
	require.Len(t, id, 32)

	events := exp.Events()
	require.Len(t, events, 1)
	ev := events[0]

	assert.Equal(t, id, ev.EventID)
	assert.Equal(t, tx.Decision().TraceID, ev.TraceID)
	assert.Equal(t, "batch", ev.Transaction)
	assert.Equal(t, "42", ev.User.ID)
	assert.Equal(t, "eu", ev.Tags["region"])

	require.Len(t, ev.Exceptions, 3)
	root := ev.Exceptions[0]
	assert.True(t, root.Mechanism.IsExceptionGroup)
	assert.True(t, root.Mechanism.Handled)
	for _, member := range ev.Exceptions[1:] {
		require.NotNil(t, member.Mechanism.ParentID)
		assert.Equal(t, root.Mechanism.ExceptionID, *member.Mechanism.ParentID)
	}
}

func TestTracer_CaptureException_UnsampledTraceStillExported(t *testing.T) {
	tr, exp := newTestTracer(t, 0)

	ctx, tx := tr.Begin(context.Background(), "unsampled")
	tr.CaptureException(ctx, errors.New("boom"))
	tx.End()

	assert.Empty(t, exp.Transactions())
	require.Len(t, exp.Events(), 1)
	assert.Equal(t, tx.Decision().TraceID, exp.Events()[0].TraceID)
}

func TestTracer_CaptureException_Nil(t *testing.T) {
	tr, exp := newTestTracer(t, 1)
	assert.Equal(t, "", tr.CaptureException(context.Background(), nil))
	assert.Empty(t, exp.Events())
}

func TestTracer_SetSampleRate(t *testing.T) {
	tr, exp := newTestTracer(t, 1)

	tr.SetSampleRate(0)
	assert.Equal(t, 0.0, tr.SampleRate())

	_, tx := tr.Begin(context.Background(), "after-update")
	tx.End()
	assert.Equal(t, tracecontext.SampledFalse, tx.Decision().Sampled)
	assert.Empty(t, exp.Transactions())

	tr.SetSampleRate(7)
	assert.Equal(t, 1.0, tr.SampleRate())
	assert.Equal(t, int64(1), tr.Reporter().Count(tracerr.ConfigurationError))
}

func TestTracer_WithSampler(t *testing.T) {
	tr, _ := newTestTracer(t, 1, WithSampler(func(sc sampling.SamplingContext) float64 {
		if sc.Attributes["path"] == "/health" {
			return 0
		}
		return 1
	}))

	_, health := tr.Begin(context.Background(), "health", WithAttributes(map[string]any{"path": "/health"}))
	health.End()
	_, users := tr.Begin(context.Background(), "users", WithAttributes(map[string]any{"path": "/users"}))
	users.End()

	assert.Equal(t, tracecontext.SampledFalse, health.Decision().Sampled)
	assert.Equal(t, tracecontext.SampledTrue, users.Decision().Sampled)
}

func TestTracer_Shutdown(t *testing.T) {
	tr, exp := newTestTracer(t, 1)

	_, tx := tr.Begin(context.Background(), "late")

	require.NoError(t, tr.Shutdown(context.Background()))
	require.NoError(t, tr.Shutdown(context.Background()))

	tx.End()
	assert.Empty(t, exp.Transactions())
}

func TestTracer_Disabled(t *testing.T) {
	cfg := testConfig(1)
	cfg.Enabled = false
	exp := export.NewMemoryExporter()

	tr, err := New(&cfg, WithExporter(exp), WithLogger(discardLogger()))
	require.NoError(t, err)

	ctx, tx := tr.Begin(context.Background(), "disabled")
	assert.NotEmpty(t, TraceID(ctx))
	tr.CaptureException(ctx, errors.New("boom"))
	tx.End()

	assert.Empty(t, exp.Transactions())
	assert.Empty(t, exp.Events())
}

func TestTracer_Observers(t *testing.T) {
	obs := &recordingObserver{}
	tr, _ := newTestTracer(t, 1, WithObserver(obs))

	ctx, tx := tr.Begin(context.Background(), "observed")
	tr.CaptureException(ctx, errors.New("boom"))
	tx.End()
	tx.End()

	assert.Equal(t, 1, obs.count("decision"))
	assert.Equal(t, 1, obs.count("started"))
	assert.Equal(t, 1, obs.count("finished"))
	assert.Equal(t, 1, obs.count("exported"))
	assert.Equal(t, 1, obs.count("exception"))
	assert.Equal(t, 1, obs.count("fault:"+string(tracerr.ProtocolViolation)))
}

// recordingObserver counts the hooks it receives.
type recordingObserver struct {
	NopObserver

	mu     sync.Mutex
	counts map[string]int
	queue  []queuetime.Result
}

func (o *recordingObserver) inc(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[key]++
}

func (o *recordingObserver) count(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[key]
}

func (o *recordingObserver) Decision(context.Context, sampling.Decision) { o.inc("decision") }

func (o *recordingObserver) TransactionStarted(context.Context, *span.Span) { o.inc("started") }

func (o *recordingObserver) TransactionFinished(_ span.Transaction, exported bool) {
	o.inc("finished")
	if exported {
		o.inc("exported")
	}
}

func (o *recordingObserver) TransactionAbandoned(*span.Span) { o.inc("abandoned") }

func (o *recordingObserver) ExceptionCaptured(context.Context, string, []exception.Exception) {
	o.inc("exception")
}

func (o *recordingObserver) QueueTime(_ context.Context, r queuetime.Result) {
	o.mu.Lock()
	o.queue = append(o.queue, r)
	o.mu.Unlock()
	o.inc("queue_time")
}

func (o *recordingObserver) Fault(f tracerr.Fault) { o.inc("fault:" + string(f.Kind)) }
