package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/tracekit/pkg/telemetry/tracing/dsc"
	"mercator-hq/tracekit/pkg/telemetry/tracing/scope"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracecontext"
)

type stubSpan struct {
	tc tracecontext.TraceContext
}

func (s stubSpan) TraceContext() tracecontext.TraceContext { return s.tc }

// scopedContext returns a context carrying a scope for a fixed trace.
func scopedContext(t *testing.T, user scope.User) (context.Context, tracecontext.TraceContext) {
	t.Helper()
	traceID, ok := tracecontext.ParseTraceID("4bf92f3577b34da6a3ce929d0e0e4736")
	require.True(t, ok)
	spanID, ok := tracecontext.ParseSpanID("00f067aa0ba902b7")
	require.True(t, ok)

	tc := tracecontext.TraceContext{TraceID: traceID, SpanID: spanID, Sampled: tracecontext.SampledTrue}
	sc := scope.New(stubSpan{tc: tc}, dsc.DSC{}, nil)
	if !user.IsEmpty() {
		sc.SetUser(user)
	}
	return scope.NewContext(context.Background(), sc), tc
}

func TestContextHandler_AddsTraceFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "info", Format: "json", Writer: buf})
	require.NoError(t, err)

	ctx, tc := scopedContext(t, scope.User{ID: "42"})
	ctx = WithRequestID(ctx, "req-7")

	logger.InfoContext(ctx, "in unit of work")
	logger.Info("outside")
	require.NoError(t, logger.Shutdown())

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)

	assert.Equal(t, tc.TraceID.String(), lines[0][FieldTraceID])
	assert.Equal(t, tc.SpanID.String(), lines[0][FieldSpanID])
	assert.Equal(t, "42", lines[0][FieldUserID])
	assert.Equal(t, "req-7", lines[0][FieldRequestID])

	assert.NotContains(t, lines[1], FieldTraceID)
	assert.NotContains(t, lines[1], FieldRequestID)
}

func TestContextHandler_KeepsExplicitFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "info", Format: "json", Writer: buf})
	require.NoError(t, err)

	ctx, _ := scopedContext(t, scope.User{})
	logger.InfoContext(ctx, "explicit", FieldTraceID, "override")
	require.NoError(t, logger.Shutdown())

	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte(`"trace_id"`)))
	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "override", lines[0][FieldTraceID])
	assert.NotContains(t, lines[0], FieldUserID)
}

func TestContextHandler_TraceIDsSurviveRedaction(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "info", Format: "json", RedactPII: true, Writer: buf})
	require.NoError(t, err)

	ctx, tc := scopedContext(t, scope.User{ID: "42", Email: "jane@example.com"})
	logger.InfoContext(ctx, "redacted")
	require.NoError(t, logger.Shutdown())

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, tc.TraceID.String(), lines[0][FieldTraceID])
	assert.Equal(t, tc.SpanID.String(), lines[0][FieldSpanID])
}

func TestContextHandler_WithGroup(t *testing.T) {
	buf := &bytes.Buffer{}
	base := slog.NewJSONHandler(buf, nil)
	logger := slog.New(NewContextHandler(base)).WithGroup("req").With("method", "GET")

	ctx, tc := scopedContext(t, scope.User{})
	logger.InfoContext(ctx, "grouped")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	group, ok := lines[0]["req"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "GET", group["method"])
	assert.Equal(t, tc.TraceID.String(), group[FieldTraceID])
}

func TestRedactingHandler_WithAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	h := NewRedactingHandler(slog.NewJSONHandler(buf, nil), NewRedactor(nil))
	logger := slog.New(h).With("token", "abcdefgh", "peer", "192.168.1.100")

	logger.Info("bound")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "abcd***", lines[0]["token"])
	assert.Equal(t, "192.*.*.*", lines[0]["peer"])
}

func TestContextLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "debug", Format: "json", Writer: buf})
	require.NoError(t, err)

	ctx, tc := scopedContext(t, scope.User{})
	cl := NewContextLogger(logger, ctx).With("component", "transport")
	cl.Debug("d")
	cl.Info("i")
	cl.Warn("w")
	cl.Error("e")
	require.NoError(t, logger.Shutdown())

	lines := decodeLines(t, buf)
	require.Len(t, lines, 4)
	for _, line := range lines {
		assert.Equal(t, tc.TraceID.String(), line[FieldTraceID])
		assert.Equal(t, "transport", line["component"])
	}
}

func TestGetRequestID(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
	assert.Equal(t, "abc", GetRequestID(WithRequestID(context.Background(), "abc")))
}
