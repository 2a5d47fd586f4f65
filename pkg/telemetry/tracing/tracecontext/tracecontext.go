// Package tracecontext holds the identity of a trace and the codec for the
// trace-context headers that carry it across process boundaries.
//
// # Headers
//
// traceparent (W3C Trace Context): version-trace_id-parent_id-trace_flags
//
//	00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01
//
// sentry-trace (vendor): trace_id-span_id[-sampled]
//
//	4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-1
//
// The vendor header may omit the sampled flag, in which case the decision is
// deferred to the receiver. traceparent always carries a decision in bit 0 of
// its flags.
//
// Parsing never fails loudly: a missing or malformed header is reported as
// absent and the caller starts a new trace.
package tracecontext

import (
	"crypto/rand"
	"encoding/hex"

	"go.opentelemetry.io/otel/trace"
)

// Sampled is a tri-state sampling decision.
type Sampled int8

const (
	// SampledUndecided means no decision has been made or propagated.
	SampledUndecided Sampled = iota
	// SampledTrue means the trace is recorded.
	SampledTrue
	// SampledFalse means the trace is dropped.
	SampledFalse
)

// SampledFromBool converts a boolean decision.
func SampledFromBool(b bool) Sampled {
	if b {
		return SampledTrue
	}
	return SampledFalse
}

// Bool returns the decision and whether one has been made.
func (s Sampled) Bool() (sampled, decided bool) {
	switch s {
	case SampledTrue:
		return true, true
	case SampledFalse:
		return false, true
	default:
		return false, false
	}
}

// String returns "true", "false" or "" for undecided, matching the baggage
// encoding of the sampled key.
func (s Sampled) String() string {
	switch s {
	case SampledTrue:
		return "true"
	case SampledFalse:
		return "false"
	default:
		return ""
	}
}

// ParseSampled parses "true"/"false" (and "1"/"0"). Anything else is undecided.
func ParseSampled(s string) Sampled {
	switch s {
	case "true", "1":
		return SampledTrue
	case "false", "0":
		return SampledFalse
	default:
		return SampledUndecided
	}
}

// TraceContext is the identity and sampling state of one span within a trace.
//
// TraceID is fixed for the lifetime of a trace. SpanID is unique per span.
// A zero ParentSpanID means the span has no parent.
type TraceContext struct {
	TraceID      trace.TraceID
	SpanID       trace.SpanID
	ParentSpanID trace.SpanID
	Sampled      Sampled

	// SampleRate is the effective rate the decision was taken with. It is
	// only meaningful when HasSampleRate is set.
	SampleRate    float64
	HasSampleRate bool
}

// HasParent reports whether the context has a parent span.
func (tc TraceContext) HasParent() bool {
	return tc.ParentSpanID.IsValid()
}

// IsValid reports whether both identifiers are set.
func (tc TraceContext) IsValid() bool {
	return tc.TraceID.IsValid() && tc.SpanID.IsValid()
}

// Child returns the context of a new child span: same trace, same decision,
// fresh span id, parented to tc.
func (tc TraceContext) Child() TraceContext {
	return TraceContext{
		TraceID:       tc.TraceID,
		SpanID:        NewSpanID(),
		ParentSpanID:  tc.SpanID,
		Sampled:       tc.Sampled,
		SampleRate:    tc.SampleRate,
		HasSampleRate: tc.HasSampleRate,
	}
}

// NewTraceID returns a random 128-bit trace id. Every bit is random, so the
// low half is uniform as ratio sampling requires.
func NewTraceID() trace.TraceID {
	var id trace.TraceID
	for !id.IsValid() {
		_, _ = rand.Read(id[:])
	}
	return id
}

// NewSpanID returns a random 64-bit span id.
func NewSpanID() trace.SpanID {
	var id trace.SpanID
	for !id.IsValid() {
		_, _ = rand.Read(id[:])
	}
	return id
}

// ParseTraceID decodes a 32 character hex trace id. All-zero ids are rejected.
func ParseTraceID(s string) (trace.TraceID, bool) {
	var id trace.TraceID
	if len(s) != 32 || !isHexString(s) {
		return id, false
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return trace.TraceID{}, false
	}
	return id, id.IsValid()
}

// ParseSpanID decodes a 16 character hex span id. All-zero ids are rejected.
func ParseSpanID(s string) (trace.SpanID, bool) {
	var id trace.SpanID
	if len(s) != 16 || !isHexString(s) {
		return id, false
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return trace.SpanID{}, false
	}
	return id, id.IsValid()
}

// isHexString checks if a string contains only hexadecimal characters.
func isHexString(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
