package tracecontext

import (
	"encoding/hex"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Header names.
const (
	TraceParentHeader = "traceparent"
	SentryTraceHeader = "sentry-trace"
)

const (
	supportedVersion = "00"
	invalidVersion   = "ff"
	flagSampled      = 0x01
)

// Incoming is a trace-context header received from an upstream service.
type Incoming struct {
	// Header is the name of the header the values came from.
	Header string

	TraceID      trace.TraceID
	ParentSpanID trace.SpanID
	Sampled      Sampled
}

// Extract reads the trace-context header from a carrier. traceparent wins
// over sentry-trace when both are present and valid. ok is false when no
// usable header exists; that is never an error.
func Extract(carrier propagation.TextMapCarrier) (in Incoming, ok bool) {
	if carrier == nil {
		return Incoming{}, false
	}
	if v := carrier.Get(TraceParentHeader); v != "" {
		if in, ok := ParseTraceParent(v); ok {
			return in, true
		}
	}
	if v := carrier.Get(SentryTraceHeader); v != "" {
		if in, ok := ParseSentryTrace(v); ok {
			return in, true
		}
	}
	return Incoming{}, false
}

// ValidateTraceParent validates the traceparent header format.
// Returns true if the header is valid per W3C Trace Context.
//
// Format: version-trace_id-parent_id-trace_flags
//   - version: 2 hex digits, "ff" is forbidden
//   - trace_id: 32 hex digits (128-bit), not all zeros
//   - parent_id: 16 hex digits (64-bit), not all zeros
//   - trace_flags: 2 hex digits (8-bit)
//
// Version 00 must have exactly four fields. Later versions may append
// fields, which are ignored.
func ValidateTraceParent(traceparent string) bool {
	_, ok := ParseTraceParent(traceparent)
	return ok
}

// ParseTraceParent parses a traceparent header.
func ParseTraceParent(traceparent string) (Incoming, bool) {
	parts := strings.Split(strings.TrimSpace(traceparent), "-")
	if len(parts) < 4 {
		return Incoming{}, false
	}

	version := parts[0]
	if len(version) != 2 || !isHexString(version) || strings.EqualFold(version, invalidVersion) {
		return Incoming{}, false
	}
	if version == supportedVersion && len(parts) != 4 {
		return Incoming{}, false
	}

	traceID, ok := ParseTraceID(parts[1])
	if !ok {
		return Incoming{}, false
	}
	spanID, ok := ParseSpanID(parts[2])
	if !ok {
		return Incoming{}, false
	}

	flags, ok := parseFlags(parts[3])
	if !ok {
		return Incoming{}, false
	}

	return Incoming{
		Header:       TraceParentHeader,
		TraceID:      traceID,
		ParentSpanID: spanID,
		Sampled:      SampledFromBool(flags&flagSampled == flagSampled),
	}, true
}

// IsSampledFromTraceParent checks if a trace is sampled based on the
// traceparent header's trace flags. Invalid headers report false.
func IsSampledFromTraceParent(traceparent string) bool {
	in, ok := ParseTraceParent(traceparent)
	if !ok {
		return false
	}
	return in.Sampled == SampledTrue
}

// ParseSentryTrace parses a sentry-trace header. A missing third field leaves
// the decision undecided; any value other than 0 or 1 makes the header invalid.
func ParseSentryTrace(header string) (Incoming, bool) {
	parts := strings.Split(strings.TrimSpace(header), "-")
	if len(parts) < 2 || len(parts) > 3 {
		return Incoming{}, false
	}

	traceID, ok := ParseTraceID(parts[0])
	if !ok {
		return Incoming{}, false
	}
	spanID, ok := ParseSpanID(parts[1])
	if !ok {
		return Incoming{}, false
	}

	in := Incoming{
		Header:       SentryTraceHeader,
		TraceID:      traceID,
		ParentSpanID: spanID,
	}
	if len(parts) == 3 {
		switch parts[2] {
		case "1":
			in.Sampled = SampledTrue
		case "0":
			in.Sampled = SampledFalse
		default:
			return Incoming{}, false
		}
	}
	return in, true
}

// FormatTraceParent renders tc as a version 00 traceparent. An undecided
// context is emitted as not sampled since traceparent cannot express deferral.
func FormatTraceParent(tc TraceContext) string {
	flags := "00"
	if tc.Sampled == SampledTrue {
		flags = "01"
	}
	return fmt.Sprintf("%s-%s-%s-%s", supportedVersion, tc.TraceID, tc.SpanID, flags)
}

// FormatSentryTrace renders tc as a sentry-trace header, omitting the flag
// when the decision is undecided.
func FormatSentryTrace(tc TraceContext) string {
	switch tc.Sampled {
	case SampledTrue:
		return fmt.Sprintf("%s-%s-1", tc.TraceID, tc.SpanID)
	case SampledFalse:
		return fmt.Sprintf("%s-%s-0", tc.TraceID, tc.SpanID)
	default:
		return fmt.Sprintf("%s-%s", tc.TraceID, tc.SpanID)
	}
}

func parseFlags(s string) (byte, bool) {
	if len(s) != 2 || !isHexString(s) {
		return 0, false
	}
	var b [1]byte
	if _, err := hex.Decode(b[:], []byte(s)); err != nil {
		return 0, false
	}
	return b[0], true
}
