// Package dsc implements the dynamic sampling context: the trace-level
// attributes a trace head decides once and every downstream service receives
// through the vendor-prefixed baggage members.
//
// A DSC is immutable. It is either taken verbatim from incoming baggage
// (FromBaggage) or generated by the trace head (Builder.Build) and is safe for
// concurrent reads without locking.
package dsc

import (
	"math"
	"strconv"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tracekit/pkg/telemetry/tracing/baggage"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracecontext"
)

// Well-known keys, without the vendor prefix.
const (
	KeyTraceID     = "trace_id"
	KeyPublicKey   = "public_key"
	KeyRelease     = "release"
	KeyEnvironment = "environment"
	KeyTransaction = "transaction"
	KeySampleRate  = "sample_rate"
	KeySampled     = "sampled"
)

// KnownKeys lists the well-known keys in the order a head emits them.
var KnownKeys = []string{
	KeyTraceID,
	KeyPublicKey,
	KeyRelease,
	KeyEnvironment,
	KeyTransaction,
	KeySampleRate,
	KeySampled,
}

// Entry is one DSC key/value, key without prefix, value decoded.
type Entry struct {
	Key   string
	Value string
}

// DSC is a frozen dynamic sampling context.
type DSC struct {
	entries    []Entry
	thirdParty baggage.Baggage

	// incoming is set when the DSC was taken from upstream baggage; Baggage()
	// then re-emits it unchanged.
	incoming baggage.Baggage
	verbatim bool
}

// FromBaggage takes the vendor members of b as an incoming DSC. ok is false
// when b carries no vendor members.
func FromBaggage(b baggage.Baggage) (DSC, bool) {
	vendor := b.VendorMembers()
	if len(vendor) == 0 {
		return DSC{}, false
	}

	entries := make([]Entry, 0, len(vendor))
	for _, m := range vendor {
		entries = append(entries, Entry{Key: m.VendorKey(), Value: m.Value})
	}

	return DSC{
		entries:    entries,
		thirdParty: b.ThirdParty(),
		incoming:   b,
		verbatim:   true,
	}, true
}

// Empty reports whether the DSC has no entries.
func (d DSC) Empty() bool { return len(d.entries) == 0 }

// Incoming reports whether the DSC was taken from upstream baggage.
func (d DSC) Incoming() bool { return d.verbatim }

// Get returns the value of the first entry with key.
func (d DSC) Get(key string) (string, bool) {
	for _, e := range d.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Entries returns a copy of the entries in order.
func (d DSC) Entries() []Entry {
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// SampleRate returns the sample_rate entry if it parses as a rate in [0, 1].
func (d DSC) SampleRate() (float64, bool) {
	v, ok := d.Get(KeySampleRate)
	if !ok {
		return 0, false
	}
	r, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(r) || r < 0 || r > 1 {
		return 0, false
	}
	return r, true
}

// Sampled returns the sampled entry.
func (d DSC) Sampled() tracecontext.Sampled {
	v, _ := d.Get(KeySampled)
	return tracecontext.ParseSampled(v)
}

// TraceID returns the trace_id entry.
func (d DSC) TraceID() (trace.TraceID, bool) {
	v, ok := d.Get(KeyTraceID)
	if !ok {
		return trace.TraceID{}, false
	}
	return tracecontext.ParseTraceID(v)
}

// ThirdParty returns the non-vendor baggage members carried with the DSC.
func (d DSC) ThirdParty() baggage.Baggage { return d.thirdParty }

// Baggage renders the DSC for an outgoing request.
func (d DSC) Baggage() baggage.Baggage {
	if d.verbatim {
		return d.incoming
	}
	members := make([]baggage.Member, 0, len(d.entries))
	for _, e := range d.entries {
		members = append(members, baggage.NewMember(baggage.VendorPrefix+e.Key, e.Value))
	}
	return d.thirdParty.With(members...)
}

// String returns the outgoing baggage header value.
func (d DSC) String() string { return d.Baggage().String() }

// Builder generates the DSC of a new trace head. Zero fields are omitted.
type Builder struct {
	TraceID     trace.TraceID
	PublicKey   string
	Release     string
	Environment string
	Transaction string

	SampleRate    float64
	HasSampleRate bool
	Sampled       tracecontext.Sampled

	// ThirdParty members from incoming baggage are forwarded ahead of the
	// generated vendor members.
	ThirdParty baggage.Baggage
}

// Build freezes the builder's values into a DSC.
func (b Builder) Build() DSC {
	entries := make([]Entry, 0, len(KnownKeys))
	add := func(k, v string) {
		if v != "" {
			entries = append(entries, Entry{Key: k, Value: v})
		}
	}

	if b.TraceID.IsValid() {
		add(KeyTraceID, b.TraceID.String())
	}
	add(KeyPublicKey, b.PublicKey)
	add(KeyRelease, b.Release)
	add(KeyEnvironment, b.Environment)
	add(KeyTransaction, b.Transaction)
	if b.HasSampleRate {
		add(KeySampleRate, FormatRate(b.SampleRate))
	}
	add(KeySampled, b.Sampled.String())

	return DSC{
		entries:    entries,
		thirdParty: b.ThirdParty.ThirdParty(),
	}
}

// FormatRate renders a rate with the shortest exact decimal representation.
func FormatRate(r float64) string {
	return strconv.FormatFloat(r, 'f', -1, 64)
}
