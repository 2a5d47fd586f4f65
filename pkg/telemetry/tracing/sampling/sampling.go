// Package sampling resolves the sampling decision for a new unit of work.
//
// # Precedence
//
// The rules are evaluated in order:
//
//  1. A valid incoming trace header continues the upstream trace. The trace id
//     and parent span id are adopted and the upstream decision is used as is.
//     Sample rate and decision hints in the incoming baggage are informational
//     and never override it.
//  2. Without a trace header the unit of work is a new trace head, even when
//     baggage is present. Any baggage sample rate is discarded and the decision
//     is computed from the local rate alone, deterministically from the new
//     trace id.
//  3. A local rate of 0 never samples a new head.
//
// An incoming vendor header that carries no decision ("deferred") continues
// the trace but takes the decision locally, as a head would.
//
// Resolution is pure: it performs no I/O and never blocks.
package sampling

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tracekit/pkg/telemetry/tracing/dsc"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracecontext"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracerr"
)

// Sampling strategies.
//   - always: sample every new trace (rate 1.0)
//   - never: sample no new trace (rate 0.0)
//   - ratio: sample the configured fraction of new traces
const (
	StrategyAlways = "always"
	StrategyNever  = "never"
	StrategyRatio  = "ratio"
)

// SamplingContext is handed to a custom SamplerFunc.
type SamplingContext struct {
	TraceID       trace.TraceID
	Name          string
	Op            string
	ParentSampled tracecontext.Sampled

	// ParentSampleRate is the upstream rate found in baggage, if any.
	ParentSampleRate    float64
	HasParentSampleRate bool

	// Attributes are caller supplied values, e.g. the request path.
	Attributes map[string]any
}

// SamplerFunc returns the sample rate for one unit of work. Values outside
// [0, 1] are clamped.
type SamplerFunc func(SamplingContext) float64

// Config configures a Resolver.
type Config struct {
	// Strategy is one of "always", "never" or "ratio". Empty means "ratio".
	Strategy string

	// SampleRate is the local rate for the "ratio" strategy.
	SampleRate float64

	// Sampler, when set, replaces the static rate for decisions taken locally.
	Sampler SamplerFunc

	// Reporter receives ConfigurationError faults for clamped rates.
	Reporter *tracerr.Reporter
}

// Validate checks the strategy. Out of range rates are not an error here;
// the resolver clamps them.
func (c Config) Validate() error {
	switch c.Strategy {
	case "", StrategyAlways, StrategyNever, StrategyRatio:
		return nil
	default:
		return fmt.Errorf("invalid sampling strategy: %s (valid: always, never, ratio)", c.Strategy)
	}
}

// Origin tells whether a decision started or continued a trace.
type Origin int

const (
	// OriginHead marks a new trace started by this service.
	OriginHead Origin = iota
	// OriginContinued marks a trace continued from an incoming header.
	OriginContinued
)

func (o Origin) String() string {
	if o == OriginContinued {
		return "continued"
	}
	return "head"
}

// Decision reasons.
const (
	ReasonInherited = "inherited"
	ReasonDeferred  = "deferred"
	ReasonRate      = "rate"
	ReasonRateZero  = "rate_zero"
)

// Input holds everything the resolver looks at.
type Input struct {
	// Incoming is the parsed trace header, nil when absent or malformed.
	Incoming *tracecontext.Incoming

	// DSC is the incoming dynamic sampling context, if HasDSC.
	DSC    dsc.DSC
	HasDSC bool

	Name       string
	Op         string
	Attributes map[string]any
}

// Decision is the outcome of Resolve. Sampled is never undecided.
type Decision struct {
	TraceID      trace.TraceID
	ParentSpanID trace.SpanID
	Sampled      tracecontext.Sampled

	// SampleRate is the effective rate to report downstream.
	SampleRate    float64
	HasSampleRate bool

	Origin Origin
	Reason string
}

// TraceContext returns the root span context for the decision.
func (d Decision) TraceContext() tracecontext.TraceContext {
	return tracecontext.TraceContext{
		TraceID:       d.TraceID,
		SpanID:        tracecontext.NewSpanID(),
		ParentSpanID:  d.ParentSpanID,
		Sampled:       d.Sampled,
		SampleRate:    d.SampleRate,
		HasSampleRate: d.HasSampleRate,
	}
}

// Resolver applies the precedence rules. It is safe for concurrent use; the
// local rate can be changed at runtime with SetSampleRate.
type Resolver struct {
	rate     atomic.Pointer[ratio]
	sampler  SamplerFunc
	reporter *tracerr.Reporter
}

type ratio struct {
	value   float64
	sampler sdktrace.Sampler
}

func newRatio(r float64) *ratio {
	return &ratio{value: r, sampler: sdktrace.TraceIDRatioBased(r)}
}

// NewResolver creates a Resolver. It fails only on an unknown strategy.
func NewResolver(cfg Config) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Resolver{
		sampler:  cfg.Sampler,
		reporter: cfg.Reporter,
	}

	rate := cfg.SampleRate
	switch cfg.Strategy {
	case StrategyAlways:
		rate = 1
	case StrategyNever:
		rate = 0
	}
	r.rate.Store(newRatio(r.clamp(context.Background(), rate)))

	return r, nil
}

// SampleRate returns the current local rate.
func (r *Resolver) SampleRate() float64 {
	return r.rate.Load().value
}

// SetSampleRate replaces the local rate. Invalid values are clamped.
func (r *Resolver) SetSampleRate(rate float64) {
	r.rate.Store(newRatio(r.clamp(context.Background(), rate)))
}

// Resolve decides whether the unit of work described by in is sampled.
func (r *Resolver) Resolve(ctx context.Context, in Input) Decision {
	sctx := SamplingContext{
		Name:       in.Name,
		Op:         in.Op,
		Attributes: in.Attributes,
	}
	if in.HasDSC {
		sctx.ParentSampleRate, sctx.HasParentSampleRate = in.DSC.SampleRate()
	}

	if in.Incoming != nil {
		d := Decision{
			TraceID:      in.Incoming.TraceID,
			ParentSpanID: in.Incoming.ParentSpanID,
			Origin:       OriginContinued,
		}
		sctx.TraceID = d.TraceID
		sctx.ParentSampled = in.Incoming.Sampled

		if in.Incoming.Sampled != tracecontext.SampledUndecided {
			d.Sampled = in.Incoming.Sampled
			d.SampleRate, d.HasSampleRate = sctx.ParentSampleRate, sctx.HasParentSampleRate
			d.Reason = ReasonInherited
			return d
		}

		rate := r.localRate(ctx, sctx)
		d.Sampled, d.Reason = r.decide(d.TraceID, rate)
		if d.Reason == ReasonRate {
			d.Reason = ReasonDeferred
		}
		d.SampleRate, d.HasSampleRate = rate.value, true
		return d
	}

	d := Decision{
		TraceID: tracecontext.NewTraceID(),
		Origin:  OriginHead,
	}
	sctx.TraceID = d.TraceID
	// The baggage rate stays visible to a custom sampler but is never used
	// as the decision rate for a head.
	rate := r.localRate(ctx, sctx)
	d.Sampled, d.Reason = r.decide(d.TraceID, rate)
	d.SampleRate, d.HasSampleRate = rate.value, true
	return d
}

func (r *Resolver) decide(id trace.TraceID, rate *ratio) (tracecontext.Sampled, string) {
	if rate.value == 0 {
		return tracecontext.SampledFalse, ReasonRateZero
	}
	return tracecontext.SampledFromBool(sampleWith(rate.sampler, id)), ReasonRate
}

func (r *Resolver) localRate(ctx context.Context, sctx SamplingContext) *ratio {
	if r.sampler == nil {
		return r.rate.Load()
	}
	return newRatio(r.clamp(ctx, r.sampler(sctx)))
}

func (r *Resolver) clamp(ctx context.Context, rate float64) float64 {
	c, changed := Clamp(rate)
	if changed {
		r.reporter.Report(ctx, tracerr.ConfigurationError, "sampling.rate",
			"sample rate out of range, clamped", "rate", fmt.Sprint(rate), "clamped", c)
	}
	return c
}

// Clamp limits rate to [0, 1]. NaN becomes 0. changed reports whether the
// value was modified.
func Clamp(rate float64) (clamped float64, changed bool) {
	switch {
	case math.IsNaN(rate):
		return 0, true
	case rate < 0:
		return 0, true
	case rate > 1:
		return 1, true
	default:
		return rate, false
	}
}

// Decide returns the deterministic decision for a trace id at the given rate.
// The same id and rate always give the same answer, here and in any other
// service using trace-id ratio sampling.
func Decide(id trace.TraceID, rate float64) bool {
	rate, _ = Clamp(rate)
	if rate == 0 {
		return false
	}
	return sampleWith(sdktrace.TraceIDRatioBased(rate), id)
}

func sampleWith(s sdktrace.Sampler, id trace.TraceID) bool {
	res := s.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       id,
	})
	return res.Decision == sdktrace.RecordAndSample
}
