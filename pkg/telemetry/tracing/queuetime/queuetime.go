// Package queuetime derives how long a request waited in front of the
// application from the X-Request-Start header set by load balancers and
// reverse proxies.
//
// Accepted forms are "t=<unix time>" and a bare "<unix time>". Proxies
// disagree on the unit, so it is inferred from the magnitude: seconds (with
// an optional fraction), milliseconds, microseconds or nanoseconds.
package queuetime

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Header is the inbound header name.
const Header = "X-Request-Start"

// Attribute is the span data key the queue time is recorded under, in
// milliseconds.
const Attribute = "http.server.request.time_in_queue"

// Magnitude thresholds separating the units. A seconds timestamp stays below
// 1e11 until the year 5138.
const (
	maxSeconds = 1e11
	maxMillis  = 1e14
	maxMicros  = 1e17
)

// Result is an extracted queue time.
type Result struct {
	Duration time.Duration

	// Skewed is set when the header was in the future and Duration was
	// clamped to zero.
	Skewed bool
}

// Milliseconds returns the duration as fractional milliseconds.
func (r Result) Milliseconds() float64 {
	return float64(r.Duration) / float64(time.Millisecond)
}

// Parse converts a header value into a point in time.
func Parse(header string) (time.Time, bool) {
	v := strings.TrimSpace(header)
	v = strings.TrimPrefix(v, "t=")
	if v == "" {
		return time.Time{}, false
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, false
	}

	var nanos float64
	switch {
	case f < maxSeconds:
		nanos = f * 1e9
	case f < maxMillis:
		nanos = f * 1e6
	case f < maxMicros:
		nanos = f * 1e3
	default:
		nanos = f
	}
	if nanos > math.MaxInt64 {
		return time.Time{}, false
	}
	return time.Unix(0, int64(nanos)), true
}

// Extract computes now - start. ok is false for a missing or malformed
// header. A start time in the future yields zero with Skewed set.
func Extract(header string, now time.Time) (Result, bool) {
	start, ok := Parse(header)
	if !ok {
		return Result{}, false
	}
	d := now.Sub(start)
	if d < 0 {
		return Result{Skewed: true}, true
	}
	return Result{Duration: d}, true
}
