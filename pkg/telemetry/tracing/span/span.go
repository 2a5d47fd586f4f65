// Package span implements the span state machine and the transaction a tree
// of spans is exported as.
//
// A span moves Idle → Started → Finished. Children take their trace id and
// sampling decision from the parent; sampling is never re-evaluated below the
// root. Finishing the root (the transaction) freezes the tree and hands a
// Transaction snapshot to the finish hook. Children still open at that point
// are included and flagged as orphaned.
package span

import (
	"context"
	"maps"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tracekit/pkg/telemetry/tracing/tracecontext"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracerr"
)

// State is the lifecycle state of a span.
type State int

const (
	StateIdle State = iota
	StateStarted
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateFinished:
		return "finished"
	default:
		return "idle"
	}
}

// DefaultMaxSpans caps the number of children recorded per transaction.
const DefaultMaxSpans = 1000

// FinishHook receives a finished transaction.
type FinishHook func(Transaction)

// Options configures a transaction.
type Options struct {
	Name string
	Op   string

	// Source describes how Name was derived, e.g. "route" or "url".
	Source string

	// StartTime overrides the start timestamp.
	StartTime time.Time

	// OnFinish is called once, after the root is finished.
	OnFinish FinishHook

	// MaxSpans caps recorded children. Zero means DefaultMaxSpans.
	MaxSpans int

	Reporter *tracerr.Reporter
}

// recorder collects the spans of one transaction.
type recorder struct {
	mu       sync.Mutex
	children []*Span
	dropped  int
	closed   bool
	maxSpans int
}

func (r *recorder) add(s *Span) (recorded, open bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, false
	}
	if len(r.children) >= r.maxSpans {
		r.dropped++
		return false, true
	}
	r.children = append(r.children, s)
	return true, true
}

func (r *recorder) close() ([]*Span, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return r.children, r.dropped
}

// Span is a timed unit of work.
type Span struct {
	mu sync.Mutex

	tc     tracecontext.TraceContext
	op     string
	name   string
	source string
	start  time.Time
	end    time.Time
	status Status
	data   map[string]any
	tags   map[string]string
	state  State

	root     bool
	orphaned bool
	recorded bool

	rec      *recorder
	onFinish FinishHook
	reporter *tracerr.Reporter
}

// NewTransaction creates an idle root span for tc.
func NewTransaction(tc tracecontext.TraceContext, opts Options) *Span {
	maxSpans := opts.MaxSpans
	if maxSpans <= 0 {
		maxSpans = DefaultMaxSpans
	}
	return &Span{
		tc:       tc,
		op:       opts.Op,
		name:     opts.Name,
		source:   opts.Source,
		start:    opts.StartTime,
		data:     make(map[string]any),
		tags:     make(map[string]string),
		root:     true,
		recorded: true,
		rec:      &recorder{maxSpans: maxSpans},
		onFinish: opts.OnFinish,
		reporter: opts.Reporter,
	}
}

// StartTransaction creates and starts a root span.
func StartTransaction(tc tracecontext.TraceContext, opts Options) *Span {
	s := NewTransaction(tc, opts)
	s.Start()
	return s
}

// Start moves an idle span to Started.
func (s *Span) Start() {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		s.violation("span.start", "span started twice")
		return
	}
	s.state = StateStarted
	if s.start.IsZero() {
		s.start = time.Now()
	}
	s.mu.Unlock()
}

// StartChild starts a child span. The child inherits the trace id and
// sampling decision. If the transaction is already finished the child is
// returned detached: it works normally but is never exported.
func (s *Span) StartChild(op string, description ...string) *Span {
	child := &Span{
		tc:       s.tc.Child(),
		op:       op,
		start:    time.Now(),
		data:     make(map[string]any),
		tags:     make(map[string]string),
		state:    StateStarted,
		reporter: s.reporter,
	}
	if len(description) > 0 {
		child.name = description[0]
	}

	if s.rec == nil {
		return child
	}

	recorded, open := s.rec.add(child)
	if !open {
		s.violation("span.start_child", "child started after transaction finished",
			"op", op, "trace_id", s.tc.TraceID.String())
		return child
	}
	child.rec = s.rec
	child.recorded = recorded
	return child
}

// Finish finishes the span now. Finishing twice is a no-op.
func (s *Span) Finish() {
	s.finish(time.Time{}, StatusUnset)
}

// FinishWithStatus sets the status and finishes the span.
func (s *Span) FinishWithStatus(st Status) {
	s.finish(time.Time{}, st)
}

// FinishAt finishes the span with an explicit end timestamp.
func (s *Span) FinishAt(t time.Time) {
	s.finish(t, StatusUnset)
}

func (s *Span) finish(at time.Time, st Status) {
	s.mu.Lock()
	switch s.state {
	case StateFinished:
		s.mu.Unlock()
		s.violation("span.finish", "span finished twice", "op", s.op)
		return
	case StateIdle:
		s.mu.Unlock()
		s.violation("span.finish", "span finished before start", "op", s.op)
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	if at.Before(s.start) {
		at = s.start
	}
	s.end = at
	if st != StatusUnset {
		s.status = st
	}
	s.state = StateFinished
	s.mu.Unlock()

	if !s.root {
		return
	}

	tx := s.close()
	if s.onFinish != nil {
		s.onFinish(tx)
	}
}

// Abandon finishes a root span as cancelled without calling the finish hook.
// It reports whether the span was still open.
func (s *Span) Abandon() bool {
	s.mu.Lock()
	if s.state == StateFinished {
		s.mu.Unlock()
		return false
	}
	s.state = StateFinished
	s.end = time.Now()
	if s.end.Before(s.start) {
		s.end = s.start
	}
	s.status = StatusCancelled
	s.mu.Unlock()

	if s.root {
		s.rec.close()
	}
	return true
}

func (s *Span) close() Transaction {
	children, dropped := s.rec.close()
	root := s.Snapshot()

	tx := Transaction{
		Root:    root,
		Spans:   make([]Data, 0, len(children)),
		Dropped: dropped,
	}
	for _, c := range children {
		c.mu.Lock()
		if c.state != StateFinished {
			c.orphaned = true
		}
		c.mu.Unlock()

		d := c.Snapshot()
		if d.Orphaned {
			d.End = root.End
		}
		tx.Spans = append(tx.Spans, d)
	}
	return tx
}

func (s *Span) violation(op, msg string, args ...any) {
	s.reporter.Report(context.Background(), tracerr.ProtocolViolation, op, msg, args...)
}

// TraceContext returns the span's trace context.
func (s *Span) TraceContext() tracecontext.TraceContext {
	return s.tc
}

// TraceID returns the trace id.
func (s *Span) TraceID() trace.TraceID { return s.tc.TraceID }

// SpanID returns the span id.
func (s *Span) SpanID() trace.SpanID { return s.tc.SpanID }

// Sampled reports whether the trace is sampled.
func (s *Span) Sampled() bool { return s.tc.Sampled == tracecontext.SampledTrue }

// IsRoot reports whether the span is a transaction.
func (s *Span) IsRoot() bool { return s.root }

// Recorded reports whether the span is part of an exportable transaction.
func (s *Span) Recorded() bool { return s.recorded }

// Op returns the operation.
func (s *Span) Op() string { return s.op }

// State returns the lifecycle state.
func (s *Span) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Orphaned reports whether the span was still open when its transaction
// finished.
func (s *Span) Orphaned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orphaned
}

// Name returns the name (the description for child spans).
func (s *Span) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetName renames the span, e.g. once the route is known.
func (s *Span) SetName(name, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	if source != "" {
		s.source = source
	}
}

// Status returns the current status.
func (s *Span) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus sets the status.
func (s *Span) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// SetData sets a data attribute.
func (s *Span) SetData(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// SetTag sets a tag on the span.
func (s *Span) SetTag(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[key] = value
}

// Duration returns end - start, or the elapsed time for an open span.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFinished {
		return time.Since(s.start)
	}
	return s.end.Sub(s.start)
}

// Data is an immutable copy of a span.
type Data struct {
	TraceID      trace.TraceID
	SpanID       trace.SpanID
	ParentSpanID trace.SpanID
	Sampled      bool

	Op          string
	Name        string
	Source      string
	Start       time.Time
	End         time.Time
	Status      Status
	Data        map[string]any
	Tags        map[string]string
	Orphaned    bool
	Transaction bool
}

// Duration returns End - Start.
func (d Data) Duration() time.Duration { return d.End.Sub(d.Start) }

// Snapshot copies the span.
func (s *Span) Snapshot() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Data{
		TraceID:      s.tc.TraceID,
		SpanID:       s.tc.SpanID,
		ParentSpanID: s.tc.ParentSpanID,
		Sampled:      s.tc.Sampled == tracecontext.SampledTrue,
		Op:           s.op,
		Name:         s.name,
		Source:       s.source,
		Start:        s.start,
		End:          s.end,
		Status:       s.status,
		Data:         maps.Clone(s.data),
		Tags:         maps.Clone(s.tags),
		Orphaned:     s.orphaned,
		Transaction:  s.root,
	}
}

// Transaction is a finished root span with its recorded children.
type Transaction struct {
	Root    Data
	Spans   []Data
	Dropped int
}

// Orphans returns the number of children that were open at finish time.
func (t Transaction) Orphans() int {
	n := 0
	for _, s := range t.Spans {
		if s.Orphaned {
			n++
		}
	}
	return n
}
