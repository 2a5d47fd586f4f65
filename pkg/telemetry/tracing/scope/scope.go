// Package scope holds the mutable state of one unit of work: the active span
// (and with it the trace context), the user, tags, extras and named contexts.
//
// A Scope travels inside a context.Context. Every unit of work gets a new
// Scope when it begins and the Scope is ended when the unit of work ends;
// scopes are never shared between units of work or reused. A nested span
// receives a forked Scope, so changes made while the child is active do not
// leak back to the parent.
//
// All methods are safe for concurrent use. Mutating an ended Scope is a
// protocol violation: it is reported and otherwise ignored.
package scope

import (
	"context"
	"maps"
	"sync"

	"mercator-hq/tracekit/pkg/telemetry/tracing/dsc"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracecontext"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracerr"
)

// Span is the part of a span the scope needs to know about.
type Span interface {
	TraceContext() tracecontext.TraceContext
}

// User identifies the person behind a unit of work.
type User struct {
	ID        string `json:"id,omitempty"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// IsEmpty reports whether no field is set.
func (u User) IsEmpty() bool {
	return u == User{}
}

// Scope is the per-unit-of-work state.
type Scope struct {
	mu sync.RWMutex

	span     Span
	dsc      dsc.DSC
	user     User
	tags     map[string]string
	extra    map[string]any
	contexts map[string]map[string]any
	ended    bool
	children []*Scope

	reporter *tracerr.Reporter
}

// New creates the root scope of a unit of work.
func New(active Span, d dsc.DSC, reporter *tracerr.Reporter) *Scope {
	return &Scope{
		span:     active,
		dsc:      d,
		tags:     make(map[string]string),
		extra:    make(map[string]any),
		contexts: make(map[string]map[string]any),
		reporter: reporter,
	}
}

// Fork returns a child scope for a nested span. The child starts with a copy
// of the parent's user, tags, extras and contexts and shares its DSC. Ending
// the parent ends the child.
func (s *Scope) Fork(child Span) *Scope {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &Scope{
		span:     child,
		dsc:      s.dsc,
		user:     s.user,
		tags:     maps.Clone(s.tags),
		extra:    maps.Clone(s.extra),
		contexts: make(map[string]map[string]any, len(s.contexts)),
		reporter: s.reporter,
		ended:    s.ended,
	}
	for k, v := range s.contexts {
		c.contexts[k] = maps.Clone(v)
	}
	if c.tags == nil {
		c.tags = make(map[string]string)
	}
	if c.extra == nil {
		c.extra = make(map[string]any)
	}

	if s.ended {
		s.violation("scope.fork")
	} else {
		s.children = append(s.children, c)
	}
	return c
}

// End tears the scope and every scope forked from it down and drops their
// state. Ending twice is a no-op.
func (s *Scope) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.user = User{}
	s.tags = map[string]string{}
	s.extra = map[string]any{}
	s.contexts = map[string]map[string]any{}
	children := s.children
	s.children = nil
	s.mu.Unlock()

	for _, c := range children {
		c.End()
	}
}

// Ended reports whether End has been called.
func (s *Scope) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}

// Span returns the active span.
func (s *Scope) Span() Span {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.span
}

// TraceContext returns the trace context of the active span.
func (s *Scope) TraceContext() tracecontext.TraceContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.span == nil {
		return tracecontext.TraceContext{}
	}
	return s.span.TraceContext()
}

// DSC returns the frozen dynamic sampling context of the trace.
func (s *Scope) DSC() dsc.DSC {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dsc
}

// SetUser replaces the user.
func (s *Scope) SetUser(u User) {
	s.mutate("scope.set_user", func() { s.user = u })
}

// User returns the user.
func (s *Scope) User() User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// SetTag sets a tag.
func (s *Scope) SetTag(key, value string) {
	s.mutate("scope.set_tag", func() { s.tags[key] = value })
}

// RemoveTag deletes a tag.
func (s *Scope) RemoveTag(key string) {
	s.mutate("scope.remove_tag", func() { delete(s.tags, key) })
}

// Tags returns a copy of the tags.
func (s *Scope) Tags() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.tags)
}

// SetExtra sets an extra attribute.
func (s *Scope) SetExtra(key string, value any) {
	s.mutate("scope.set_extra", func() { s.extra[key] = value })
}

// Extras returns a copy of the extra attributes.
func (s *Scope) Extras() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.extra)
}

// SetContext sets a named context, e.g. "runtime" or "request". A nil value
// removes it.
func (s *Scope) SetContext(name string, value map[string]any) {
	s.mutate("scope.set_context", func() {
		if value == nil {
			delete(s.contexts, name)
			return
		}
		s.contexts[name] = maps.Clone(value)
	})
}

// Contexts returns a copy of the named contexts.
func (s *Scope) Contexts() map[string]map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]any, len(s.contexts))
	for k, v := range s.contexts {
		out[k] = maps.Clone(v)
	}
	return out
}

// Snapshot is a point-in-time copy of a scope.
type Snapshot struct {
	TraceContext tracecontext.TraceContext
	User         User
	Tags         map[string]string
	Extra        map[string]any
	Contexts     map[string]map[string]any
}

// Snapshot copies the current state.
func (s *Scope) Snapshot() Snapshot {
	return Snapshot{
		TraceContext: s.TraceContext(),
		User:         s.User(),
		Tags:         s.Tags(),
		Extra:        s.Extras(),
		Contexts:     s.Contexts(),
	}
}

func (s *Scope) mutate(op string, fn func()) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		s.violation(op)
		return
	}
	fn()
	s.mu.Unlock()
}

func (s *Scope) violation(op string) {
	s.reporter.Report(context.Background(), tracerr.ProtocolViolation, op, "scope used after teardown")
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the scope carried by ctx, or nil.
func FromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(contextKey{}).(*Scope)
	return s
}
