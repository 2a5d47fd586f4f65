// Package exception turns a captured error into the flat list of exceptions
// of an event, linking aggregate errors to their members.
//
// Whether an error is an aggregate is decided by what it can do, never by its
// type name: any error with an Unwrap() []error or Errors() []error method is
// an exception group. This covers errors.Join, fmt.Errorf with several %w
// verbs and any user type, however it is named.
package exception

import (
	"fmt"
	"reflect"
)

// DefaultMaxDepth bounds the traversal of nested errors.
const DefaultMaxDepth = 10

// DefaultMaxExceptions bounds the number of exceptions in one event.
const DefaultMaxExceptions = 100

// Mechanism sources.
const (
	SourceCause = "cause"
)

// Mechanism describes how an exception was captured and how it relates to
// the other exceptions of the event.
type Mechanism struct {
	Type    string `json:"type"`
	Handled bool   `json:"handled"`

	// Source names the field of the parent the exception came from, e.g.
	// "cause" or "errors[1]". Empty for the root.
	Source string `json:"source,omitempty"`

	IsExceptionGroup bool `json:"is_exception_group,omitempty"`
	ExceptionID      int  `json:"exception_id"`
	ParentID         *int `json:"parent_id,omitempty"`
}

// Exception is one error of an event.
type Exception struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	Mechanism Mechanism `json:"mechanism"`

	Err error `json:"-"`
}

// Options configures Classify.
type Options struct {
	// MechanismType defaults to "generic".
	MechanismType string
	Handled       bool
	MaxDepth      int

	// MaxExceptions caps the flattened list. Errors beyond it are dropped.
	MaxExceptions int
}

type multiUnwrapper interface {
	Unwrap() []error
}

type errorsLister interface {
	Errors() []error
}

type unwrapper interface {
	Unwrap() error
}

// Members returns the nested errors of an aggregate and whether err is one.
func Members(err error) ([]error, bool) {
	switch e := err.(type) {
	case multiUnwrapper:
		return e.Unwrap(), true
	case errorsLister:
		return e.Errors(), true
	default:
		return nil, false
	}
}

// IsGroup reports whether err is an exception group.
func IsGroup(err error) bool {
	_, ok := Members(err)
	return ok
}

// Classify flattens err depth first. The root gets exception id 0 and every
// nested error points at its enclosing error through ParentID.
func Classify(err error, opts Options) []Exception {
	if err == nil {
		return nil
	}
	if opts.MechanismType == "" {
		opts.MechanismType = "generic"
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxExceptions <= 0 {
		opts.MaxExceptions = DefaultMaxExceptions
	}

	c := classifier{opts: opts}
	c.visit(err, nil, "", 0)
	return c.out
}

type classifier struct {
	opts Options
	out  []Exception
}

func (c *classifier) full() bool { return len(c.out) >= c.opts.MaxExceptions }

func (c *classifier) visit(err error, parent *int, source string, depth int) {
	if c.full() {
		return
	}
	id := len(c.out)
	members, group := Members(err)
	c.out = append(c.out, Exception{
		Type:  typeName(err),
		Value: err.Error(),
		Mechanism: Mechanism{
			Type:        c.opts.MechanismType,
			Handled:     c.opts.Handled,
			Source:      source,
			ExceptionID: id,
			ParentID:    parent,

			IsExceptionGroup: group,
		},
		Err: err,
	})

	if depth+1 >= c.opts.MaxDepth {
		return
	}

	if group {
		for i, m := range members {
			if c.full() {
				return
			}
			if m == nil {
				continue
			}
			c.visit(m, intPtr(id), fmt.Sprintf("errors[%d]", i), depth+1)
		}
		return
	}

	if u, ok := err.(unwrapper); ok {
		if cause := u.Unwrap(); cause != nil {
			c.visit(cause, intPtr(id), SourceCause, depth+1)
		}
	}
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.String()
}

func intPtr(i int) *int { return &i }
