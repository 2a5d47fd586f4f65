package exception

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// CustomAggregateError has a name that says nothing about being a group.
type CustomAggregateError struct {
	msg  string
	errs []error
}

func (e *CustomAggregateError) Error() string   { return e.msg }
func (e *CustomAggregateError) Unwrap() []error { return e.errs }

// validationErrors exposes its members through Errors().
type validationErrors []error

func (v validationErrors) Error() string   { return fmt.Sprintf("%d validation errors", len(v)) }
func (v validationErrors) Errors() []error { return v }

// AggregateError is named like a group but is not one.
type AggregateError struct{ msg string }

func (e AggregateError) Error() string { return e.msg }

func TestClassify_CustomNamedAggregate(t *testing.T) {
	err := &CustomAggregateError{
		msg:  "two things failed",
		errs: []error{errors.New("first"), errors.New("second")},
	}

	got := Classify(err, Options{})
	require.Len(t, got, 3)

	root := got[0]
	assert.True(t, root.Mechanism.IsExceptionGroup)
	assert.Equal(t, 0, root.Mechanism.ExceptionID)
	assert.Nil(t, root.Mechanism.ParentID)
	assert.Equal(t, "exception.CustomAggregateError", root.Type)
	assert.Equal(t, "generic", root.Mechanism.Type)

	for i, e := range got[1:] {
		assert.False(t, e.Mechanism.IsExceptionGroup)
		assert.Equal(t, i+1, e.Mechanism.ExceptionID)
		require.NotNil(t, e.Mechanism.ParentID)
		assert.Equal(t, 0, *e.Mechanism.ParentID)
		assert.Equal(t, fmt.Sprintf("errors[%d]", i), e.Mechanism.Source)
	}
	assert.Equal(t, "first", got[1].Value)
	assert.Equal(t, "second", got[2].Value)
}

func TestClassify_NameIsIrrelevant(t *testing.T) {
	got := Classify(AggregateError{msg: "not a group"}, Options{})
	require.Len(t, got, 1)
	assert.False(t, got[0].Mechanism.IsExceptionGroup)
}

func TestClassify_ErrorsJoin(t *testing.T) {
	err := errors.Join(errors.New("a"), errors.New("b"))
	got := Classify(err, Options{Handled: true, MechanismType: "middleware"})

	require.Len(t, got, 3)
	assert.True(t, got[0].Mechanism.IsExceptionGroup)
	assert.True(t, got[1].Mechanism.Handled)
	assert.Equal(t, "middleware", got[2].Mechanism.Type)
}

func TestClassify_ErrorsLister(t *testing.T) {
	got := Classify(validationErrors{errors.New("name"), errors.New("email")}, Options{})
	require.Len(t, got, 3)
	assert.True(t, got[0].Mechanism.IsExceptionGroup)
}

func TestClassify_DepthFirstOrder(t *testing.T) {
	inner := &CustomAggregateError{msg: "inner", errs: []error{errors.New("x"), errors.New("y")}}
	outer := &CustomAggregateError{msg: "outer", errs: []error{inner, errors.New("z")}}

	got := Classify(outer, Options{})
	require.Len(t, got, 5)

	values := make([]string, len(got))
	parents := make([]int, len(got))
	for i, e := range got {
		values[i] = e.Value
		parents[i] = -1
		if e.Mechanism.ParentID != nil {
			parents[i] = *e.Mechanism.ParentID
		}
	}
	assert.Equal(t, []string{"outer", "inner", "x", "y", "z"}, values)
	assert.Equal(t, []int{-1, 0, 1, 1, 0}, parents)
	assert.True(t, got[1].Mechanism.IsExceptionGroup)
}

func TestClassify_CauseChain(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("query users: %w", base)

	got := Classify(err, Options{})
	require.Len(t, got, 2)
	assert.False(t, got[0].Mechanism.IsExceptionGroup)
	assert.Equal(t, SourceCause, got[1].Mechanism.Source)
	assert.Equal(t, 0, *got[1].Mechanism.ParentID)
	assert.Equal(t, "connection refused", got[1].Value)
}

func TestClassify_MaxDepth(t *testing.T) {
	var err error = errors.New("root cause")
	for i := 0; i < 50; i++ {
		err = fmt.Errorf("layer %d: %w", i, err)
	}

	assert.Len(t, Classify(err, Options{}), DefaultMaxDepth)
	assert.Len(t, Classify(err, Options{MaxDepth: 3}), 3)
}

// selfGroup lists itself as its own members.
type selfGroup struct{ width int }

func (g *selfGroup) Error() string { return "self" }
func (g *selfGroup) Unwrap() []error {
	errs := make([]error, g.width)
	for i := range errs {
		errs[i] = g
	}
	return errs
}

func TestClassify_GroupAtDepthLimit(t *testing.T) {
	inner := errors.Join(errors.New("a"), errors.New("b"))
	err := fmt.Errorf("outer: %w", inner)

	got := Classify(err, Options{MaxDepth: 2})
	require.Len(t, got, 2)
	assert.False(t, got[0].Mechanism.IsExceptionGroup)
	assert.True(t, got[1].Mechanism.IsExceptionGroup)
}

func TestClassify_MaxExceptions(t *testing.T) {
	err := &selfGroup{width: 3}

	got := Classify(err, Options{})
	assert.Len(t, got, DefaultMaxExceptions)
	for i, e := range got {
		assert.Equal(t, i, e.Mechanism.ExceptionID)
	}

	assert.Len(t, Classify(err, Options{MaxExceptions: 5}), 5)
}

func TestClassify_NilMembersSkipped(t *testing.T) {
	err := &CustomAggregateError{msg: "agg", errs: []error{nil, errors.New("only")}}
	got := Classify(err, Options{})
	require.Len(t, got, 2)
	assert.Equal(t, "errors[1]", got[1].Mechanism.Source)
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil, Options{}))
}

func TestIsGroup(t *testing.T) {
	assert.True(t, IsGroup(errors.Join(errors.New("a"))))
	assert.True(t, IsGroup(fmt.Errorf("%w and %w", errors.New("a"), errors.New("b"))))
	assert.False(t, IsGroup(fmt.Errorf("wrapped: %w", errors.New("a"))))
	assert.False(t, IsGroup(errors.New("plain")))
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "errors.errorString", typeName(errors.New("x")))
	assert.True(t, strings.HasSuffix(typeName(AggregateError{}), "AggregateError"))
}
