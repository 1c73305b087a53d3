package tplengine

import (
	"fmt"
	"strings"
)

// Kind classifies template failures.
type Kind string

const (
	// KindInvalidTemplate marks malformed template syntax. It surfaces at
	// parse time, before any value is touched.
	KindInvalidTemplate Kind = "INVALID_TEMPLATE"
	// KindMissingField marks a path segment that does not exist in the context.
	KindMissingField Kind = "MISSING_FIELD"
	// KindTaskNotCompleted marks a read of a task output before that task
	// reached a terminal state.
	KindTaskNotCompleted Kind = "TASK_NOT_COMPLETED"
	// KindTypeError marks navigation that contradicts the value shape, such
	// as indexing an object or reading a field of a scalar.
	KindTypeError Kind = "TYPE_ERROR"
)

// Error is a single template failure.
type Error struct {
	Kind    Kind
	Expr    string
	Message string
}

func (e *Error) Error() string {
	if e.Expr == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s in %q", e.Kind, e.Message, e.Expr)
}

func newError(kind Kind, expr, format string, args ...any) *Error {
	return &Error{Kind: kind, Expr: expr, Message: fmt.Sprintf(format, args...)}
}

// FieldError locates a template failure inside a mapping.
type FieldError struct {
	Path string
	Err  *Error
}

func (f *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", f.Path, f.Err.Error())
}

func (f *FieldError) Unwrap() error {
	return f.Err
}

// MappingError aggregates every failure found while resolving a mapping, so
// authors see all broken fields at once instead of fixing them one by one.
type MappingError struct {
	Fields []*FieldError
}

func (m *MappingError) Error() string {
	msgs := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d template error(s): %s", len(m.Fields), strings.Join(msgs, "; "))
}

func (m *MappingError) Unwrap() []error {
	errs := make([]error, len(m.Fields))
	for i, f := range m.Fields {
		errs[i] = f
	}
	return errs
}
