// Package fault defines the error taxonomy shared by the lifecycle engine.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a domain failure.
type Kind string

const (
	// NotFound: a block, task or archive does not exist.
	NotFound Kind = "not_found"
	// InvalidTransition: the source/target status pair is not permitted.
	InvalidTransition Kind = "invalid_transition"
	// ValidationFailed: missing crop/plant count, budget exceeded, malformed input.
	ValidationFailed Kind = "validation_failed"
	// Conflict: pending tasks block a transition, or a duplicate code within a site.
	Conflict Kind = "conflict"
	// DependencyUnavailable: an external collaborator lookup failed.
	DependencyUnavailable Kind = "dependency_unavailable"
)

// Error is a classified domain failure. BlockingTasks is populated for
// Conflict errors caused by pending trigger tasks so callers can resolve
// them manually.
type Error struct {
	Kind          Kind
	Msg           string
	BlockingTasks []string
	Err           error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if len(e.BlockingTasks) > 0 {
		b.WriteString(" (blocking tasks: ")
		b.WriteString(strings.Join(e.BlockingTasks, ", "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err if it is (or wraps) a fault.Error, or ""
// when it carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
