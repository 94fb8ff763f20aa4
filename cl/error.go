package cl

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/xcamgo/gocl/driver"
)

// ErrorKind classifies the errors returned by this package.
type ErrorKind int

//go:generate go tool enumer -type=ErrorKind -output=errorkind_enumer.go

const (
	// UnknownError is returned by KindOf for errors not created by this package.
	UnknownError ErrorKind = iota

	// InitializationFailure means the native context or queue creation failed. The object is left invalid and safe
	// to destroy.
	InitializationFailure

	// BuildFailure means a kernel compile or load failed. It doesn't invalidate the context or other kernels.
	BuildFailure

	// InvalidState means the operation was attempted on a destroyed, invalid or not yet initialized object.
	InvalidState

	// ExecutionFailure means an enqueue or argument binding failed at submission time, or a command failed.
	ExecutionFailure

	// AllocationFailure means a memory or image object creation was rejected by the device.
	AllocationFailure
)

// Error is the error returned by the operations of this package.
//
// Use KindOf(err) or errors.Is(err, ErrInvalidState) (and the other sentinels) to check the kind of error.
type Error struct {
	Kind ErrorKind

	// Op is the operation that failed, e.g. "Context.ExecuteKernel".
	Op string

	// Status is the native status code, driver.Success if the error didn't come from the driver.
	Status driver.Status

	// Object identifies the native object involved, if any (e.g.: "kernel#12").
	Object string

	cause error
}

// Sentinel errors for each ErrorKind, to be used with errors.Is.
var (
	ErrInitializationFailure = &Error{Kind: InitializationFailure}
	ErrBuildFailure          = &Error{Kind: BuildFailure}
	ErrInvalidState          = &Error{Kind: InvalidState}
	ErrExecutionFailure      = &Error{Kind: ExecutionFailure}
	ErrAllocationFailure     = &Error{Kind: AllocationFailure}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Object != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Object)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Cause implements the github.com/pkg/errors causer interface.
func (e *Error) Cause() error {
	return e.cause
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrInvalidState) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Format implements fmt.Formatter: "%+v" also prints the stack of the cause, if any.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') && e.cause != nil {
			_, _ = fmt.Fprintf(s, "%s: %s", e.Op, e.Kind)
			if e.Object != "" {
				_, _ = fmt.Fprintf(s, " (%s)", e.Object)
			}
			_, _ = fmt.Fprintf(s, ": %+v", e.cause)
			return
		}
		fallthrough
	case 's':
		_, _ = fmt.Fprint(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// KindOf returns the ErrorKind of err, or UnknownError if err is not (and doesn't wrap) an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return UnknownError
}

// StatusOf returns the native status code carried by err, or driver.Success if there is none.
func StatusOf(err error) driver.Status {
	var e *Error
	if errors.As(err, &e) && e.Status != driver.Success {
		return e.Status
	}
	var dErr *driver.Error
	if errors.As(err, &dErr) {
		return dErr.Code
	}
	return driver.Success
}

// newError creates an *Error with a formatted cause that includes a stack trace.
func newError(kind ErrorKind, op, object string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Object: object, cause: errors.Errorf(format, args...)}
}

// toError converts an error returned by a driver into an *Error of the given kind. It returns nil if err is nil.
func toError(kind ErrorKind, op, object string, err error) error {
	if err == nil {
		return nil
	}
	e := &Error{Kind: kind, Op: op, Object: object, cause: errors.WithStack(err)}
	var dErr *driver.Error
	if errors.As(err, &dErr) {
		e.Status = dErr.Code
	}
	return e
}

// errInvalidState returns an InvalidState error for the operation.
func errInvalidState(op, object string, state State) error {
	return newError(InvalidState, op, object, "object is in state %s, not Valid", state)
}
