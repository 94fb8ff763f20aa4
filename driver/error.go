package driver

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error is the error returned by Driver methods.
type Error struct {
	Code    Status
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("native error %s (code=%d)", e.Code, int32(e.Code))
	}
	return fmt.Sprintf("native error %s (code=%d): %s", e.Code, int32(e.Code), e.Message)
}

// Errorf creates a new *Error with a formatted message.
func Errorf(code Status, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// StatusOf returns the Status carried by err, Success if err is nil, or InvalidValue if err
// doesn't wrap a *Error.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code
	}
	return InvalidValue
}
