package errors

import (
	stderrors "errors"
	"fmt"
)

// DriverError is a wrapper around engine status codes, with a customizable
// error message.
type DriverError interface {
	error
	Errno() Errno
	Unwrap() error
}

type driverError struct {
	errno         Errno
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e driverError) Error() string {
	if e.message != "" {
		return e.message
	}
	return StrError(e.errno)
}

func (e driverError) Errno() Errno {
	return e.errno
}

func (e driverError) Unwrap() error {
	return e.originalError
}

// Is reports whether `target` carries the same status code. Two driver errors
// with different messages but the same code compare equal, so callers can test
// against the sentinels in this package.
func (e driverError) Is(target error) bool {
	switch t := target.(type) {
	case Errno:
		return t == e.errno
	case DriverError:
		return t.Errno() == e.errno
	}
	return false
}

// New creates a new [DriverError] with a default message derived from the
// status code.
func New(errnoCode Errno) DriverError {
	return driverError{
		errno:   errnoCode,
		message: StrError(errnoCode),
	}
}

func NewFromError(errnoCode Errno, originalError error) DriverError {
	return driverError{
		errno:         errnoCode,
		message:       fmt.Sprintf("%s: %s", StrError(errnoCode), originalError.Error()),
		originalError: originalError,
	}
}

// NewWithMessage creates a new DriverError from a status code with a custom
// message.
func NewWithMessage(errnoCode Errno, message string) DriverError {
	return driverError{
		errno:   errnoCode,
		message: fmt.Sprintf("%s: %s", StrError(errnoCode), message),
	}
}

// FromStatus converts an engine status into an error. Non-negative statuses
// are successes and give nil.
func FromStatus(status int) error {
	if status >= 0 {
		return nil
	}
	return New(Errno(status))
}

// ErrnoOf extracts the status code carried by `err`. Errors that don't carry
// one are reported as [EIO], since anything else escaping a block device is an
// I/O failure as far as the engine is concerned.
func ErrnoOf(err error) Errno {
	if err == nil {
		return EOK
	}

	var driverErr DriverError
	if stderrors.As(err, &driverErr) {
		return driverErr.Errno()
	}

	var code Errno
	if stderrors.As(err, &code) {
		return code
	}
	return EIO
}

// ToStatus is the inverse of [FromStatus].
func ToStatus(err error) int {
	return int(ErrnoOf(err))
}
