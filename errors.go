package flashfs

import (
	"fmt"

	"github.com/dargueta/flashfs/errors"
	"github.com/hashicorp/go-multierror"
)

// DriverError is the error type returned by every layer of the library. It
// carries the engine status code it was derived from, so callers can branch on
// it with [errors.Is] against the sentinels below, or pull the raw code out
// with Errno().
type DriverError interface {
	errors.DriverError
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

var ErrBusy = newSentinel(errors.EBUSY)
var ErrDirectoryNotEmpty = newSentinel(errors.ENOTEMPTY)
var ErrExists = newSentinel(errors.EEXIST)
var ErrFileSystemCorrupted = newSentinel(errors.ECORRUPT)
var ErrFileTooLarge = newSentinel(errors.EFBIG)
var ErrInvalidArgument = newSentinel(errors.EINVAL)
var ErrInvalidFileDescriptor = newSentinel(errors.EBADF)
var ErrIOFailed = newSentinel(errors.EIO)
var ErrIsADirectory = newSentinel(errors.EISDIR)
var ErrNameTooLong = newSentinel(errors.ENAMETOOLONG)
var ErrNoMemory = newSentinel(errors.ENOMEM)
var ErrNoSpaceOnDevice = newSentinel(errors.ENOSPC)
var ErrNotADirectory = newSentinel(errors.ENOTDIR)
var ErrNotFound = newSentinel(errors.ENOENT)
var ErrTooManyOpenFiles = newSentinel(errors.EMFILE)

type sentinelError struct {
	errno errors.Errno
}

func newSentinel(code errors.Errno) DriverError {
	return sentinelError{errno: code}
}

func (e sentinelError) Error() string {
	return errors.StrError(e.errno)
}

func (e sentinelError) Errno() errors.Errno {
	return e.errno
}

func (e sentinelError) Unwrap() error {
	return nil
}

func (e sentinelError) Is(target error) bool {
	return errors.ErrnoOf(target) == e.errno
}

func (e sentinelError) WithMessage(message string) DriverError {
	return customDriverError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.Error(), message),
		originalError: e,
	}
}

func (e sentinelError) Wrap(err error) DriverError {
	return customDriverError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customDriverError struct {
	errno         errors.Errno
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customDriverError) Error() string {
	return e.message
}

func (e customDriverError) Errno() errors.Errno {
	return e.errno
}

func (e customDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customDriverError) Wrap(err error) DriverError {
	return customDriverError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customDriverError) Unwrap() error {
	return e.originalError
}

// AsDriverError converts any error into a [DriverError]. Errors that already
// carry a status code keep it; anything else becomes an I/O error wrapping the
// original.
func AsDriverError(err error) DriverError {
	if err == nil {
		return nil
	}
	if de, ok := err.(DriverError); ok {
		return de
	}
	code := errors.ErrnoOf(err)
	return customDriverError{
		errno:         code,
		message:       err.Error(),
		originalError: err,
	}
}
