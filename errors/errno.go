// Engine status codes. Storage engines report failures as negative integers
// using the numbering below, which matches the errno values of the flash
// filesystems this library is designed to host. The session layer decodes
// these; it never makes up codes of its own.

package errors

import (
	"fmt"
)

type Errno int

var errorMessagesByCode map[Errno]string

const (
	EOK          Errno = 0
	ENOENT       Errno = -2
	EIO          Errno = -5
	EBADF        Errno = -9
	ENOMEM       Errno = -12
	EBUSY        Errno = -16
	EEXIST       Errno = -17
	ENOTDIR      Errno = -20
	EISDIR       Errno = -21
	EINVAL       Errno = -22
	EMFILE       Errno = -24
	EFBIG        Errno = -27
	ENOSPC       Errno = -28
	ENAMETOOLONG Errno = -36
	ENOTEMPTY    Errno = -39
	ECORRUPT     Errno = -52
)


func init() {
	errorMessagesByCode = make(map[Errno]string, 16)
	errorMessagesByCode[EOK] = "Success"
	errorMessagesByCode[ENOENT] = "No such file or directory"
	errorMessagesByCode[EIO] = "Input/output error"
	errorMessagesByCode[EBADF] = "Bad file descriptor"
	errorMessagesByCode[ENOMEM] = "Cannot allocate memory"
	errorMessagesByCode[EBUSY] = "Device or resource busy"
	errorMessagesByCode[EEXIST] = "File exists"
	errorMessagesByCode[ENOTDIR] = "Not a directory"
	errorMessagesByCode[EISDIR] = "Is a directory"
	errorMessagesByCode[EINVAL] = "Invalid argument"
	errorMessagesByCode[EMFILE] = "Too many open files"
	errorMessagesByCode[EFBIG] = "File too large"
	errorMessagesByCode[ENOSPC] = "No space left on device"
	errorMessagesByCode[ENAMETOOLONG] = "File name too long"
	errorMessagesByCode[ENOTEMPTY] = "Directory not empty"
	errorMessagesByCode[ECORRUPT] = "Structure needs cleaning"
}

// StrError returns the canonical message for an engine status code.
func StrError(code Errno) string {
	message, ok := errorMessagesByCode[code]
	if ok {
		return message
	}
	return fmt.Sprintf("error %d not recognized.", int(code))
}

// Error lets a bare Errno be used as an error value.
func (code Errno) Error() string {
	return StrError(code)
}
