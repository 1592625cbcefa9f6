// Package vsfserr defines the error kinds returned by the vsfs core packages
// and their mapping to POSIX errno values.
package vsfserr

import (
	"fmt"
	"syscall"
)

// Error wraps a syscall.Errno with an optional, more specific message. It is
// returned by every mount/engine operation that can fail, and by mkfs.Format
// except for geometry validation failures, which come back collected in a
// *multierror.Error.
type Error struct {
	Errno   syscall.Errno
	message string
}

func (e *Error) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.Errno.Error()
}

// Is lets callers use errors.Is(err, ErrNotFound) and friends.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Errno == other.Errno
}

// New creates an Error with the default message for the given errno.
func New(errno syscall.Errno) *Error {
	return &Error{Errno: errno, message: errno.Error()}
}

// WithMessage creates an Error with a custom message describing the failure.
func WithMessage(errno syscall.Errno, message string) *Error {
	return &Error{Errno: errno, message: message}
}

// Wrap creates an Error that folds an underlying error's text into the
// message while keeping the given errno as the reported code.
func Wrap(errno syscall.Errno, err error) *Error {
	return &Error{Errno: errno, message: fmt.Sprintf("%s: %s", errno.Error(), err.Error())}
}

// The error kinds named in spec.md §7.
var (
	ErrNotFound      = New(syscall.ENOENT)
	ErrNameTooLong   = New(syscall.ENAMETOOLONG)
	ErrNoSpace       = New(syscall.ENOSPC)
	ErrTooBig        = New(syscall.EFBIG)
	ErrNoMem         = New(syscall.ENOMEM)
	ErrInvalidImage  = New(syscall.EINVAL)
	ErrFormatRefused = New(syscall.EEXIST)
	ErrIO            = New(syscall.EIO)
	ErrNotAbsolute   = New(syscall.EINVAL)
	ErrExists        = New(syscall.EEXIST)
	ErrNotDirectory  = New(syscall.ENOTDIR)
	ErrIsDirectory   = New(syscall.EISDIR)
)

// Errno extracts the negative errno value FUSE/CLI callers need to return,
// e.g. -ENOENT. Returns 0 if err is nil, and -EIO for any error that isn't
// a *Error.
func Errno(err error) int {
	if err == nil {
		return 0
	}
	if e, ok := err.(*Error); ok {
		return -int(e.Errno)
	}
	return -int(syscall.EIO)
}
