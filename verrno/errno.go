// Package verrno defines the POSIX-style error taxonomy shared by every
// layer of the virtual file system: Store, StoreFS, the overlay, and
// the VFS. Errors are never retried inside the core; every error that
// crosses a component boundary carries enough context (syscall, path,
// optional destination, stack trail) for the caller to decide what to
// do next.
package verrno

import (
	"fmt"
	"runtime"
)

// Code is a POSIX errno, restricted to the subset this module surfaces.
type Code int

const (
	ENOENT Code = iota + 1
	EEXIST
	ENOTDIR
	EISDIR
	ENOTEMPTY
	EACCES
	EPERM
	EBADF
	EBUSY
	EDEADLK
	EINVAL
	EIO
	ENOSPC
	ENOSYS
	ENOTSUP
	EROFS
	EXDEV
	ELOOP
	EAGAIN
)

func (c Code) String() string {
	switch c {
	case ENOENT:
		return "ENOENT"
	case EEXIST:
		return "EEXIST"
	case ENOTDIR:
		return "ENOTDIR"
	case EISDIR:
		return "EISDIR"
	case ENOTEMPTY:
		return "ENOTEMPTY"
	case EACCES:
		return "EACCES"
	case EPERM:
		return "EPERM"
	case EBADF:
		return "EBADF"
	case EBUSY:
		return "EBUSY"
	case EDEADLK:
		return "EDEADLK"
	case EINVAL:
		return "EINVAL"
	case EIO:
		return "EIO"
	case ENOSPC:
		return "ENOSPC"
	case ENOSYS:
		return "ENOSYS"
	case ENOTSUP:
		return "ENOTSUP"
	case EROFS:
		return "EROFS"
	case EXDEV:
		return "EXDEV"
	case ELOOP:
		return "ELOOP"
	case EAGAIN:
		return "EAGAIN"
	default:
		return fmt.Sprintf("errno(%d)", int(c))
	}
}

// Error is the error type returned by every operation in this module.
// It wraps an optional underlying cause (e.g. an EIO from a backend
// fault) and records the call site that produced it.
type Error struct {
	Code    Code
	Message string
	Syscall string
	Path    string
	Dest    string // set for link/rename-style operations
	Stack   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}

	switch {
	case e.Syscall != "" && e.Dest != "":
		return fmt.Sprintf("%s: %s, %q -> %q: %v", e.Syscall, msg, e.Path, e.Dest, e.wrapped())
	case e.Syscall != "" && e.Path != "":
		return fmt.Sprintf("%s: %s, %q: %v", e.Syscall, msg, e.Path, e.wrapped())
	case e.Syscall != "":
		return fmt.Sprintf("%s: %s: %v", e.Syscall, msg, e.wrapped())
	default:
		return fmt.Sprintf("%s: %v", msg, e.wrapped())
	}
}

func (e *Error) wrapped() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Code
}

// Unwrap lets errors.Is/As see through to the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, verrno.ENOENT) match regardless of how deeply
// the error has been wrapped by Wrap.
func (e *Error) Is(target error) bool {
	code, ok := target.(Code)
	return ok && e.Code == code
}

// Is reports whether target is the same errno code, so callers can
// write errors.Is(err, verrno.ENOENT).
func (c Code) Is(target error) bool {
	if o, ok := target.(Code); ok {
		return c == o
	}
	return false
}

func (c Code) Error() string {
	return c.String()
}

// New builds an *Error for the given code, syscall name and path,
// capturing the current goroutine's stack for EDEADLK-style
// diagnostics.
func New(code Code, syscall, path string, err error) *Error {
	return &Error{
		Code:    code,
		Syscall: syscall,
		Path:    path,
		Err:     err,
		Stack:   captureStack(),
	}
}

// NewDest is New with a destination path, for link/rename.
func NewDest(code Code, syscall, path, dest string, err error) *Error {
	e := New(code, syscall, path, err)
	e.Dest = dest
	return e
}

// Wrap attaches a higher-level syscall/path pair to an existing error,
// preserving its code if it is already a *Error, otherwise classifying
// it as EIO (backend faults never get silently reclassified downward).
func Wrap(syscall, path string, err error) error {
	if err == nil {
		return nil
	}

	if e, ok := err.(*Error); ok {
		return &Error{
			Code:    e.Code,
			Message: e.Message,
			Syscall: syscall,
			Path:    path,
			Dest:    e.Dest,
			Err:     e,
			Stack:   e.Stack,
		}
	}

	return New(EIO, syscall, path, err)
}

// Of extracts the Code carried by err, if any, defaulting to EIO for
// unrecognized errors so that backend faults are never masked as
// success.
func Of(err error) Code {
	if err == nil {
		return 0
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	if c, ok := err.(Code); ok {
		return c
	}
	return EIO
}

func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
