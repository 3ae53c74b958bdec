//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Errno is the small set of failure kinds the public API reports,
// matching the errno values inotify_add_watch/inotify_rm_watch/
// inotify_init1 can return per their man pages.
type Errno int

const (
	errnoNone Errno = iota
	EBADF
	EINVAL
	ENOENT
	ENOTDIR
	EACCES
	EFAULT
	ENOMEM
	EMFILE
	ENOSPC
)

func (e Errno) Error() string {
	switch e {
	case EBADF:
		return "bad file descriptor"
	case EINVAL:
		return "invalid argument"
	case ENOENT:
		return "no such file or directory"
	case ENOTDIR:
		return "not a directory"
	case EACCES:
		return "permission denied"
	case EFAULT:
		return "bad address"
	case ENOMEM:
		return "out of memory"
	case EMFILE:
		return "too many open files"
	case ENOSPC:
		return "no space left on device (watch limit)"
	default:
		return "unknown error"
	}
}

// Is lets callers write errors.Is(err, kqinotify.ENOENT) against either
// an Errno or an *opError wrapping one.
func (e Errno) Is(target error) bool {
	other, ok := target.(Errno)
	return ok && other == e
}

// opError pairs an Errno with the syscall-level cause that produced it,
// the way fsnotify wraps unix errors with fmt.Errorf("%w: ...").
type opError struct {
	op    string
	errno Errno
	cause error
}

func (e *opError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.op, e.errno, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.op, e.errno)
}

func (e *opError) Unwrap() error { return e.cause }

func (e *opError) Is(target error) bool {
	if errno, ok := target.(Errno); ok {
		return e.errno == errno
	}
	return false
}

func wrapErrno(op string, errno Errno, cause error) error {
	return &opError{op: op, errno: errno, cause: cause}
}

// errnoFromOpen classifies a failure from opening or stat-ing a watch
// target, grounded on controller.c's inotify_add_watch (lstat guard ->
// ENOENT/EFAULT) and watch.c's watch_open (ENOTDIR from IN_ONLYDIR).
func errnoFromOpen(err error) Errno {
	switch {
	case errors.Is(err, unix.ENOENT):
		return ENOENT
	case errors.Is(err, unix.ENOTDIR):
		return ENOTDIR
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return EACCES
	case errors.Is(err, unix.EFAULT):
		return EFAULT
	case errors.Is(err, unix.ENOMEM):
		return ENOMEM
	case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE):
		return EMFILE
	case errors.Is(err, unix.ELOOP):
		return ENOENT
	default:
		return EACCES
	}
}
