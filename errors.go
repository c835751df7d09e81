package nnbridge

import (
	"errors"
	"fmt"

	"github.com/obinnaokechukwu/nnbridge/transport"
)

// ErrorBase is the first host error code. A transport error number n is
// reported to the host as ErrorBase+n.
const ErrorBase = 156384712

// CodeCritical is the host code for ErrCritical.
const CodeCritical = 1097

// Errno is a transport error number; see the transport package for the values.
type Errno = transport.Errno

// Common errors
var (
	// ErrInvalidHandle indicates a Context or Socket that was never created,
	// has been destroyed, or belongs to another Library.
	ErrInvalidHandle = errors.New("nnbridge: invalid handle")

	// ErrCritical indicates the library faulted and refuses all further work.
	ErrCritical = errors.New("nnbridge: critical fault, library disabled")

	// ErrClosed indicates the Library or Instance has been closed.
	ErrClosed = fmt.Errorf("nnbridge: closed: %w", transport.EBADF)

	// ErrTooManySockets indicates the Context reached its socket limit.
	ErrTooManySockets = transport.EMFILE

	// ErrInProgress indicates a blocking call is already running on the Socket.
	ErrInProgress = transport.EINPROGRESS

	// ErrWouldBlock indicates nothing was ready within the allowed wait.
	ErrWouldBlock = transport.EAGAIN

	// ErrTerminated indicates the owning Context was terminated.
	ErrTerminated = transport.ETERM

	// ErrOutOfMemory indicates an allocation failed.
	ErrOutOfMemory = transport.ENOMEM
)

// Error records the operation that failed and why.
type Error struct {
	Op  string // Operation that failed, e.g. "socket.recv"
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("nnbridge %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// invalidHandleError is what validity checks return: it matches
// ErrInvalidHandle and carries the error number the host expects for the kind
// of object (ENOTSOCK for sockets, EINVAL for contexts).
type invalidHandleError struct {
	errno transport.Errno
}

func (e invalidHandleError) Error() string {
	return ErrInvalidHandle.Error()
}

func (e invalidHandleError) Is(target error) bool {
	return target == ErrInvalidHandle
}

func (e invalidHandleError) Unwrap() error {
	return e.errno
}

var (
	errInvalidSocket  = invalidHandleError{transport.ENOTSOCK}
	errInvalidContext = invalidHandleError{transport.EINVAL}
)

// wrapErr attaches op to err unless it already carries an operation.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// ErrorCode maps err to the host's numeric error code: 0 for nil, CodeCritical
// for ErrCritical, ErrorBase plus the error number for transport errors, and
// ErrorBase alone for anything else.
func ErrorCode(err error) int32 {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrCritical) {
		return CodeCritical
	}
	var errno transport.Errno
	if errors.As(err, &errno) && errno.Known() {
		return ErrorBase + int32(errno)
	}
	return ErrorBase
}

// IsTerminated reports whether err means the owning Context was terminated.
func IsTerminated(err error) bool {
	return errors.Is(err, ErrTerminated)
}

// IsWouldBlock reports whether err means nothing was ready in time.
func IsWouldBlock(err error) bool {
	return errors.Is(err, ErrWouldBlock)
}
