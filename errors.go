// Package reactorcore is the root of the runtime: runtime.Context wires
// together the Reactor, Timer, Worker, and Monitor goroutines declared
// in the subpackages. This file holds the structured error type shared
// across all of them.
package reactorcore

import (
	"errors"
	"fmt"
	"syscall"
)

// Code enumerates the semantic error namespace layered above errno,
// replacing the original's EX_* integer codes with a typed enum.
type Code int

const (
	// CodeNone means Errno alone (or no error at all) describes the
	// failure; no semantic code applies.
	CodeNone Code = iota
	// ErrNoSocket means the pool has no free slots.
	ErrNoSocket
	// ErrClosing means a second close was requested on a socket already
	// in the closing state.
	ErrClosing
	// ErrClosed means an operation targeted a socket that has already
	// been freed back to the pool.
	ErrClosed
	// ErrAddrInfo means address resolution failed before a socket could
	// be created.
	ErrAddrInfo
	// ErrEOF means the peer closed its end of a TCP connection.
	ErrEOF
)

func (c Code) String() string {
	switch c {
	case ErrNoSocket:
		return "no-socket"
	case ErrClosing:
		return "closing"
	case ErrClosed:
		return "closed"
	case ErrAddrInfo:
		return "addrinfo"
	case ErrEOF:
		return "eof"
	default:
		return "none"
	}
}

// Error is the structured error value every subsystem returns or
// attaches to a bus message, modeled on ehrlich-b-go-ublk/errors.go's
// *ublk.Error: an operation name, the socket identifier involved (0
// when not applicable), a semantic Code, an optional syscall.Errno, and
// an optional wrapped cause.
type Error struct {
	Op    string
	SID   uint64
	Code  Code
	Errno syscall.Errno
	Cause error
}

// NewError constructs an Error. errno may be 0 (syscall.Errno(0), which
// is also what a nil error converts to via AsErrno).
func NewError(op string, sid uint64, code Code, errno syscall.Errno, cause error) *Error {
	return &Error{Op: op, SID: sid, Code: code, Errno: errno, Cause: cause}
}

func (e *Error) Error() string {
	switch {
	case e.Code != CodeNone && e.Errno != 0:
		return fmt.Sprintf("%s: sid=%d %s: %s", e.Op, e.SID, e.Code, e.Errno)
	case e.Code != CodeNone:
		return fmt.Sprintf("%s: sid=%d %s", e.Op, e.SID, e.Code)
	case e.Errno != 0:
		return fmt.Sprintf("%s: sid=%d %s", e.Op, e.SID, e.Errno)
	case e.Cause != nil:
		return fmt.Sprintf("%s: sid=%d %s", e.Op, e.SID, e.Cause)
	default:
		return fmt.Sprintf("%s: sid=%d", e.Op, e.SID)
	}
}

// Unwrap exposes the wrapped cause (if any) to errors.Is/As, and the
// errno otherwise, so callers can test with errors.Is(err,
// syscall.EMFILE) without unpacking the struct.
func (e *Error) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	if e.Errno != 0 {
		return e.Errno
	}
	return nil
}

// Is reports whether target is an *Error with the same Code, letting
// callers write errors.Is(err, &reactorcore.Error{Code: ErrClosed}).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code != CodeNone && other.Code == e.Code
}

// AsErrno extracts the syscall.Errno embedded in err, if any.
func AsErrno(err error) (syscall.Errno, bool) {
	var e *Error
	if errors.As(err, &e) && e.Errno != 0 {
		return e.Errno, true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}
