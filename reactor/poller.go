// Package reactor implements the non-blocking socket event loop: it
// owns the readiness multiplexer, executes every socket syscall, and
// translates both OS readiness events and incoming commands into
// messages on the bus.
//
// Grounded on original_source/src/silly_socket.c in full for the
// per-event-type dispatch (accept/connect/read/write/close
// choreography, the EMFILE fd-reservation trick) and on
// joeycumines-go-utilpkg/eventloop's poller_linux.go/poller_darwin.go
// for the per-OS multiplexer split.
package reactor

import "errors"

// Event is one readiness notification returned from a Poller's Wait.
type Event struct {
	FD       int
	Readable bool
	Writable bool
	Error    bool
	Hangup   bool
}

// Poller is the uniform multiplexer interface spec.md §4.2 calls for:
// create (via the platform constructor), wait, add, ctrl (Modify), del
// (Remove).
type Poller interface {
	// Add registers fd for the given interest set.
	Add(fd int, readable, writable bool) error
	// Modify changes fd's interest set. Equivalent to the original's
	// "ctrl(flags)".
	Modify(fd int, readable, writable bool) error
	// Remove deregisters fd. Safe to call even if fd was never added.
	Remove(fd int) error
	// Wait blocks up to timeoutMS (negative means forever) and appends
	// ready events into dst, returning the number written.
	Wait(timeoutMS int, dst []Event) (int, error)
	// Close releases the underlying OS multiplexer handle.
	Close() error
}

// ErrPollerClosed is returned by any Poller method after Close.
var ErrPollerClosed = errors.New("reactor: poller closed")

// maxPollEvents bounds one Wait call's batch size, mirroring the
// original's fixed-size event array passed to epoll_wait/kevent.
const maxPollEvents = 256
