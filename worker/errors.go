package worker

import (
	"strconv"
	"sync"
	"syscall"

	"github.com/copperhead-labs/reactorcore"
)

// ErrorTable caches human-readable strings for the fixed set of core
// error codes plus any errno values a callback asks about, grounded on
// original_source/src/worker.c's new_error_table/worker_push_error: the
// fixed codes are populated eagerly at construction, and an errno value
// outside that set is resolved once and cached on first use rather than
// formatted again on every lookup.
type ErrorTable struct {
	mu    sync.Mutex
	errno map[syscall.Errno]string
	codes map[reactorcore.Code]string
}

// NewErrorTable builds a table pre-seeded with the fixed core error
// strings, mirroring new_error_table's EX_ADDRINFO/EX_NOSOCKET/
// EX_CLOSING/EX_CLOSED/EX_EOF literals.
func NewErrorTable() *ErrorTable {
	return &ErrorTable{
		errno: make(map[syscall.Errno]string),
		codes: map[reactorcore.Code]string{
			reactorcore.ErrAddrInfo: "getaddrinfo failed",
			reactorcore.ErrNoSocket: "no free socket",
			reactorcore.ErrClosing:  "socket is closing",
			reactorcore.ErrClosed:   "socket is closed",
			reactorcore.ErrEOF:      "end of file",
		},
	}
}

// String resolves err to its cached message: a fixed Code hits the
// eager table, an Errno is looked up and cached on first sight
// (worker_push_error's lazy lua_rawgeti-then-lua_rawseti pattern), and
// anything else falls back to the bare code number.
func (t *ErrorTable) String(err *reactorcore.Error) string {
	if err == nil {
		return ""
	}
	if s, ok := t.codes[err.Code]; ok {
		return s
	}
	if err.Errno != 0 {
		t.mu.Lock()
		defer t.mu.Unlock()
		if s, ok := t.errno[err.Errno]; ok {
			return s
		}
		s := err.Errno.Error()
		t.errno[err.Errno] = s
		return s
	}
	if err.Cause != nil {
		return err.Cause.Error()
	}
	return "error code " + strconv.Itoa(int(err.Code))
}
