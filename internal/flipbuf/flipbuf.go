// Package flipbuf implements a double-buffered command ring: any number
// of writer goroutines append records under a spinlock, and a single
// consumer goroutine periodically flips the active side out for
// draining without ever blocking a writer on the consumer's progress.
//
// Grounded on the flip/drain usage pattern around original_source/src/timer.c's
// command buffer (cmdpkt structs written by flipbuf_write, drained in
// process_cmd via flipbuf_flip) and generalized into a reusable generic
// primitive shared by timer and reactor, following the chunked
// lock-free ingress shape in joeycumines-go-utilpkg/eventloop's
// ingress.go (writers never wait on the consumer; the consumer swaps
// out the whole pending structure at once). The original serializes
// commands to raw bytes because C has no generics; this port uses a Go
// type parameter instead of a byte encoding, since the producer and
// consumer are always compiled together.
package flipbuf

import (
	"errors"

	"github.com/copperhead-labs/reactorcore/internal/spinlock"
)

// ErrFull is returned by Write when appending would exceed the buffer's
// configured capacity.
var ErrFull = errors.New("flipbuf: buffer full")

// T is a double-buffered ring of records of type E. The zero value is
// not usable; use New.
type T[E any] struct {
	mu       spinlock.T
	cap      int
	active   []E
	inactive []E
}

// New creates a flip buffer with the given per-side capacity. A
// capacity of 0 means unbounded (Write never returns ErrFull).
func New[E any](capacity int) *T[E] {
	t := &T[E]{cap: capacity}
	if capacity > 0 {
		t.active = make([]E, 0, capacity)
		t.inactive = make([]E, 0, capacity)
	}
	return t
}

// Write appends one record to the active side. Safe to call
// concurrently from any number of goroutines. Returns true iff the
// active side was empty before this write, so the caller knows to fire
// a paired Trigger (spec.md §4.6: "returns true iff the side was
// previously empty").
func (t *T[E]) Write(rec E) (wasEmpty bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cap > 0 && len(t.active) >= t.cap {
		return false, ErrFull
	}
	wasEmpty = len(t.active) == 0
	t.active = append(t.active, rec)
	return wasEmpty, nil
}

// Flip swaps the active and inactive buffers and returns the records
// that had accumulated on the active side, resetting it to empty. Only
// the single designated consumer goroutine may call Flip; callers must
// not retain the returned slice past the next Flip call, since its
// backing array is reused as the new active buffer.
func (t *T[E]) Flip() []E {
	t.mu.Lock()
	t.active, t.inactive = t.inactive[:0], t.active
	drained := t.inactive
	t.mu.Unlock()
	return drained
}

// Len reports the number of records currently pending on the active
// side.
func (t *T[E]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
