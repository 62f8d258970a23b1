// Package spinlock provides a minimal user-space spinlock built on
// atomic compare-and-swap, for the short critical sections used by the
// socket pool free-list, the timer node pool, and the message queue.
package spinlock

import "sync/atomic"

// T is a spinlock. The zero value is unlocked and ready to use.
type T struct {
	state atomic.Int32
}

// Lock blocks until the lock is acquired.
func (l *T) Lock() {
	for {
		if l.state.CompareAndSwap(0, 1) {
			return
		}
		for l.state.Load() != 0 {
			// busy-wait; critical sections guarded by this lock are
			// O(1) list splices, never syscalls or allocations.
		}
	}
}

// Unlock releases the lock. Unlocking an unlocked spinlock panics.
func (l *T) Unlock() {
	if !l.state.CompareAndSwap(1, 0) {
		panic("spinlock: unlock of unlocked lock")
	}
}
