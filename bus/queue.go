package bus

import (
	"sync/atomic"

	"github.com/copperhead-labs/reactorcore/internal/spinlock"
)

// Queue is the many-producer, single-consumer message list feeding the
// Worker. Push appends under a spinlock; Pop swings the whole list out
// in one operation so the consumer drains a batch without per-message
// locking.
//
// Grounded on original_source/src/queue.c's queue_push/queue_pop,
// including its double-checked lock-free read before taking the lock
// on the empty-queue fast path.
type Queue struct {
	mu   spinlock.T
	head Message
	tail Message
	size atomic.Int64
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue { return &Queue{} }

// Push appends msg to the tail and returns the queue size observed
// immediately after the append, matching spec.md §4.4's enqueue
// contract ("returns current queue size") so callers can detect the
// doubling-warning threshold without a second lookup.
func (q *Queue) Push(msg Message) int64 {
	msg.setNext(nil)
	q.mu.Lock()
	if q.tail == nil {
		q.head = msg
	} else {
		q.tail.setNext(msg)
	}
	q.tail = msg
	q.mu.Unlock()
	return q.size.Add(1)
}

// pop swings the entire pending list out atomically, resetting the
// queue to empty, and returns its head. Drain walks the returned chain
// via Message.getNext.
func (q *Queue) pop() Message {
	if q.head == nil {
		// lock-free fast path: mirrors queue.c's unlocked peek before
		// acquiring the spinlock, avoiding contention on an empty queue.
		return nil
	}
	q.mu.Lock()
	head := q.head
	q.head = nil
	q.tail = nil
	q.mu.Unlock()
	if head != nil {
		q.size.Store(0)
	}
	return head
}

// Drain pops the entire pending batch and returns it as a slice in
// FIFO order, ready for the Worker's dispatch loop to range over.
func (q *Queue) Drain() []Message {
	head := q.pop()
	if head == nil {
		return nil
	}
	var out []Message
	for m := head; m != nil; {
		next := m.getNext()
		out = append(out, m)
		m = next
	}
	return out
}

// Len reports the queue size as of the last Push or Pop. Approximate
// when read from a non-consumer goroutine.
func (q *Queue) Len() int64 { return q.size.Load() }
