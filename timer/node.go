package timer

import "sync/atomic"

// nodeState mirrors original_source/src/timer.c's enum NODE_STATE.
type nodeState uint8

const (
	nodeAdding nodeState = iota
	nodeTicking
	nodeCancelled
	nodeFreed
)

// node is one pending timeout, arena-allocated and addressed by its
// permanent cookie (its index in the node pool). Only the Timer
// goroutine ever mutates next/prev/state/expire; foreign goroutines may
// only load version with acquire semantics (spec.md §3).
type node struct {
	version atomic.Uint32
	state   nodeState
	cookie  uint32
	expire  uint32
	next    *node
	prev    *node // nil iff this node is the head of its slot's list
	inList  *list // the slot list currently holding this node, or nil
}

// session composes the externally visible handle from a node's current
// version and stable cookie, exactly as original_source/src/timer.c's
// session_of.
func (n *node) session() uint64 {
	return uint64(n.version.Load())<<32 | uint64(n.cookie)
}

func sessionVersion(session uint64) uint32 { return uint32(session >> 32) }
func sessionCookie(session uint64) uint32  { return uint32(session) }

// list is an intrusive doubly linked list of nodes, one per wheel slot.
type list struct {
	head *node
}

func (l *list) push(n *node) {
	n.next = l.head
	n.prev = nil
	n.inList = l
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
}

// unlink removes n from whichever list currently holds it, mirroring
// original_source/src/timer.c's unlinklist (there implemented via the
// `**prev` trick; here via the explicit inList back-reference since Go
// has no pointer-to-pointer splice). n must currently be linked.
func unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		n.inList.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	n.next = nil
	n.prev = nil
	n.inList = nil
}

// takeAll empties the list and returns its former head, for batch
// expiry/cascade processing.
func (l *list) takeAll() *node {
	head := l.head
	l.head = nil
	return head
}
