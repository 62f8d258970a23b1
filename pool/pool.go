package pool

import (
	"errors"

	"github.com/copperhead-labs/reactorcore/internal/spinlock"
)

// Bits is the compile-time log2 of the pool size; spec.md §3 names
// 65,536 as the typical size, i.e. 16 bits.
const Bits = 16

// Size is the number of slots in the pool, 2^Bits.
const Size = 1 << Bits

const slotMask = Size - 1

// ErrExhausted is returned by Alloc when the free-list is empty.
var ErrExhausted = errors.New("pool: exhausted")

// ErrClosing and ErrClosed are returned by Socket.MarkClosing; see its
// doc comment.
var (
	ErrClosing = errors.New("pool: socket closing")
	ErrClosed  = errors.New("pool: socket closed")
)

// Pool is a fixed-size arena of Socket slots with a free-list kept as
// a LIFO stack of slot indices. Free and the per-slot field writes Alloc performs before
// returning are safe to call only from the Reactor goroutine, with one
// exception: the free-list pop itself, and the caller that receives a
// freshly-popped slot from Alloc, may run on any goroutine (spec.md
// §4.2's tcp-listen/tcp-connect/udp-bind/udp-connect commands allocate
// synchronously on the calling goroutine, the same way
// original_source/src/silly_socket.c's socket_tcp_listen/
// socket_tcp_connect call pool_alloc directly before ever touching the
// command queue) — a slot popped off the free-list has no other
// referent until its sid is published into an enqueued command, so the
// allocating goroutine briefly owns it exclusively. Get is safe from
// any goroutine.
type Pool struct {
	slots    [Size]Socket
	mu       spinlock.T
	freeList []uint32 // indices, used as a LIFO stack
}

// New constructs a Pool with every slot on the free-list and sid set
// to the sentinel "unallocated" value so Get never matches slot 0's
// zero value by accident.
func New() *Pool {
	p := &Pool{freeList: make([]uint32, 0, Size)}
	for i := uint32(0); i < Size; i++ {
		p.slots[i].slot = i
		p.slots[i].sid.Store(sentinelSID(i))
		p.freeList = append(p.freeList, i)
	}
	return p
}

// sentinelSID encodes version 0 for a free slot; Alloc always
// increments version before composing a live sid (see Alloc), so a
// freed or never-allocated slot's sid can never collide with a live
// one for the same index.
func sentinelSID(slot uint32) uint64 {
	return composeSID(0, slot)
}

func composeSID(version uint32, slot uint32) uint64 {
	return uint64(version)<<Bits | uint64(slot)
}

// Alloc removes one slot from the free-list, stores fd/type, and
// publishes a freshly composed sid. Returns ErrExhausted if the pool
// has no free slots (spec.md §4.1: "Fails ... if the pool is
// exhausted").
func (p *Pool) Alloc(fd int, typ SocketType) (*Socket, error) {
	p.mu.Lock()
	n := len(p.freeList)
	if n == 0 {
		p.mu.Unlock()
		return nil, ErrExhausted
	}
	idx := p.freeList[n-1]
	p.freeList = p.freeList[:n-1]
	p.mu.Unlock()

	s := &p.slots[idx]
	s.version++
	s.FD = fd
	s.Type = typ
	s.WriteList = s.WriteList[:0]
	s.PendingLen = 0
	s.SetState(0)
	s.sid.Store(composeSID(s.version, idx))
	return s, nil
}

// Free resets a slot's transient fields, stores the sentinel sid so
// every outstanding foreign sid is invalidated (the next Alloc of the
// slot bumps its version), and returns it to the free-list. Precondition (spec.md §4.1): the write-list must be
// empty; callers (the Reactor's close choreography) are responsible
// for draining it first.
func (p *Pool) Free(s *Socket) {
	s.sid.Store(sentinelSID(s.slot))
	s.FD = -1
	s.Type = TypeReserve
	s.WriteList = nil
	s.PendingLen = 0
	s.SetState(0)

	p.mu.Lock()
	p.freeList = append(p.freeList, s.slot)
	p.mu.Unlock()
}

// Get looks up a slot by sid. Safe to call from any goroutine without
// locking; returns nil if the slot has since been freed and
// reallocated (version mismatch) or never allocated.
func (p *Pool) Get(sid uint64) *Socket {
	idx := uint32(sid & slotMask)
	s := &p.slots[idx]
	cur := s.sid.Load()
	if cur != sid || cur == sentinelSID(idx) {
		return nil
	}
	return s
}

// Len reports the number of free slots. Intended for diagnostics; the
// result may be stale the instant it's read from a non-owning
// goroutine.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.freeList)
}
