// Package pool implements the versioned socket pool: a fixed-size
// arena of Socket slots addressed by a 64-bit sid encoding
// (version<<Bits)|slotIndex, which is the only field safe to read
// from outside the owning Reactor goroutine.
//
// Grounded on spec.md §3 "Socket"/"Socket Pool" and §4.1, and on the
// state-bitmask header comment of original_source/src/silly_socket.c
// (STATE_POLLING/PENDING/CONNECTING/LISTENING/READING/WRITING/CLOSING/
// MUTECLOSE/ZOMBINE plus the PROTOCOL/RESERVE/LISTEN/CONNECTION type-tag
// macros), ported to a Go atomic bitset struct following the
// Device/DeviceParams field-grouping style of ehrlich-b-go-ublk's
// backend.go.
package pool

import (
	"net"
	"sync/atomic"
)

// SocketType tags what kind of endpoint a slot represents.
type SocketType uint8

const (
	// TypeReserve marks an unallocated slot awaiting alloc.
	TypeReserve SocketType = iota
	TypeTCPListen
	TypeUDPListen
	TypeTCPConn
	TypeUDPConn
	TypeCtrlPipe
)

func (t SocketType) String() string {
	switch t {
	case TypeReserve:
		return "reserve"
	case TypeTCPListen:
		return "tcp-listen"
	case TypeUDPListen:
		return "udp-listen"
	case TypeTCPConn:
		return "tcp-conn"
	case TypeUDPConn:
		return "udp-conn"
	case TypeCtrlPipe:
		return "ctrl-pipe"
	default:
		return "unknown"
	}
}

// State is an atomic bitset mirroring the original's state word.
// Multiple bits may be set simultaneously (e.g. Closing|MuteClose).
type State uint32

const (
	StatePolling State = 1 << iota
	StatePending       // connecting or listening, awaiting first readiness
	StateConnecting
	StateListening
	StateReading
	StateWriting
	StateClosing
	StateMuteClose
	StateZombie
)

func (s State) Has(bit State) bool { return s&bit != 0 }

// WriteBuf is one queued outbound buffer awaiting drain. Finalizer, if
// non-nil, runs exactly once after the buffer is fully written or
// discarded (e.g. on close), following the original's per-buffer
// finalizer callback in the write-list.
type WriteBuf struct {
	Data      []byte
	Offset    int
	Finalizer func()
	// Addr is the destination for a UDP send; nil for TCP or for a UDP
	// socket already connect(2)'d to a fixed peer.
	Addr net.Addr
}

// Remaining reports the bytes of this buffer not yet written.
func (w *WriteBuf) Remaining() int { return len(w.Data) - w.Offset }

// Socket is one pool slot. Every field except sid belongs exclusively
// to the Reactor goroutine once the slot is live; foreign goroutines
// may only call Pool.Get to read sid and must round-trip any mutation
// through a Reactor command. The one exception is the brief window
// between Pool.Alloc returning a freshly-popped slot and that slot's
// sid being published into an enqueued command: until the command is
// pushed, the allocating goroutine is the slot's only referent, so it
// may set FD/Type/State itself (see reactor.TCPListen and friends) —
// and MarkClosing, which CASes only the atomic state mirror and never
// touches the Reactor-local State.
type Socket struct {
	sid atomic.Uint64

	// Reactor-owned fields below; safe to touch only from the Reactor
	// goroutine, or before the slot is published (alloc) / after it is
	// fully retired (free).
	FD         int
	Type       SocketType
	state      atomic.Uint32 // mirrored for Stat(); authoritative value is Reactor-local below
	localState State
	WriteList  []WriteBuf
	PendingLen int
	version    uint32
	slot       uint32
}

// Stat is a value-typed, point-in-time snapshot of a socket's
// observable fields, produced on the Reactor goroutine and safe to
// pass to any other goroutine by value. This resolves spec.md §9's
// open question about a torn read on fd + sid: here the whole snapshot
// is assembled on the owning goroutine in one step, then copied out.
type Stat struct {
	SID        uint64
	FD         int
	Type       SocketType
	State      State
	PendingLen int
}

// Stat snapshots the socket's current fields. Must only be called from
// the Reactor goroutine; the returned value is then safe to hand to
// any other goroutine.
func (s *Socket) Stat() Stat {
	return Stat{
		SID:        s.sid.Load(),
		FD:         s.FD,
		Type:       s.Type,
		State:      s.localState,
		PendingLen: s.PendingLen,
	}
}

// SID returns the slot's current identifier. Safe to call from any
// goroutine; this is the only field with that property.
func (s *Socket) SID() uint64 { return s.sid.Load() }

// SetState replaces the Reactor-local state bitset and mirrors it into
// the atomic copy exposed to Stat readers racing the Reactor (the
// mirror is advisory only — authoritative decisions always happen on
// the Reactor goroutine using localState).
func (s *Socket) SetState(st State) {
	s.localState = st
	s.state.Store(uint32(st))
}

// State returns the Reactor-local state. Reactor-goroutine only.
func (s *Socket) State() State { return s.localState }

// MarkClosing atomically transitions the socket into Closing|MuteClose,
// matching original_source/src/silly_socket.c's socket_close: the state
// change happens synchronously, on whatever goroutine calls it, before
// a close command is ever enqueued — so a second close on the same sid
// observes the transition immediately rather than racing the Reactor's
// own processing of the first one.
//
// Safe to call from any goroutine: it only CASes the atomic state
// mirror, never localState, which remains Reactor-private. The Reactor
// folds the mirror back into localState the next time it touches this
// slot (see the Reactor's execClose), the only place localState is
// ever written, so its single-writer property still holds.
//
// Returns ErrClosed if the socket is already a zombie (its fd is
// already gone; the caller should free the slot directly rather than
// enqueue a command that would only repeat that on the Reactor
// goroutine), ErrClosing if a close is already in flight, or nil if
// this call performed the transition and a close command should be
// enqueued.
func (s *Socket) MarkClosing() error {
	for {
		cur := State(s.state.Load())
		if cur.Has(StateZombie) {
			return ErrClosed
		}
		if cur.Has(StateClosing) {
			return ErrClosing
		}
		next := cur | StateClosing | StateMuteClose
		if s.state.CompareAndSwap(uint32(cur), uint32(next)) {
			return nil
		}
	}
}

// FoldState copies the atomic state mirror into the Reactor-local
// cache and returns it. Reactor-goroutine only: this is the one place
// besides SetState that writes localState, and it exists specifically
// to make a foreign MarkClosing's CAS visible to Reactor-private logic
// (e.g. execClose) the next time the Reactor touches the slot.
func (s *Socket) FoldState() State {
	s.localState = State(s.state.Load())
	return s.localState
}
