package reactor

import (
	"net"

	"golang.org/x/sys/unix"

	reactorcore "github.com/copperhead-labs/reactorcore"
	"github.com/copperhead-labs/reactorcore/pool"
)

// cmdKind tags which of the command surface's operations a command
// record represents; spec.md §4.2's command table, enumerated.
type cmdKind int

const (
	cmdTCPListen cmdKind = iota
	cmdUDPBind
	cmdTCPConnect
	cmdUDPConnect
	cmdTCPSend
	cmdUDPSend
	cmdClose
	cmdReadEnable
	cmdExit
)

// command is the single record type flowing through the reactor's
// FlipBuf; every operation is a variant of this one struct rather than
// a tagged-union interface, since the set of fields used per kind is
// small enough that a flat struct is cheaper than per-kind allocation
// on this hot path, the same flat-record choice original_source/src/silly_socket.c
// makes for its cmdpkt union.
//
// sock carries an already-allocated pool slot for the four create
// kinds (tcp-listen, udp-bind, tcp-connect, udp-connect): TCPListen and
// friends perform address resolution, socket(2), and pool.Alloc
// synchronously on the calling goroutine (mirroring the original's
// socket_tcp_listen/socket_tcp_connect split exactly) and only enqueue
// the remaining syscall — bind+listen is already done by the time this
// is built, so only epoll registration (and, for tcp-connect, the
// connect(2) itself) remains for the Reactor goroutine to finish.
type command struct {
	kind cmdKind
	sid  uint64
	sock *pool.Socket

	// connAddr is the peer tcp-connect still has to connect(2) to; the
	// original four create commands never otherwise need a target
	// address once the fd has been created.
	connAddr unix.Sockaddr

	buf       []byte
	finalizer func()
	addr      net.Addr

	enable bool
}

// TCPListen synchronously creates, binds, and listens on ip:port, and
// allocates a pool slot, returning its sid — mirroring
// original_source/src/silly_socket.c's socket_tcp_listen: only
// registering the new fd with the poller is deferred to the Reactor
// goroutine via the enqueued command. On any failure (address
// resolution, socket(2), bind/listen, or pool exhaustion) no command is
// enqueued and no asynchronous message is ever emitted for it — the
// error is returned here and here only, matching spec.md §7/§8's
// synchronous id-or-error contract.
func (r *Reactor) TCPListen(ip, port string, backlog int) (uint64, error) {
	sa, family, err := resolveSockaddr(ip, port)
	if err != nil {
		return 0, reactorcore.NewError("tcp-listen", 0, reactorcore.ErrAddrInfo, 0, err)
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, reactorcore.NewError("tcp-listen", 0, reactorcore.CodeNone, 0, err)
	}
	if err := bindAndListen(fd, sa, backlog); err != nil {
		unix.Close(fd)
		return 0, reactorcore.NewError("tcp-listen", 0, reactorcore.CodeNone, 0, err)
	}
	s, err := r.pool.Alloc(fd, pool.TypeTCPListen)
	if err != nil {
		unix.Close(fd)
		return 0, reactorcore.NewError("tcp-listen", 0, reactorcore.ErrNoSocket, 0, err)
	}
	s.SetState(pool.StateListening)
	sid := s.SID()
	r.push(command{kind: cmdTCPListen, sid: sid, sock: s})
	return sid, nil
}

// UDPBind synchronously creates and binds a UDP socket, allocates a
// pool slot, and returns its sid, deferring only poller registration
// to the Reactor goroutine — mirroring socket_udp_bind's split.
func (r *Reactor) UDPBind(ip, port string) (uint64, error) {
	sa, family, err := resolveSockaddr(ip, port)
	if err != nil {
		return 0, reactorcore.NewError("udp-bind", 0, reactorcore.ErrAddrInfo, 0, err)
	}
	fd, err := unix.Socket(family, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0, reactorcore.NewError("udp-bind", 0, reactorcore.CodeNone, 0, err)
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return 0, reactorcore.NewError("udp-bind", 0, reactorcore.CodeNone, 0, err)
	}
	unix.SetNonblock(fd, true)

	s, err := r.pool.Alloc(fd, pool.TypeUDPListen)
	if err != nil {
		unix.Close(fd)
		return 0, reactorcore.NewError("udp-bind", 0, reactorcore.ErrNoSocket, 0, err)
	}
	s.SetState(pool.StateListening)
	sid := s.SID()
	r.push(command{kind: cmdUDPBind, sid: sid, sock: s})
	return sid, nil
}

// TCPConnect synchronously creates the socket and applies the local
// bind (bindIP/bindPort may be empty to let the OS choose), allocates a
// pool slot, and returns its sid immediately — mirroring
// socket_tcp_connect's split exactly: the connect(2) itself may block,
// so that, and only that, remains queued for the Reactor goroutine.
func (r *Reactor) TCPConnect(ip, port, bindIP, bindPort string) (uint64, error) {
	sa, family, err := resolveSockaddr(ip, port)
	if err != nil {
		return 0, reactorcore.NewError("tcp-connect", 0, reactorcore.ErrAddrInfo, 0, err)
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, reactorcore.NewError("tcp-connect", 0, reactorcore.CodeNone, 0, err)
	}
	if bindIP != "" || bindPort != "" {
		if bsa, _, err := resolveSockaddr(bindIP, bindPort); err == nil {
			unix.Bind(fd, bsa)
		}
	}
	unix.SetNonblock(fd, true)
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	s, err := r.pool.Alloc(fd, pool.TypeTCPConn)
	if err != nil {
		unix.Close(fd)
		return 0, reactorcore.NewError("tcp-connect", 0, reactorcore.ErrNoSocket, 0, err)
	}
	s.SetState(pool.StateConnecting)
	sid := s.SID()
	r.push(command{kind: cmdTCPConnect, sid: sid, sock: s, connAddr: sa})
	return sid, nil
}

// UDPConnect synchronously creates the socket, applies the local bind,
// and connect(2)s it (a UDP connect never blocks), allocates a pool
// slot, and returns its sid — mirroring socket_udp_connect, which does
// the same connect(2) on the calling thread; only poller registration
// remains for the Reactor goroutine.
func (r *Reactor) UDPConnect(ip, port, bindIP, bindPort string) (uint64, error) {
	sa, family, err := resolveSockaddr(ip, port)
	if err != nil {
		return 0, reactorcore.NewError("udp-connect", 0, reactorcore.ErrAddrInfo, 0, err)
	}
	fd, err := unix.Socket(family, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0, reactorcore.NewError("udp-connect", 0, reactorcore.CodeNone, 0, err)
	}
	if bindIP != "" || bindPort != "" {
		if bsa, _, err := resolveSockaddr(bindIP, bindPort); err == nil {
			unix.Bind(fd, bsa)
		}
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return 0, reactorcore.NewError("udp-connect", 0, reactorcore.CodeNone, 0, err)
	}
	unix.SetNonblock(fd, true)

	s, err := r.pool.Alloc(fd, pool.TypeUDPConn)
	if err != nil {
		unix.Close(fd)
		return 0, reactorcore.NewError("udp-connect", 0, reactorcore.ErrNoSocket, 0, err)
	}
	s.SetState(pool.StateReading)
	sid := s.SID()
	r.push(command{kind: cmdUDPConnect, sid: sid, sock: s})
	return sid, nil
}

// TCPSend enqueues a buffer for sid. finalizer, if non-nil, runs
// exactly once after buf is fully written or discarded.
func (r *Reactor) TCPSend(sid uint64, buf []byte, finalizer func()) {
	r.push(command{kind: cmdTCPSend, sid: sid, buf: buf, finalizer: finalizer})
}

// UDPSend enqueues a datagram for sid, addressed to addr. spec.md
// §4.2: "For UDP-listen, the per-message address is mandatory" — a
// udp-connect socket may pass addr as nil to use its fixed peer.
func (r *Reactor) UDPSend(sid uint64, buf []byte, addr net.Addr, finalizer func()) {
	r.push(command{kind: cmdUDPSend, sid: sid, buf: buf, addr: addr, finalizer: finalizer})
}

// Close requests sid be closed, matching socket_close's synchronous
// three-way branch: the pool state is checked on the calling goroutine
// before anything is queued, so a repeated close on the same sid is
// reported immediately (spec.md §8) instead of silently no-opping deep
// inside the Reactor. Returns nil once a close command has been queued
// (or, if sid was already a zombie, once its slot has been freed
// directly — its fd is already gone, so there is nothing left for the
// Reactor to do), reactorcore.ErrClosing if sid is already closing, or
// reactorcore.ErrClosed if sid is unknown or its slot was already freed.
func (r *Reactor) Close(sid uint64) error {
	s := r.pool.Get(sid)
	if s == nil {
		return reactorcore.NewError("close", sid, reactorcore.ErrClosed, 0, nil)
	}
	switch err := s.MarkClosing(); err {
	case nil:
		r.push(command{kind: cmdClose, sid: sid})
		return nil
	case pool.ErrClosing:
		return reactorcore.NewError("close", sid, reactorcore.ErrClosing, 0, nil)
	case pool.ErrClosed:
		// the fd is already gone (zombify already closed it, removed
		// it from fdIndex, and nulled WriteList) and nothing else ever
		// touches a zombie slot again, so Free is safe to call directly
		// here instead of round-tripping a command that would only
		// repeat this same check on the Reactor goroutine.
		r.pool.Free(s)
		return nil
	default:
		return reactorcore.NewError("close", sid, reactorcore.CodeNone, 0, err)
	}
}

// ReadEnable toggles read interest for sid.
func (r *Reactor) ReadEnable(sid uint64, enable bool) {
	r.push(command{kind: cmdReadEnable, sid: sid, enable: enable})
}

// Exit enqueues the exit command, which causes Run to return as soon as
// the command processor reaches it; commands queued after it in the
// same batch are not executed.
func (r *Reactor) Exit() {
	r.push(command{kind: cmdExit})
}

// push appends cmd to the FlipBuf and fires the trigger iff the buffer
// had been empty, matching flipbuf.Write's "wasEmpty" contract.
func (r *Reactor) push(cmd command) {
	r.metrics.CommandsRequested.Add(1)
	wasEmpty, err := r.cmds.Write(cmd)
	if err != nil {
		r.logger.Warn("reactor: command dropped, buffer full", "kind", cmd.kind)
		return
	}
	if wasEmpty {
		if err := r.trig.Fire(); err != nil {
			r.logger.Warn("reactor: trigger fire failed", "error", err.Error())
		}
	}
}
