package reactor

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	reactorcore "github.com/copperhead-labs/reactorcore"
	"github.com/copperhead-labs/reactorcore/bus"
	"github.com/copperhead-labs/reactorcore/pool"
)

// processCommands flips the command FlipBuf and executes every record
// in order, matching original_source/src/silly_socket.c's op_process:
// a stale or unknown sid drops the command (finalizing any buffer) with
// a log line rather than aborting the batch. Returns true iff an exit
// command was processed.
func (r *Reactor) processCommands() bool {
	batch := r.cmds.Flip()
	for _, cmd := range batch {
		r.metrics.CommandsProcessed.Add(1)

		if cmd.kind == cmdExit {
			return true
		}
		if cmd.kind == cmdTCPListen || cmd.kind == cmdUDPBind ||
			cmd.kind == cmdTCPConnect || cmd.kind == cmdUDPConnect {
			r.execCreate(cmd)
			continue
		}

		s := r.pool.Get(cmd.sid)
		if s == nil || (cmd.kind != cmdClose && s.State().Has(pool.StateZombie)) {
			if cmd.finalizer != nil {
				cmd.finalizer()
			}
			r.logger.Warn("reactor: command dropped, stale sid", "sid", cmd.sid, "kind", cmd.kind)
			continue
		}

		switch cmd.kind {
		case cmdTCPSend:
			r.execTCPSend(s, cmd)
		case cmdUDPSend:
			r.execUDPSend(s, cmd)
		case cmdClose:
			r.execClose(s)
		case cmdReadEnable:
			r.setReading(s, cmd.enable)
		}
	}
	return false
}

// execCreate handles the four commands that create a fresh fd and pool
// slot: tcp-listen, udp-bind, tcp-connect, udp-connect.
func (r *Reactor) execCreate(cmd command) {
	switch cmd.kind {
	case cmdTCPListen:
		r.execTCPListen(cmd)
	case cmdUDPBind:
		r.execUDPBind(cmd)
	case cmdTCPConnect:
		r.execTCPConnect(cmd)
	case cmdUDPConnect:
		r.execUDPConnect(cmd)
	}
}

// execTCPListen finishes what TCPListen already synchronously created
// and allocated: register the fd with the poller and report the
// result. bind/listen/pool.Alloc failures never reach here — TCPListen
// returns them to the caller directly and never enqueues a command.
func (r *Reactor) execTCPListen(cmd command) {
	s := cmd.sock
	r.fdIndex[s.FD] = s
	if err := r.poller.Add(s.FD, true, false); err != nil {
		r.freeSocket(s)
		r.emit(bus.NewTCPListenResult(0, err.Error()))
		return
	}
	r.emit(bus.NewTCPListenResult(s.SID(), ""))
}

// execUDPBind mirrors execTCPListen for a udp-bind command.
func (r *Reactor) execUDPBind(cmd command) {
	s := cmd.sock
	r.fdIndex[s.FD] = s
	if err := r.poller.Add(s.FD, true, false); err != nil {
		r.freeSocket(s)
		r.emit(bus.NewUDPListenResult(0, err.Error()))
		return
	}
	r.emit(bus.NewUDPListenResult(s.SID(), ""))
}

// bindAndListen binds, applies SO_REUSEADDR, and listens, matching
// dolisten/bindfd in silly_socket.c. Touches only fd, so it is safe to
// call from whatever goroutine is creating the socket.
func bindAndListen(fd int, sa unix.Sockaddr, backlog int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	if err := unix.Bind(fd, sa); err != nil {
		return err
	}
	if backlog <= 0 {
		backlog = 256
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return err
	}
	return unix.SetNonblock(fd, true)
}

// execTCPConnect finishes what TCPConnect already synchronously
// created and allocated: issue the connect(2) that may block, register
// the fd with the poller, and report the result. Address resolution,
// socket(2), the local bind, and pool.Alloc failures never reach here.
func (r *Reactor) execTCPConnect(cmd command) {
	s := cmd.sock
	r.fdIndex[s.FD] = s

	connErr := unix.Connect(s.FD, cmd.connAddr)
	if connErr != nil && connErr != unix.EINPROGRESS {
		r.emit(&bus.SocketConnect{SID: s.SID(), Err: connErr.Error()})
		r.freeSocket(s)
		return
	}
	if err := r.poller.Add(s.FD, false, true); err != nil {
		r.emit(&bus.SocketConnect{SID: s.SID(), Err: err.Error()})
		r.freeSocket(s)
		return
	}
	if connErr == unix.EINPROGRESS {
		s.SetState(pool.StateConnecting | pool.StateWriting)
		return
	}
	// connected immediately (rare but possible for loopback)
	s.SetState(pool.StateWriting)
	r.emit(&bus.SocketConnect{SID: s.SID()})
}

// execUDPConnect finishes what UDPConnect already synchronously did
// (socket(2), bind, connect(2)): only poller registration remains.
func (r *Reactor) execUDPConnect(cmd command) {
	s := cmd.sock
	r.fdIndex[s.FD] = s
	if err := r.poller.Add(s.FD, true, false); err != nil {
		r.emit(&bus.SocketConnect{SID: s.SID(), Err: err.Error()})
		r.freeSocket(s)
		return
	}
	r.emit(&bus.SocketConnect{SID: s.SID()})
}

// execAccept implements exec_accept, including the EMFILE/ENFILE
// fd-reservation trick: close the reserve fd to free one descriptor,
// accept-and-immediately-close the offending connection so the kernel
// drops it from the listen backlog, then reopen the reserve.
func (r *Reactor) execAccept(listen *pool.Socket) {
	for {
		fd, sa, err := unix.Accept(listen.FD)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EMFILE || err == unix.ENFILE {
				r.handleFDExhaustion(listen)
				return
			}
			return
		}
		unix.SetNonblock(fd, true)
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		var peer string
		if addr := sockaddrToAddr(sa, "tcp"); addr != nil {
			peer = addr.String()
		}

		s, err := r.pool.Alloc(fd, pool.TypeTCPConn)
		if err != nil {
			unix.Close(fd)
			r.logger.Warn("reactor: accept pool_alloc failed", "error", err.Error())
			return
		}
		r.fdIndex[fd] = s
		if err := r.poller.Add(fd, true, false); err != nil {
			r.freeSocket(s)
			return
		}
		s.SetState(pool.StateReading)
		r.metrics.Accepted.Add(1)
		r.emit(&bus.TCPAccept{NewSID: s.SID(), ListenSID: listen.SID(), PeerAddr: peer})
		return
	}
}

func (r *Reactor) handleFDExhaustion(listen *pool.Socket) {
	r.metrics.EMFILEEvents.Add(1)
	unix.Close(r.reserveFD)
	fd, _, err := unix.Accept(listen.FD)
	if err == nil {
		unix.Close(fd)
	}
	if _, ok := r.emfileLimiter.Allow("emfile"); ok {
		r.logger.Warn("reactor: accept reached file descriptor limit")
	}
	r.reserveFD, _ = unix.Open("/dev/null", unix.O_RDONLY, 0)
}

func (r *Reactor) handleTCPConnEvent(s *pool.Socket, sid uint64, ev Event) {
	if s.State().Has(pool.StateConnecting) {
		s.SetState(s.State() &^ pool.StateConnecting)
		errno, _ := unix.GetsockoptInt(s.FD, unix.SOL_SOCKET, unix.SO_ERROR)
		if errno != 0 {
			r.emit(&bus.SocketConnect{SID: sid, Err: syscall.Errno(errno).Error()})
			r.freeSocket(s)
			return
		}
		if len(s.WriteList) == 0 {
			r.setWriting(s, false)
		}
		s.SetState(s.State() | pool.StateReading)
		r.poller.Modify(s.FD, true, s.State().Has(pool.StateWriting))
		r.emit(&bus.SocketConnect{SID: sid})
		return
	}

	eof := false
	var readErr error
	hasMore := false
	if ev.Readable {
		eof, readErr, hasMore = r.drainTCPRead(s, sid)
	}
	if ev.Writable {
		if werr := r.drainWriteList(s); werr != nil {
			readErr = werr
		}
	}
	if hasMore {
		// more data may be pending; defer error handling to the next
		// readiness notification, matching forward_msg_tcp's READ_SOME
		// continuation semantics.
		return
	}
	if readErr == nil && ev.Error {
		errno, _ := unix.GetsockoptInt(s.FD, unix.SOL_SOCKET, unix.SO_ERROR)
		if errno != 0 {
			readErr = syscall.Errno(errno)
		}
	}
	if readErr != nil {
		r.emit(&bus.SocketClose{SID: sid, Err: readErr.Error()})
		r.zombify(s)
	} else if eof || ev.Hangup {
		r.emit(&bus.SocketClose{SID: sid, Err: reactorcore.ErrEOF.String()})
		r.zombify(s)
	}
}

// drainTCPRead performs one read syscall (retrying only on EINTR) and
// emits its bytes as one tcp-data message; it does not loop until
// EAGAIN. When the scratch buffer fills, the remaining bytes are read
// on the poller's next (level-triggered) readiness report. Returns
// whether EOF was observed,
// any hard error, and whether the socket buffer was fully drained
// (false) or may still have more ready (true, when the scratch buffer
// filled completely on the last read).
func (r *Reactor) drainTCPRead(s *pool.Socket, sid uint64) (eof bool, err error, hasMore bool) {
	for {
		n, rerr := unix.Read(s.FD, r.scratch)
		if rerr != nil {
			if rerr == unix.EINTR {
				continue
			}
			if rerr == unix.EAGAIN {
				return false, nil, false
			}
			return false, rerr, false
		}
		if n == 0 {
			return true, nil, false
		}
		payload := make([]byte, n)
		copy(payload, r.scratch[:n])
		r.metrics.BytesRead.Add(uint64(n))
		r.emit(&bus.TCPData{SID: sid, Payload: payload})
		if n >= len(r.scratch) {
			return false, nil, true
		}
		return false, nil, false
	}
}

func (r *Reactor) handleUDPEvent(s *pool.Socket, sid uint64, ev Event) {
	if ev.Readable {
		r.drainUDPRead(s, sid)
	}
	if ev.Writable {
		r.drainWriteList(s)
	}
	if ev.Error {
		errno, _ := unix.GetsockoptInt(s.FD, unix.SOL_SOCKET, unix.SO_ERROR)
		r.emit(&bus.SocketClose{SID: sid, Err: syscall.Errno(errno).Error()})
		r.zombify(s)
	}
}

const maxUDPPacket = 65507

func (r *Reactor) drainUDPRead(s *pool.Socket, sid uint64) {
	buf := make([]byte, maxUDPPacket)
	for {
		n, from, err := unix.Recvfrom(s.FD, buf, 0)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		r.metrics.BytesRead.Add(uint64(n))
		var sender net.Addr
		if from != nil {
			sender = sockaddrToAddr(from, "udp")
		}
		r.emit(&bus.UDPData{SID: sid, Payload: payload, Sender: sender})
		return
	}
}

func (r *Reactor) execTCPSend(s *pool.Socket, cmd command) {
	if len(cmd.buf) == 0 {
		if cmd.finalizer != nil {
			cmd.finalizer()
		}
		return
	}
	if len(s.WriteList) == 0 && !s.State().Has(pool.StateConnecting) {
		n, err := writeAll(s.FD, cmd.buf)
		if err != nil {
			if cmd.finalizer != nil {
				cmd.finalizer()
			}
			r.emit(&bus.SocketClose{SID: s.SID(), Err: err.Error()})
			r.zombify(s)
			return
		}
		r.metrics.BytesWritten.Add(uint64(n))
		if n == len(cmd.buf) {
			if cmd.finalizer != nil {
				cmd.finalizer()
			}
			return
		}
		s.WriteList = append(s.WriteList, pool.WriteBuf{Data: cmd.buf, Offset: n, Finalizer: cmd.finalizer})
		r.setWriting(s, true)
		return
	}
	s.WriteList = append(s.WriteList, pool.WriteBuf{Data: cmd.buf, Offset: 0, Finalizer: cmd.finalizer})
}

func (r *Reactor) execUDPSend(s *pool.Socket, cmd command) {
	if len(s.WriteList) == 0 {
		err := unix.Sendto(s.FD, cmd.buf, 0, addrToSockaddr(cmd.addr))
		if err == nil {
			r.metrics.BytesWritten.Add(uint64(len(cmd.buf)))
			if cmd.finalizer != nil {
				cmd.finalizer()
			}
			return
		}
		if err != unix.EAGAIN {
			if cmd.finalizer != nil {
				cmd.finalizer()
			}
			return
		}
	}
	s.WriteList = append(s.WriteList, pool.WriteBuf{Data: cmd.buf, Finalizer: cmd.finalizer, Addr: cmd.addr})
	r.setWriting(s, true)
}

// drainWriteList flushes as much of the pending write queue as the
// socket will currently accept.
func (r *Reactor) drainWriteList(s *pool.Socket) error {
	for len(s.WriteList) > 0 {
		w := &s.WriteList[0]
		remaining := w.Data[w.Offset:]
		var n int
		var err error
		if s.Type == pool.TypeTCPConn {
			n, err = unix.Write(s.FD, remaining)
		} else {
			// sendto either transmits the whole datagram or fails; there
			// is no partial-write return value to account for.
			if err = unix.Sendto(s.FD, remaining, 0, addrToSockaddr(w.Addr)); err == nil {
				n = len(remaining)
			}
		}
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			return err
		}
		r.metrics.BytesWritten.Add(uint64(n))
		w.Offset += n
		if w.Offset >= len(w.Data) {
			if w.Finalizer != nil {
				w.Finalizer()
			}
			s.WriteList = s.WriteList[1:]
		} else {
			break
		}
	}
	if len(s.WriteList) == 0 {
		r.setWriting(s, false)
		if s.State().Has(pool.StateClosing) {
			r.freeSocket(s)
		}
	}
	return nil
}

func writeAll(fd int, buf []byte) (int, error) {
	n, err := unix.Write(fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// execClose runs once Close's synchronous pre-check has already
// CASed Closing|MuteClose into the socket's atomic state mirror and
// queued this command; FoldState copies that into localState now that
// the Reactor is the only goroutine touching this slot again, then the
// rest follows the original's close choreography: an empty write-list
// frees immediately, otherwise read interest is dropped and the free is
// deferred until drainWriteList empties it. A zombie observed here (the
// socket errored out between Close's check and this command running)
// still just frees, the same as before.
func (r *Reactor) execClose(s *pool.Socket) {
	if s.FoldState().Has(pool.StateZombie) {
		r.freeSocket(s)
		return
	}
	if len(s.WriteList) == 0 {
		r.freeSocket(s)
		return
	}
	r.setReading(s, false)
}

func (r *Reactor) setReading(s *pool.Socket, enable bool) {
	if enable {
		s.SetState(s.State() | pool.StateReading)
	} else {
		s.SetState(s.State() &^ pool.StateReading)
	}
	r.poller.Modify(s.FD, s.State().Has(pool.StateReading), s.State().Has(pool.StateWriting))
}

func (r *Reactor) setWriting(s *pool.Socket, enable bool) {
	if enable {
		s.SetState(s.State() | pool.StateWriting)
	} else {
		s.SetState(s.State() &^ pool.StateWriting)
	}
	r.poller.Modify(s.FD, s.State().Has(pool.StateReading), s.State().Has(pool.StateWriting))
}

// zombify retires a socket's fd and write list but keeps its pool slot
// live until the script observes the close, matching spec.md §4.2's
// TCP close choreography.
func (r *Reactor) zombify(s *pool.Socket) {
	for _, w := range s.WriteList {
		if w.Finalizer != nil {
			w.Finalizer()
		}
	}
	s.WriteList = nil
	r.poller.Remove(s.FD)
	delete(r.fdIndex, s.FD)
	unix.Close(s.FD)
	s.FD = -1
	s.SetState(s.State() | pool.StateZombie)
}

// freeSocket fully retires a slot: drains any write list, deregisters
// from the poller, closes the fd, and returns it to the pool.
func (r *Reactor) freeSocket(s *pool.Socket) {
	for _, w := range s.WriteList {
		if w.Finalizer != nil {
			w.Finalizer()
		}
	}
	s.WriteList = nil
	if s.FD >= 0 {
		r.poller.Remove(s.FD)
		delete(r.fdIndex, s.FD)
		unix.Close(s.FD)
	}
	r.pool.Free(s)
}

// emit tags msg with its TypeID and pushes it onto the bus queue.
func (r *Reactor) emit(msg bus.Message) {
	r.registry.Tag(msg)
	r.queue.Push(msg)
}
