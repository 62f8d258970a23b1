// Package trigger implements a self-pipe plus atomic "fired" flag: the
// wake-up primitive that lets a FlipBuf writer pull an owner thread out
// of its blocking poll exactly once per batch, no matter how many
// writers fired concurrently.
//
// Grounded on original_source/src/trigger.h; ported to golang.org/x/sys/unix
// following the pipe/eventfd split in joeycumines-go-utilpkg/eventloop's
// per-platform wakeup_*.go files.
package trigger

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// T is a one-shot wake-up signal. The zero value is not usable; call
// New to construct one.
type T struct {
	readFD  int
	writeFD int
	fired   atomic.Bool
}

// New creates a trigger backed by a non-blocking pipe.
func New() (*T, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, err
		}
		unix.CloseOnExec(fd)
	}
	return &T{readFD: fds[0], writeFD: fds[1]}, nil
}

// FD returns the file descriptor the owner thread should register for
// readability with its poller.
func (t *T) FD() int { return t.readFD }

// Close releases both pipe ends. Not safe to call concurrently with
// Fire or Consume.
func (t *T) Close() error {
	err1 := unix.Close(t.writeFD)
	err2 := unix.Close(t.readFD)
	if err1 != nil {
		return err1
	}
	return err2
}

// Fire wakes the owner thread. Multiple concurrent fires collapse into
// a single pending wake-up; the owner must Consume fully before it next
// blocks, or it may miss a coalesced fire.
func (t *T) Fire() error {
	var b [1]byte
	b[0] = 0xef
	for {
		_, err := unix.Write(t.writeFD, b[:])
		if err == nil {
			t.fired.Store(true)
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			// pipe buffer already has a pending byte; a wake-up is
			// already in flight, nothing further to do.
			t.fired.Store(true)
			return nil
		}
		return err
	}
}

// Consume drains the pipe and clears the fired flag, returning whether
// there was anything to drain. Safe to call speculatively before
// blocking in a poll; a false result means no wake-up is pending.
func (t *T) Consume() (bool, error) {
	if !t.fired.Load() {
		return false, nil
	}
	var buf [64]byte
	drained := false
	for {
		n, err := unix.Read(t.readFD, buf[:])
		if n > 0 {
			drained = true
		}
		if err == nil {
			if n < len(buf) {
				break
			}
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		return drained, err
	}
	t.fired.Store(false)
	return drained, nil
}

// IsFired reports whether a wake-up is currently pending, without
// consuming it.
func (t *T) IsFired() bool {
	return t.fired.Load()
}
