//go:build linux

package reactor

import (
	"sync"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux Poller, ported from the RegisterFD/ModifyFD/
// PollIO shape of joeycumines-go-utilpkg/eventloop's poller_linux.go,
// simplified from that file's fixed-array FastPoller to no interest set
// of its own, since reactor tracks interest in pool.Socket already and
// does not need FastPoller's O(1)-array lookup on the hot dispatch path.
type epollPoller struct {
	mu     sync.Mutex
	epfd   int
	closed bool
}

// newPlatformPoller constructs the Linux epoll-backed Poller.
func newPlatformPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: fd}, nil
}

func epollEvents(readable, writable bool) uint32 {
	var ev uint32
	if readable {
		ev |= unix.EPOLLIN
	}
	if writable {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) Add(fd int, readable, writable bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	ev := &unix.EpollEvent{Events: epollEvents(readable, writable), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev)
}

func (p *epollPoller) Modify(fd int, readable, writable bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	ev := &unix.EpollEvent{Events: epollEvents(readable, writable), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

func (p *epollPoller) Wait(timeoutMS int, dst []Event) (int, error) {
	p.mu.Lock()
	fd := p.epfd
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, ErrPollerClosed
	}

	n := len(dst)
	if n > maxPollEvents {
		n = maxPollEvents
	}
	raw := make([]unix.EpollEvent, n)
	count, err := unix.EpollWait(fd, raw, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < count; i++ {
		dst[i] = Event{
			FD:       int(raw[i].Fd),
			Readable: raw[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: raw[i].Events&unix.EPOLLOUT != 0,
			Error:    raw[i].Events&unix.EPOLLERR != 0,
			Hangup:   raw[i].Events&unix.EPOLLHUP != 0,
		}
	}
	return count, nil
}

func (p *epollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.epfd)
}
