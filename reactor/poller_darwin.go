//go:build darwin

package reactor

import (
	"sync"

	"golang.org/x/sys/unix"
)

// kqueuePoller is the Darwin/BSD Poller, ported from the
// RegisterFD/ModifyFD/PollIO shape of
// joeycumines-go-utilpkg/eventloop's poller_darwin.go. kqueue tracks
// read and write interest as independent filters, so Add/Modify/Remove
// diff against the previously-registered interest to emit only the
// EV_ADD/EV_DELETE changes needed, exactly as that file's ModifyFD
// does.
type kqueuePoller struct {
	mu        sync.Mutex
	kq        int
	closed    bool
	interests map[int]kqInterest
}

type kqInterest struct {
	readable bool
	writable bool
}

// newPlatformPoller constructs the Darwin/BSD kqueue-backed Poller.
func newPlatformPoller() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{kq: kq, interests: make(map[int]kqInterest)}, nil
}

func kqueueChanges(fd int, from, to kqInterest) []unix.Kevent_t {
	var changes []unix.Kevent_t
	if to.readable && !from.readable {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE})
	} else if !to.readable && from.readable {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if to.writable && !from.writable {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_ENABLE})
	} else if !to.writable && from.writable {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}
	return changes
}

func (p *kqueuePoller) apply(fd int, to kqInterest) error {
	from := p.interests[fd]
	changes := kqueueChanges(fd, from, to)
	if to == (kqInterest{}) {
		delete(p.interests, fd)
	} else {
		p.interests[fd] = to
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Add(fd int, readable, writable bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	return p.apply(fd, kqInterest{readable: readable, writable: writable})
}

func (p *kqueuePoller) Modify(fd int, readable, writable bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	return p.apply(fd, kqInterest{readable: readable, writable: writable})
}

func (p *kqueuePoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	return p.apply(fd, kqInterest{})
}

func (p *kqueuePoller) Wait(timeoutMS int, dst []Event) (int, error) {
	p.mu.Lock()
	kq := p.kq
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, ErrPollerClosed
	}

	n := len(dst)
	if n > maxPollEvents {
		n = maxPollEvents
	}
	raw := make([]unix.Kevent_t, n)

	var ts *unix.Timespec
	if timeoutMS >= 0 {
		ts = &unix.Timespec{Sec: int64(timeoutMS / 1000), Nsec: int64((timeoutMS % 1000) * 1000000)}
	}

	count, err := unix.Kevent(kq, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < count; i++ {
		ev := Event{FD: int(raw[i].Ident)}
		switch raw[i].Filter {
		case unix.EVFILT_READ:
			ev.Readable = true
		case unix.EVFILT_WRITE:
			ev.Writable = true
		}
		if raw[i].Flags&unix.EV_ERROR != 0 {
			ev.Error = true
		}
		if raw[i].Flags&unix.EV_EOF != 0 {
			ev.Hangup = true
		}
		dst[i] = ev
	}
	return count, nil
}

func (p *kqueuePoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.kq)
}
