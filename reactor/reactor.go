package reactor

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-catrate"

	"github.com/copperhead-labs/reactorcore/bus"
	"github.com/copperhead-labs/reactorcore/internal/flipbuf"
	"github.com/copperhead-labs/reactorcore/internal/trigger"
	"github.com/copperhead-labs/reactorcore/logging"
	"github.com/copperhead-labs/reactorcore/metrics"
	"github.com/copperhead-labs/reactorcore/pool"
)

const (
	// pollTimeout bounds how long a Wait call blocks with nothing
	// pending; short enough that Run notices a stop signal promptly.
	pollTimeout = 200 * time.Millisecond
	// readScratchSize matches the original's per-iteration reusable
	// read buffer (spec.md §4.2: "read until EAGAIN into a reusable
	// scratch buffer, copy into a heap buffer per batch").
	readScratchSize = 64 * 1024
)

// Reactor owns the readiness multiplexer and every live socket fd. All
// of its unexported fields, and pool.Socket fields for slots it owns,
// are touched only from the goroutine running Run; the public command
// methods (TCPListen, TCPSend, Close, ...) are the only safe way in
// from other goroutines.
type Reactor struct {
	pool     *pool.Pool
	queue    *bus.Queue
	registry *bus.Registry
	metrics  *metrics.Reactor
	logger   *logging.Logger

	poller Poller
	trig   *trigger.T
	cmds   *flipbuf.T[command]

	fdIndex map[int]*pool.Socket

	emfileLimiter *catrate.Limiter
	reserveFD     int

	scratch []byte
	events  []Event
}

// Option configures a Reactor at construction.
type Option func(*Reactor)

// WithLogger overrides the default logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Reactor) { r.logger = l }
}

// New constructs a Reactor, opening the platform poller, the ctrl-pipe
// trigger, and the EMFILE reserve fd (spec.md §4.2's "fd reservation
// trick").
func New(p *pool.Pool, q *bus.Queue, reg *bus.Registry, m *metrics.Reactor, opts ...Option) (*Reactor, error) {
	poller, err := newPlatformPoller()
	if err != nil {
		return nil, err
	}
	trig, err := trigger.New()
	if err != nil {
		poller.Close()
		return nil, err
	}
	reserveFD, err := unix.Open("/dev/null", unix.O_RDONLY, 0)
	if err != nil {
		trig.Close()
		poller.Close()
		return nil, err
	}

	r := &Reactor{
		pool:          p,
		queue:         q,
		registry:      reg,
		metrics:       m,
		logger:        logging.Default(),
		poller:        poller,
		trig:          trig,
		cmds:          flipbuf.New[command](0),
		fdIndex:       make(map[int]*pool.Socket),
		emfileLimiter: catrate.NewLimiter(map[time.Duration]int{10 * time.Second: 1}),
		reserveFD:     reserveFD,
		scratch:       make([]byte, readScratchSize),
		events:        make([]Event, maxPollEvents),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.poller.Add(trig.FD(), true, false); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the poller, trigger, and reserve fd. Call only after
// Run has returned.
func (r *Reactor) Close() error {
	unix.Close(r.reserveFD)
	r.trig.Close()
	return r.poller.Close()
}

// Run executes the poll loop (spec.md §4.2) until the exit command is
// processed or stop is closed.
func (r *Reactor) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		exit, err := r.step(int(pollTimeout.Milliseconds()))
		if err != nil {
			return err
		}
		if exit {
			return nil
		}
	}
}

// step runs exactly one poll-loop iteration (spec.md §4.2): wait,
// process the command batch, then dispatch ready events. Split out of
// Run so package tests can single-step the loop deterministically.
func (r *Reactor) step(timeoutMS int) (exit bool, err error) {
	n, err := r.poller.Wait(timeoutMS, r.events)
	if err != nil {
		return false, err
	}

	// Commands are processed once per wait, unconditionally, mirroring
	// original_source/src/silly_socket.c's socket_poll: eventwait() is
	// always followed by op_process() regardless of whether the ctrl
	// pipe's fd was in the ready set this round.
	r.trig.Consume()
	if r.processCommands() {
		return true, nil
	}

	for i := 0; i < n; i++ {
		ev := r.events[i]
		if ev.FD == r.trig.FD() {
			continue
		}
		r.handleEvent(ev)
	}
	return false, nil
}

// handleEvent branches on the ready socket's type, per spec.md §4.2's
// poll-loop step 3.
func (r *Reactor) handleEvent(ev Event) {
	s, ok := r.fdIndex[ev.FD]
	if !ok {
		return
	}
	sid := s.SID()
	if s.State().Has(pool.StateZombie) {
		return
	}

	switch s.Type {
	case pool.TypeTCPListen:
		if ev.Readable {
			r.execAccept(s)
		}
	case pool.TypeTCPConn:
		r.handleTCPConnEvent(s, sid, ev)
	case pool.TypeUDPListen, pool.TypeUDPConn:
		r.handleUDPEvent(s, sid, ev)
	}
}
