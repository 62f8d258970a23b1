// Package timer implements the hierarchical timer wheel: a root ring
// of 256 slots plus four cascade levels of 64 slots each, driven by one
// goroutine that ticks once per resolution unit, processes a batch of
// add/cancel commands, and emits timer-expire messages onto the bus.
//
// Grounded on original_source/src/timer.c in full: the SR_BITS/SL_BITS
// bucket-selection arithmetic in add_node, the expire/cascade/update
// tick algorithm, and the version-gated cancellation protocol are all
// ported with the same constants and the same order of operations.
package timer

import (
	"sync/atomic"
	"time"

	"github.com/copperhead-labs/reactorcore/bus"
	"github.com/copperhead-labs/reactorcore/internal/flipbuf"
	"github.com/copperhead-labs/reactorcore/logging"
)

const (
	srBits = 8
	slBits = 6
	srSize = 1 << srBits
	slSize = 1 << slBits
	srMask = srSize - 1
	slMask = slSize - 1
)

// DefaultResolution matches spec.md §4.3's "10 ms typical".
const DefaultResolution = 10 * time.Millisecond

// DelayWarning is the elapsed-tick threshold past which Tick logs a
// single warning per call, per spec.md §4.3 "Delay warning".
const DelayWarning = 100 * time.Millisecond

type opType uint8

const (
	opAfter opType = iota
	opCancel
	opExit
)

type command struct {
	op            opType
	afterNode     *node
	cancelNode    *node
	cancelVersion uint32
}

// Stat is a point-in-time snapshot of the wheel's atomic counters,
// spec.md §4.3: "scheduled, pending, fired, cancelled".
type Stat struct {
	Scheduled uint64
	Pending   uint64
	Fired     uint64
	Cancelled uint64
}

// Wheel is the hierarchical timer wheel. Only the goroutine that calls
// Tick may touch root/level/jiffies; After and Cancel are safe from any
// goroutine.
type Wheel struct {
	pool   *nodePool
	cmdbuf *flipbuf.T[command]

	startWall   uint64 // wall-clock ms at startup
	jiffies     uint32
	tickTimeMS  atomic.Uint64 // committed each Tick; read (relaxed) by After from any goroutine
	monotonicMS atomic.Uint64
	epoch       time.Time // the instant Tick treats as elapsed==0; set on first Tick call

	root  [srSize]list
	level [4][slSize]list

	resolution time.Duration

	scheduled atomic.Uint64
	pending   atomic.Uint64
	fired     atomic.Uint64
	cancelled atomic.Uint64

	queue    *bus.Queue
	registry *bus.Registry
	logger   *logging.Logger
}

// Option configures a Wheel at construction.
type Option func(*Wheel)

// WithResolution overrides DefaultResolution.
func WithResolution(d time.Duration) Option {
	return func(w *Wheel) { w.resolution = d }
}

// WithLogger overrides the default logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Wheel) { w.logger = l }
}

// New constructs a Wheel bound to the given outgoing message queue and
// type registry. nowWallMS is the caller-supplied wall-clock start
// time (spec.md's startwall), so that timestamps used by scripts'
// now() are deterministic in tests.
func New(queue *bus.Queue, registry *bus.Registry, nowWallMS uint64, opts ...Option) *Wheel {
	w := &Wheel{
		pool:       newNodePool(),
		cmdbuf:     flipbuf.New[command](0),
		startWall:  nowWallMS,
		resolution: DefaultResolution,
		queue:      queue,
		registry:   registry,
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Now returns the current wall-clock time in ms, spec.md §4.3's
// time API.
func (w *Wheel) Now() uint64 { return w.startWall + w.monotonicMS.Load() }

// Monotonic returns jiffy-aligned elapsed ms since startup.
func (w *Wheel) Monotonic() uint64 { return w.monotonicMS.Load() }

// Stat returns a snapshot of the wheel's counters. Safe from any
// goroutine: each field is an independent atomic load, matching
// spec.md §5's "Statistics counters: atomic relaxed loads/stores"
// (the four counters are not read as a single consistent unit even in
// the original).
func (w *Wheel) Stat() Stat {
	return Stat{
		Scheduled: w.scheduled.Load(),
		Pending:   w.pending.Load(),
		Fired:     w.fired.Load(),
		Cancelled: w.cancelled.Load(),
	}
}

// After schedules a one-shot timeout and returns its session handle
// immediately; the actual link into the wheel happens asynchronously
// when Tick next drains the command buffer, exactly as spec.md §3's
// Timer Node lifecycle describes. Safe from any goroutine.
func (w *Wheel) After(timeout time.Duration) uint64 {
	n := w.pool.alloc()
	n.state = nodeAdding
	resMS := uint64(w.resolution / time.Millisecond)
	deadlineMS := w.tickTimeMS.Load() + uint64(timeout/time.Millisecond) + resMS - 1
	n.expire = uint32(deadlineMS / resMS)
	sess := n.session()
	w.cmdbuf.Write(command{op: opAfter, afterNode: n})
	w.scheduled.Add(1)
	w.pending.Add(1)
	return sess
}

// Cancel attempts to cancel a previously scheduled timeout. Returns
// false immediately (no command enqueued) if the session's version no
// longer matches the live node — spec.md §4.3: "If mismatch, return
// false (already fired or reused)."
func (w *Wheel) Cancel(session uint64) bool {
	version := sessionVersion(session)
	cookie := sessionCookie(session)
	n := w.pool.locate(cookie)
	if n.version.Load() != version {
		w.logger.Warn("timer cancel session invalid", "version", version, "cookie", cookie)
		return false
	}
	w.cmdbuf.Write(command{op: opCancel, cancelNode: n, cancelVersion: version})
	return true
}

// Stop enqueues an exit command; the next Tick call returns false.
func (w *Wheel) Stop() {
	w.cmdbuf.Write(command{op: opExit})
}
