// Package worker implements the single-consumer dispatch engine: the
// Worker goroutine drains the message bus in batches and invokes
// whatever ScriptHost callback is registered for each message's
// TypeID.
//
// Grounded on original_source/src/worker.c in full: worker_push's
// doubling queue-depth warning, worker_dispatch's batch-drain loop and
// process_id bookkeeping, worker_alloc_id's wraparound warning, and
// worker_warn_endless's stuck-coroutine diagnostic (adapted below —
// see the doc comment on WarnEndless for why).
package worker

import (
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/copperhead-labs/reactorcore/bus"
	"github.com/copperhead-labs/reactorcore/logging"
	"github.com/copperhead-labs/reactorcore/metrics"
)

// WarningThreshold is the original's WARNING_THRESHOLD: the queue
// depth above which a push logs a warning, doubling each time it's
// crossed again until Dispatch resets it after a fully drained batch.
const WarningThreshold = 64

// Context is the Go analogue of worker.c's singleton `struct worker`:
// the four fixed stack slots (traceback, error_table, callback_table,
// dispatch_wakeup) become, respectively, the panic-recovery boundary
// around each callback, ErrorTable, the ScriptHost's own callback
// table, and ScriptHost.DispatchWakeup.
type Context struct {
	queue    *bus.Queue
	registry *bus.Registry
	host     ScriptHost
	errors   *ErrorTable
	logger   *logging.Logger
	metrics  *metrics.Worker

	processID atomic.Uint32
	genID     atomic.Uint32
	maxMsg    atomic.Int64

	running     atomic.Bool
	endlessRate *catrate.Limiter

	wake chan struct{}

	exitCode      atomic.Int32
	exitRequested chan struct{}
	exitOnce      sync.Once
}

// Option configures a Context at construction.
type Option func(*Context)

// WithLogger overrides the default logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// WithMetrics wires a metrics.Worker block so Push/Dispatch feed the
// same dispatched/dropped/queue-warning counters and batch-latency p99
// the metrics package exposes for the rest of the runtime. Defaults to
// a private metrics.Worker if never set, so Context is always usable
// standalone in tests.
func WithMetrics(m *metrics.Worker) Option {
	return func(c *Context) { c.metrics = m }
}

// New constructs a Context bound to queue/registry/host.
func New(queue *bus.Queue, registry *bus.Registry, host ScriptHost, opts ...Option) *Context {
	c := &Context{
		queue:         queue,
		registry:      registry,
		host:          host,
		errors:        NewErrorTable(),
		logger:        logging.Default(),
		metrics:       metrics.NewWorker(),
		endlessRate:   catrate.NewLimiter(map[time.Duration]int{10 * time.Second: 1}),
		wake:          make(chan struct{}, 1),
		exitRequested: make(chan struct{}),
	}
	c.maxMsg.Store(WarningThreshold)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Errors returns the Context's ErrorTable, for callbacks that need to
// render a *reactorcore.Error into a user-facing string.
func (c *Context) Errors() *ErrorTable { return c.errors }

// Logger returns the Context's logger, for a Bootstrap or callback that
// wants to log through the same sink the dispatch loop itself uses.
func (c *Context) Logger() *logging.Logger { return c.logger }

// Push enqueues msg and wakes the dispatch loop, matching worker_push:
// the doubling-threshold warning fires once per crossing and is reset
// only once Dispatch fully drains the queue.
func (c *Context) Push(msg bus.Message) {
	size := c.queue.Push(msg)
	if max := c.maxMsg.Load(); size > max {
		c.maxMsg.Store(max * 2)
		c.metrics.QueueWarnings.Add(1)
		c.logger.Warn("worker may overload", "queue_length", size)
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// AllocID returns a monotonically increasing 32-bit identifier,
// matching worker_alloc_id; wraparound back to 0 logs a warning
// instead of silently repeating an id a script may still hold live.
func (c *Context) AllocID() uint32 {
	id := c.genID.Add(1)
	if id == 0 {
		c.logger.Warn("worker: id generator wrapped around")
	}
	return id
}

// ProcessID satisfies monitor.ProcessIDSource.
func (c *Context) ProcessID() uint32 { return c.processID.Load() }

// RequestExit records code as the process's eventual exit status and
// closes the channel ExitRequested returns, matching the original's
// script-level exit(n): a callback registered during Bootstrap holds
// the *Context closed over it and calls RequestExit when the script
// decides to shut the process down. Only the first call has any
// effect; later calls are no-ops, matching exit()'s one-way semantics.
func (c *Context) RequestExit(code int) {
	c.exitOnce.Do(func() {
		c.exitCode.Store(int32(code))
		close(c.exitRequested)
	})
}

// ExitRequested reports whether RequestExit has ever been called; a
// caller (runtime.Context.Run) selects on it the same way it selects on
// a context's Done channel to begin shutdown.
func (c *Context) ExitRequested() <-chan struct{} { return c.exitRequested }

// ExitCode returns the status passed to RequestExit, or 0 if it was
// never called — spec.md's "0 on clean shutdown".
func (c *Context) ExitCode() int { return int(c.exitCode.Load()) }

// Backlog reports the queue depth as of the last Push or Dispatch,
// matching worker_backlog.
func (c *Context) Backlog() int64 { return c.queue.Len() }

// Run drives Dispatch until stop is closed, waking on every Push and
// otherwise idling (no busy polling, matching spec.md §5's "Worker
// blocks on a mutex+condvar signalled by Reactor, Timer, or direct
// enqueue" — a buffered wakeup channel is this port's Go-idiomatic
// substitute for that condvar). On stop, Run performs one final
// Dispatch before returning so a message pushed by a producer that has
// already exited (e.g. the Reactor's last socket-close on the way out)
// is not stranded in the queue — matching spec.md §5's "the Worker
// exits when its running flag becomes false and its queue is empty".
func (c *Context) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			c.Dispatch()
			return
		case <-c.wake:
			c.Dispatch()
		}
	}
}

// Dispatch runs one full drain of the queue, matching worker_dispatch:
// increments process_id before and after every callback (so the
// Monitor observes a moving counter even mid-batch), invokes each
// message's registered callback under a panic-recovery boundary, then
// resets the doubling threshold and calls DispatchWakeup. On an empty
// queue it only increments process_id and returns; worker.c's incremental-GC step
// has no Go equivalent and is omitted (the Go runtime's own GC is not
// something this package drives directly).
func (c *Context) Dispatch() {
	start := time.Now()
	batch := c.queue.Drain()
	if len(batch) == 0 {
		c.processID.Add(1)
		return
	}
	for _, msg := range batch {
		c.processID.Add(1)
		c.invoke(msg)
		c.processID.Add(1)
	}
	c.maxMsg.Store(WarningThreshold)
	c.metrics.ObserveBatchLatencyNS(float64(time.Since(start).Nanoseconds()))
	c.host.DispatchWakeup()
}

// invoke calls msg's registered callback under a recover boundary,
// matching callback()'s lua_pcall(L, args, 0, STK_TRACEBACK): a
// callback failure is logged via ScriptHost.Traceback and never
// propagates to the dispatch loop.
func (c *Context) invoke(msg bus.Message) {
	fn, ok := c.host.Lookup(msg.TypeID())
	if !ok {
		c.metrics.MessagesDropped.Add(1)
		c.logger.Error("worker: callback not registered", "type_id", msg.TypeID(), "kind", msg.Kind())
		return
	}
	c.metrics.MessagesDispatched.Add(1)
	c.running.Store(true)
	defer c.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			c.host.Traceback(r)
		}
	}()
	fn(msg)
}

// WarnEndless satisfies monitor.EndlessLoopWarner. worker.c installs a
// lua_sethook on the stalled coroutine that fires on its very next
// call/return instruction and then prints a traceback; Go has no
// per-goroutine instruction hook to install, so this port's honest
// substitute is to dump every goroutine's stack immediately (the
// Worker goroutine, wherever it is stuck, is in that dump) rather than
// waiting for a boundary that a genuinely infinite native loop would
// never reach anyway. Rate-limited the same way reactor/monitor
// rate-limit their own recurring diagnostics.
func (c *Context) WarnEndless() {
	if !c.running.Load() {
		return
	}
	if _, ok := c.endlessRate.Allow("endless-loop"); !ok {
		return
	}
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, len(buf)*2)
	}
	c.logger.Warn("worker: possible endless loop", "stack", string(buf))
}

func stackTrace() string { return string(debug.Stack()) }
