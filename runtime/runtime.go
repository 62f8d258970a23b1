package runtime

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/copperhead-labs/reactorcore/bus"
	"github.com/copperhead-labs/reactorcore/logging"
	"github.com/copperhead-labs/reactorcore/metrics"
	"github.com/copperhead-labs/reactorcore/monitor"
	"github.com/copperhead-labs/reactorcore/pool"
	"github.com/copperhead-labs/reactorcore/reactor"
	"github.com/copperhead-labs/reactorcore/timer"
	"github.com/copperhead-labs/reactorcore/worker"
)

// shutdownGrace bounds how long Run waits for the Reactor and Timer
// goroutines to observe their exit command before giving up and
// returning anyway — spec.md's cancellation sequence assumes both
// always terminate promptly, but a real process shutdown still needs a
// bound in case a socket syscall is wedged.
const shutdownGrace = 5 * time.Second

// Context owns every long-lived goroutine and the objects they share,
// assembled once by New and driven to completion by Run. Nothing here
// is a package-level global (spec.md §9's "avoid a single global
// runtime instance" design note): a test, or an embedder, may
// construct as many Contexts as it likes.
type Context struct {
	cfg *Config

	logger   *logging.Logger
	pool     *pool.Pool
	queue    *bus.Queue
	registry *bus.Registry
	metrics  *metrics.Metrics

	reactor *reactor.Reactor
	wheel   *timer.Wheel
	worker  *worker.Context
	monitor *monitor.Monitor
	host    worker.ScriptHost
}

// New assembles a Context from cfg: the socket pool, message bus,
// metrics, Reactor, Timer wheel, Worker dispatch context, and Monitor,
// wired exactly as spec.md §2's dependency graph describes. Nothing is
// started until Run is called.
func New(cfg *Config, opts ...Option) (*Context, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	IgnoreSIGPIPE()

	c := &Context{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		l, err := buildLogger(cfg)
		if err != nil {
			return nil, fmt.Errorf("runtime: log init: %w", err)
		}
		c.logger = l
	}
	if c.host == nil {
		c.host = worker.NewClosureHost()
	}

	c.pool = pool.New()
	c.queue = bus.NewQueue()
	c.registry = bus.NewRegistry()
	c.metrics = metrics.New()

	var err error
	c.reactor, err = reactor.New(c.pool, c.queue, c.registry, &c.metrics.Reactor, reactor.WithLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("runtime: reactor init: %w", err)
	}

	resolution := cfg.TimerResolution
	if resolution <= 0 {
		resolution = timer.DefaultResolution
	}
	c.wheel = timer.New(c.queue, c.registry, uint64(time.Now().UnixMilli()),
		timer.WithResolution(resolution), timer.WithLogger(c.logger))

	c.worker = worker.New(c.queue, c.registry, c.host,
		worker.WithLogger(c.logger), worker.WithMetrics(c.metrics.Worker))

	interval := cfg.MonitorInterval
	if interval <= 0 {
		interval = monitor.SampleInterval
	}
	c.monitor = monitor.New(c.worker, c.worker, monitor.WithInterval(interval), monitor.WithLogger(c.logger))

	return c, nil
}

// buildLogger constructs the process logger from cfg, redirecting to
// --log-path when set (spec.md §6: "Redirect log to file (daemon
// mode)"). The opened file is intentionally leaked to the logger's
// lifetime, which is the process lifetime — there is no Close hook on
// Context because nothing else in the runtime owns it.
func buildLogger(cfg *Config) (*logging.Logger, error) {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(cfg.LogLevel)
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		lc.Output = f
	}
	return logging.New(lc), nil
}

// Reactor, Wheel, Worker, and Registry expose the assembled subsystems
// for a Bootstrap function (or a test) to issue commands against, e.g.
// c.Reactor().TCPListen(...), c.Wheel().After(...).
func (c *Context) Reactor() *reactor.Reactor { return c.reactor }
func (c *Context) Wheel() *timer.Wheel       { return c.wheel }
func (c *Context) Worker() *worker.Context   { return c.worker }
func (c *Context) Registry() *bus.Registry   { return c.registry }
func (c *Context) Metrics() *metrics.Metrics { return c.metrics }

// Logger returns the Context's logger, for a caller (e.g. cmd/reactorctl's
// SIGUSR1 handler) that wants to log through the same sink the runtime
// itself uses rather than opening a second one.
func (c *Context) Logger() *logging.Logger { return c.logger }

// ExitCode returns the status a script requested via
// worker.Context.RequestExit, or 0 if Run returned because ctx was
// cancelled rather than by a script-initiated exit.
func (c *Context) ExitCode() int { return c.worker.ExitCode() }

// Run starts the Reactor, Timer, and Monitor goroutines, runs the
// one-shot Bootstrap under the Worker's panic boundary, then blocks
// running the Worker's dispatch loop until ctx is cancelled. Shutdown
// follows spec.md §5's cancellation sequence exactly: an exit command
// is enqueued into both the Reactor and Timer command buffers, Run
// waits for both to exit, and only then does the Worker perform its
// final drain before Run returns.
func (c *Context) Run(ctx context.Context) error {
	reactorDone := make(chan error, 1)
	go func() {
		pinCurrentThread("reactor", c.cfg.ReactorCPU, c.logger)
		reactorDone <- c.reactor.Run(ctx.Done())
	}()

	wheelDone := make(chan struct{})
	go func() {
		pinCurrentThread("timer", c.cfg.TimerCPU, c.logger)
		c.wheel.Run(ctx.Done())
		close(wheelDone)
	}()

	monitorCtx, monitorCancel := context.WithCancel(ctx)
	defer monitorCancel()
	go c.monitor.Run(monitorCtx)

	if c.cfg.Bootstrap != nil {
		if err := c.worker.Start(c.cfg.Bootstrap); err != nil {
			return err
		}
	}

	workerStop := make(chan struct{})
	workerDone := make(chan struct{})
	go func() {
		pinCurrentThread("worker", c.cfg.WorkerCPU, c.logger)
		c.worker.Run(workerStop)
		close(workerDone)
	}()

	select {
	case <-ctx.Done():
	case <-c.worker.ExitRequested():
		c.logger.Info("runtime: script requested exit", "code", c.worker.ExitCode())
	}
	c.reactor.Exit()
	c.wheel.Stop()

	var reactorErr error
	select {
	case reactorErr = <-reactorDone:
	case <-time.After(shutdownGrace):
		c.logger.Warn("runtime: reactor did not stop within grace period")
	}
	select {
	case <-wheelDone:
	case <-time.After(shutdownGrace):
		c.logger.Warn("runtime: timer did not stop within grace period")
	}

	// "Only after both reactor and timer have exited does the Worker
	// drain" (spec.md §5): only now is it safe to tell the Worker's own
	// loop to stop — worker.Context.Run performs one final Dispatch on
	// its way out, picking up anything either goroutine enqueued while
	// shutting down (e.g. a last socket-close message).
	close(workerStop)
	<-workerDone

	return reactorErr
}
