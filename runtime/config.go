// Package runtime wires the Reactor, Timer, Worker, and Monitor
// goroutines together into the single running process spec.md §2
// describes, following ublk.Device's construct-then-Run shape
// (CreateAndServe / StopAndDelete) rather than a global package-level
// singleton: every dependency is an explicit field on Context, and
// tests can construct as many independent Contexts as they like.
package runtime

import (
	"time"

	"github.com/copperhead-labs/reactorcore/logging"
	"github.com/copperhead-labs/reactorcore/monitor"
	"github.com/copperhead-labs/reactorcore/timer"
	"github.com/copperhead-labs/reactorcore/worker"
)

// Config mirrors spec.md §6's CLI flag table, following
// cmd/ublk-mem/main.go's flat-field style (one struct of knobs,
// populated by flag.String/flag.Bool in cmd/reactorctl rather than a
// framework-driven config loader).
type Config struct {
	// Bootstrap loads and runs the user's startup callback-registration
	// code (spec.md §6's positional [script] argument / --bootstrap).
	Bootstrap worker.Bootstrap

	LogLevel string // --log-level: debug|info|warn|error
	LogPath  string // --log-path, empty means stderr

	Daemon  bool   // -d/--daemon
	PIDFile string // --pid-file

	LibPath  string // -L/--lualib-path
	LibCPath string // -C/--lualib-cpath

	TimerResolution  time.Duration // defaults to timer.DefaultResolution
	MonitorInterval  time.Duration // defaults to monitor.SampleInterval
	TCPListenBacklog int           // default 128, mirrors common Listen() defaults

	// ReactorCPU/WorkerCPU/TimerCPU are the -S/-W/-T flags: a CPU index
	// to pin each goroutine's OS thread to, or -1 to leave it floating.
	ReactorCPU int
	WorkerCPU  int
	TimerCPU   int
}

// DefaultConfig returns a Config with every optional field at its
// spec.md-documented default.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:         "info",
		TimerResolution:  timer.DefaultResolution,
		MonitorInterval:  monitor.SampleInterval,
		TCPListenBacklog: 128,
		ReactorCPU:       -1,
		WorkerCPU:        -1,
		TimerCPU:         -1,
	}
}

// Option customizes a Context at construction, for programmatic
// callers that don't go through cmd/reactorctl's flag parsing —
// mirrors ublk.Options layered on top of ublk.DeviceParams: Config is
// the declarative knob set, Option is for runtime-only concerns like
// an injected logger or host.
type Option func(*Context)

// WithLogger overrides the default logger used by every subsystem.
func WithLogger(l *logging.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// WithHost overrides the default worker.ClosureHost with a caller-
// supplied worker.ScriptHost.
func WithHost(h worker.ScriptHost) Option {
	return func(c *Context) { c.host = h }
}
