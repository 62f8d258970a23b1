// Package monitor implements the endless-loop watchdog: a goroutine
// that periodically compares the Worker's process_id counter against
// its last-seen value and raises a warning when they match twice in a
// row, meaning the Worker failed to make progress for a full sample
// interval.
//
// Grounded on original_source/src/monitor.c in full (the whole file is
// eleven lines: a single check_id field and a compare-then-store
// check).
package monitor

import (
	"context"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/copperhead-labs/reactorcore/logging"
)

// SampleInterval matches the original's MONITOR_MSG_SLOW_TIME sampling
// cadence (spec.md §4.5: "sleeps for MONITOR_MSG_SLOW_TIME").
const SampleInterval = 1 * time.Second

// ProcessIDSource is satisfied by worker.Context; kept as a narrow
// interface here so monitor does not import worker (avoiding a cycle,
// since worker's endless-loop hook is itself installed in response to
// this package's warning).
type ProcessIDSource interface {
	ProcessID() uint32
}

// EndlessLoopWarner is called when two consecutive samples observe the
// same process_id. worker.Context.WarnEndless satisfies this.
type EndlessLoopWarner interface {
	WarnEndless()
}

// Monitor samples a ProcessIDSource on a fixed interval.
type Monitor struct {
	source    ProcessIDSource
	warner    EndlessLoopWarner
	checkID   uint32
	primed    bool
	limiter   *catrate.Limiter
	logger    *logging.Logger
	interval  time.Duration
}

// Option configures a Monitor at construction.
type Option func(*Monitor)

// WithInterval overrides SampleInterval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithLogger overrides the default logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New constructs a Monitor. The catrate limiter caps the warning log to
// once per 10 seconds so a Worker stuck for minutes doesn't flood the
// log with one line per sample (see DESIGN.md for the catrate wiring
// rationale).
func New(source ProcessIDSource, warner EndlessLoopWarner, opts ...Option) *Monitor {
	m := &Monitor{
		source:   source,
		warner:   warner,
		interval: SampleInterval,
		logger:   logging.Default(),
		limiter:  catrate.NewLimiter(map[time.Duration]int{10 * time.Second: 1}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check performs one sample, matching original_source/src/monitor.c's
// monitor_check: compare the current process_id to the last-seen
// value, warn on equality, then store the new value.
func (m *Monitor) Check() {
	id := m.source.ProcessID()
	if m.primed && m.checkID == id {
		if _, ok := m.limiter.Allow("endless-loop"); ok {
			m.logger.Warn("worker has not progressed since last sample", "process_id", id)
		}
		m.warner.WarnEndless()
	}
	m.checkID = id
	m.primed = true
}

// Run samples on Monitor's interval until ctx is cancelled, matching
// spec.md §4.5's "Terminates when the Worker thread is observed to
// have exited" via context cancellation propagated from the runtime.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}
