// Package metrics collects the atomic counters of the Reactor and the
// Worker, plus a P² latency estimator for the Worker's per-batch
// dispatch time. Timer counters are not held here; timer.Wheel keeps
// its own and reports them through its Stat method.
//
// Grounded on ehrlich-b-go-ublk/metrics.go's Metrics struct shape
// (atomic counter fields grouped by subsystem, a New constructor) and
// spec.md's per-subsystem stat tables (§4.2's requested/processed
// command counters, §4.4's queue-depth warning).
package metrics

import "sync/atomic"

// Reactor holds the Reactor's observability counters. spec.md §4.2:
// "The operation-in-flight counter is split into requested
// (incremented by producers) and processed (incremented here) for
// observability."
type Reactor struct {
	CommandsRequested atomic.Uint64
	CommandsProcessed atomic.Uint64
	Accepted          atomic.Uint64
	BytesRead         atomic.Uint64
	BytesWritten      atomic.Uint64
	EMFILEEvents      atomic.Uint64
}

// Worker holds the Worker/Dispatch engine's observability counters,
// plus a P² estimator of per-batch dispatch latency.
type Worker struct {
	MessagesDispatched atomic.Uint64
	MessagesDropped    atomic.Uint64
	QueueWarnings      atomic.Uint64
	batchLatency       *psquare
}

// NewWorker constructs a Worker metrics block tracking the p99 of
// per-batch dispatch latency.
func NewWorker() *Worker {
	return &Worker{batchLatency: newPSquare(0.99)}
}

// ObserveBatchLatencyNS feeds one dispatch batch's wall-clock duration
// (nanoseconds) into the p99 estimator.
func (w *Worker) ObserveBatchLatencyNS(ns float64) {
	w.batchLatency.observe(ns)
}

// BatchLatencyP99NS returns the current p99 estimate in nanoseconds.
func (w *Worker) BatchLatencyP99NS() float64 {
	return w.batchLatency.value()
}

// Metrics aggregates every subsystem's counters behind one handle
// that runtime.New wires into each goroutine.
type Metrics struct {
	Reactor Reactor
	Worker  *Worker
}

// New constructs a fresh, zeroed Metrics block.
func New() *Metrics {
	return &Metrics{Worker: NewWorker()}
}
