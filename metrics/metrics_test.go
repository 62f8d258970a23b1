package metrics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReactorCountersIndependent(t *testing.T) {
	m := New()
	m.Reactor.CommandsRequested.Add(3)
	m.Reactor.CommandsProcessed.Add(2)
	m.Reactor.Accepted.Add(1)
	assert.EqualValues(t, 3, m.Reactor.CommandsRequested.Load())
	assert.EqualValues(t, 2, m.Reactor.CommandsProcessed.Load())
	assert.EqualValues(t, 1, m.Reactor.Accepted.Load())
	assert.EqualValues(t, 0, m.Reactor.EMFILEEvents.Load())
}

func TestWorkerBatchLatencyConvergesNearP99(t *testing.T) {
	w := NewWorker()
	rng := rand.New(rand.NewSource(1))
	const n = 5000
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = rng.Float64() * 1000
		w.ObserveBatchLatencyNS(samples[i])
	}

	sorted := append([]float64(nil), samples...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	trueP99 := sorted[int(0.99*float64(n))]

	got := w.BatchLatencyP99NS()
	assert.Less(t, math.Abs(got-trueP99)/trueP99, 0.1, "p99 estimate %v too far from true %v", got, trueP99)
}

func TestWorkerQueueWarningsIncrement(t *testing.T) {
	w := NewWorker()
	w.QueueWarnings.Add(1)
	assert.EqualValues(t, 1, w.QueueWarnings.Load())
}
