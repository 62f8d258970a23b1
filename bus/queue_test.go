package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushDrainFIFO(t *testing.T) {
	q := NewQueue()
	m1 := &TimerExpire{Session: 1}
	m2 := &TimerExpire{Session: 2}
	m3 := &TimerExpire{Session: 3}

	assert.EqualValues(t, 1, q.Push(m1))
	assert.EqualValues(t, 2, q.Push(m2))
	assert.EqualValues(t, 3, q.Push(m3))

	drained := q.Drain()
	require.Len(t, drained, 3)
	assert.Equal(t, m1, drained[0])
	assert.Equal(t, m2, drained[1])
	assert.Equal(t, m3, drained[2])
	assert.EqualValues(t, 0, q.Len())
}

func TestDrainOnEmptyReturnsNil(t *testing.T) {
	q := NewQueue()
	assert.Nil(t, q.Drain())
}

func TestSinglePushOrderPreservedPerProducer(t *testing.T) {
	q := NewQueue()
	const n = 200
	var wg sync.WaitGroup
	producers := 16
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				q.Push(&SignalFire{Signum: p*n + i})
			}
		}(p)
	}
	wg.Wait()

	drained := q.Drain()
	require.Len(t, drained, producers*n)

	lastPerProducer := make(map[int]int)
	for _, m := range drained {
		sf := m.(*SignalFire)
		p := sf.Signum / n
		i := sf.Signum % n
		if last, ok := lastPerProducer[p]; ok {
			assert.Greater(t, i, last, "message order within one producer must be preserved")
		}
		lastPerProducer[p] = i
	}
}

func TestDrainAfterPartialThenMorePushes(t *testing.T) {
	q := NewQueue()
	q.Push(&TimerExpire{Session: 1})
	first := q.Drain()
	require.Len(t, first, 1)

	q.Push(&TimerExpire{Session: 2})
	q.Push(&TimerExpire{Session: 3})
	second := q.Drain()
	require.Len(t, second, 2)
	assert.EqualValues(t, 2, second[0].(*TimerExpire).Session)
	assert.EqualValues(t, 3, second[1].(*TimerExpire).Session)
}
