package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copperhead-labs/reactorcore/bus"
)

func newTestWheel(t *testing.T) (*Wheel, *bus.Queue) {
	t.Helper()
	q := bus.NewQueue()
	r := bus.NewRegistry()
	w := New(q, r, 0, WithResolution(10*time.Millisecond))
	return w, q
}

// drive advances the wheel by n resolution units using a synthetic
// clock, returning once all ticks have been processed.
func drive(w *Wheel, start time.Time, units int) time.Time {
	now := start
	for i := 0; i < units; i++ {
		now = now.Add(w.resolution)
		w.Tick(now)
	}
	return now
}

func TestOneShotTimerFires(t *testing.T) {
	w, q := newTestWheel(t)
	start := time.Unix(0, 0)
	w.Tick(start) // prime epoch

	session := w.After(50 * time.Millisecond)

	drive(w, start, 6) // 60ms > 50ms deadline with rounding slack

	drained := q.Drain()
	require.Len(t, drained, 1)
	expire, ok := drained[0].(*bus.TimerExpire)
	require.True(t, ok)
	assert.Equal(t, session, expire.Session)

	stat := w.Stat()
	assert.EqualValues(t, 1, stat.Scheduled)
	assert.EqualValues(t, 1, stat.Fired)
	assert.EqualValues(t, 0, stat.Pending)
}

func TestCancellationRace(t *testing.T) {
	w, q := newTestWheel(t)
	start := time.Unix(0, 0)
	w.Tick(start)

	sessions := make([]uint64, 100)
	for i := range sessions {
		sessions[i] = w.After(20 * time.Millisecond)
	}
	for _, s := range sessions {
		assert.True(t, w.Cancel(s))
	}

	drive(w, start, 25) // well past 20ms + resolution slack

	assert.Empty(t, q.Drain())
	stat := w.Stat()
	assert.EqualValues(t, 100, stat.Cancelled)
	assert.EqualValues(t, 0, stat.Fired)
}

func TestCancelAfterFireReturnsFalse(t *testing.T) {
	w, _ := newTestWheel(t)
	start := time.Unix(0, 0)
	w.Tick(start)

	session := w.After(10 * time.Millisecond)
	drive(w, start, 5)

	assert.False(t, w.Cancel(session), "cancelling an already-fired session must fail")
}

func TestDoubleCancelSecondReturnsFalse(t *testing.T) {
	w, _ := newTestWheel(t)
	start := time.Unix(0, 0)
	w.Tick(start)

	session := w.After(100 * time.Millisecond)
	assert.True(t, w.Cancel(session))
	// version hasn't been bumped by Tick yet (command not processed),
	// so a second Cancel call still observes the same live version and
	// would re-enqueue; only after Tick processes the first cancel does
	// the node's version change. Advance one tick to process it.
	drive(w, start, 1)
	assert.False(t, w.Cancel(session))
}

func TestCascadeAcrossLevels(t *testing.T) {
	w, q := newTestWheel(t)
	start := time.Unix(0, 0)
	w.Tick(start)

	// 3000ms exceeds the 256-jiffy root range (2560ms at 10ms
	// resolution), forcing insertion into a cascade level.
	session := w.After(3000 * time.Millisecond)

	drive(w, start, 310) // 3100ms worth of ticks

	drained := q.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, session, drained[0].(*bus.TimerExpire).Session)
}

func TestManyTimersFireInExpiryOrder(t *testing.T) {
	w, q := newTestWheel(t)
	start := time.Unix(0, 0)
	w.Tick(start)

	s1 := w.After(10 * time.Millisecond)
	s2 := w.After(20 * time.Millisecond)
	s3 := w.After(30 * time.Millisecond)

	drive(w, start, 1) // now at 10ms: only s1 is due
	drained := q.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, s1, drained[0].(*bus.TimerExpire).Session)

	drive(w, start, 10) // now at 100ms
	now := start.Add(100 * time.Millisecond)
	_ = now
	drained = q.Drain()
	sessions := make([]uint64, 0, 2)
	for _, m := range drained {
		sessions = append(sessions, m.(*bus.TimerExpire).Session)
	}
	assert.Contains(t, sessions, s2)
	assert.Contains(t, sessions, s3)
}
