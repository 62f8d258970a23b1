package reactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reactorcore "github.com/copperhead-labs/reactorcore"
	"github.com/copperhead-labs/reactorcore/bus"
	"github.com/copperhead-labs/reactorcore/metrics"
	"github.com/copperhead-labs/reactorcore/pool"
)

func newTestReactor(t *testing.T) (*Reactor, *pool.Pool, *bus.Queue) {
	t.Helper()
	p := pool.New()
	q := bus.NewQueue()
	reg := bus.NewRegistry()
	m := metrics.New()
	r, err := New(p, q, reg, &m.Reactor)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, p, q
}

// stepUntil single-steps the reactor up to maxSteps times, each with a
// short wait timeout, collecting every bus message observed, until
// found reports true on the accumulated set or maxSteps is exhausted.
func stepUntil(t *testing.T, r *Reactor, q *bus.Queue, maxSteps int, found func([]bus.Message) bool) []bus.Message {
	t.Helper()
	var all []bus.Message
	for i := 0; i < maxSteps; i++ {
		exit, err := r.step(50)
		require.NoError(t, err)
		all = append(all, q.Drain()...)
		if found(all) {
			return all
		}
		if exit {
			break
		}
	}
	return all
}

func kindPresent(msgs []bus.Message, kind string) bus.Message {
	for _, m := range msgs {
		if m.Kind() == kind {
			return m
		}
	}
	return nil
}

func listenedPort(t *testing.T, p *pool.Pool, sid uint64) string {
	t.Helper()
	s := p.Get(sid)
	require.NotNil(t, s)
	sa, err := unix.Getsockname(s.FD)
	require.NoError(t, err)
	inet4, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)
	return itoa(inet4.Port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func TestTCPListenConnectEcho(t *testing.T) {
	r, p, q := newTestReactor(t)

	sid, err := r.TCPListen("127.0.0.1", "0", 16)
	require.NoError(t, err)
	msgs := stepUntil(t, r, q, 20, func(m []bus.Message) bool {
		return kindPresent(m, "tcp-listen") != nil
	})
	lm := kindPresent(msgs, "tcp-listen").(*bus.ListenResult)
	require.Empty(t, lm.Err)
	listenSID := lm.SID
	assert.Equal(t, sid, listenSID, "TCPListen's synchronous sid must match the async result")

	port := listenedPort(t, p, listenSID)
	_, err = r.TCPConnect("127.0.0.1", port, "", "")
	require.NoError(t, err)

	msgs = stepUntil(t, r, q, 20, func(m []bus.Message) bool {
		return kindPresent(m, "tcp-accept") != nil && kindPresent(m, "socket-connect") != nil
	})
	accept := kindPresent(msgs, "tcp-accept").(*bus.TCPAccept)
	connect := kindPresent(msgs, "socket-connect").(*bus.SocketConnect)
	assert.Empty(t, connect.Err)
	assert.Equal(t, listenSID, accept.ListenSID)

	serverSID := accept.NewSID
	clientSID := connect.SID

	payload := []byte("ping")
	r.TCPSend(serverSID, payload, nil)

	msgs = stepUntil(t, r, q, 20, func(m []bus.Message) bool {
		return kindPresent(m, "tcp-data") != nil
	})
	data := kindPresent(msgs, "tcp-data").(*bus.TCPData)
	assert.Equal(t, clientSID, data.SID)
	assert.Equal(t, payload, data.Payload)
}

func TestUDPBindConnectRoundtrip(t *testing.T) {
	r, p, q := newTestReactor(t)

	sid, err := r.UDPBind("127.0.0.1", "0")
	require.NoError(t, err)
	msgs := stepUntil(t, r, q, 20, func(m []bus.Message) bool {
		return kindPresent(m, "udp-listen") != nil
	})
	lm := kindPresent(msgs, "udp-listen").(*bus.ListenResult)
	require.Empty(t, lm.Err)
	assert.Equal(t, sid, lm.SID)
	port := listenedPort(t, p, lm.SID)

	_, err = r.UDPConnect("127.0.0.1", port, "", "")
	require.NoError(t, err)
	msgs = stepUntil(t, r, q, 20, func(m []bus.Message) bool {
		return kindPresent(m, "socket-connect") != nil
	})
	conn := kindPresent(msgs, "socket-connect").(*bus.SocketConnect)
	require.Empty(t, conn.Err)

	payload := []byte("hello")
	r.UDPSend(conn.SID, payload, nil, nil)

	msgs = stepUntil(t, r, q, 20, func(m []bus.Message) bool {
		return kindPresent(m, "udp-data") != nil
	})
	data := kindPresent(msgs, "udp-data").(*bus.UDPData)
	assert.Equal(t, lm.SID, data.SID)
	assert.Equal(t, payload, data.Payload)
}

func TestStaleSIDCommandIsDroppedNotCrashed(t *testing.T) {
	r, _, q := newTestReactor(t)

	finalized := false
	r.TCPSend(0xdeadbeef, []byte("x"), func() { finalized = true })
	_, err := r.step(50)
	require.NoError(t, err)
	assert.Empty(t, q.Drain())
	assert.True(t, finalized, "finalizer must run even when the sid is unknown")
}

func TestCloseWithEmptyWriteListFreesImmediately(t *testing.T) {
	r, p, q := newTestReactor(t)

	_, err := r.TCPListen("127.0.0.1", "0", 4)
	require.NoError(t, err)
	msgs := stepUntil(t, r, q, 20, func(m []bus.Message) bool {
		return kindPresent(m, "tcp-listen") != nil
	})
	sid := kindPresent(msgs, "tcp-listen").(*bus.ListenResult).SID
	before := p.Len()

	require.NoError(t, r.Close(sid))
	_, err = r.step(50)
	require.NoError(t, err)

	assert.Equal(t, before+1, p.Len(), "slot must return to the free-list once its write-list is empty")
	assert.Nil(t, p.Get(sid), "the old sid must no longer resolve after free")
}

func TestCloseTwiceReturnsClosingThenClosedAfterFree(t *testing.T) {
	r, p, q := newTestReactor(t)

	sid, err := r.TCPListen("127.0.0.1", "0", 4)
	require.NoError(t, err)
	stepUntil(t, r, q, 20, func(m []bus.Message) bool {
		return kindPresent(m, "tcp-listen") != nil
	})

	require.NoError(t, r.Close(sid))
	err = r.Close(sid)
	require.Error(t, err, "a second close on the same sid must be rejected synchronously")
	assert.ErrorIs(t, err, &reactorcore.Error{Code: reactorcore.ErrClosing})

	before := p.Len()
	_, err = r.step(50)
	require.NoError(t, err)
	assert.Equal(t, before+1, p.Len())

	err = r.Close(sid)
	require.Error(t, err, "a close on an already-freed sid must be rejected synchronously")
	assert.ErrorIs(t, err, &reactorcore.Error{Code: reactorcore.ErrClosed})
}

func TestTCPListenPoolExhaustionReturnsSynchronousErrorWithNoMessage(t *testing.T) {
	r, p, q := newTestReactor(t)

	for i := 0; i < pool.Size; i++ {
		_, err := p.Alloc(-1, pool.TypeReserve)
		require.NoError(t, err)
	}

	sid, err := r.TCPListen("127.0.0.1", "0", 4)
	require.Error(t, err, "listening against an exhausted pool must fail synchronously")
	assert.Zero(t, sid)
	assert.ErrorIs(t, err, &reactorcore.Error{Code: reactorcore.ErrNoSocket})

	_, stepErr := r.step(20)
	require.NoError(t, stepErr)
	assert.Empty(t, q.Drain(), "no message should ever arrive for a synchronously-rejected listen")
}

func TestExitStopsRunLoop(t *testing.T) {
	r, _, _ := newTestReactor(t)
	r.Exit()
	done := make(chan error, 1)
	go func() { done <- r.Run(make(chan struct{})) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Exit")
	}
}
