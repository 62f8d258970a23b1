package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copperhead-labs/reactorcore/bus"
	"github.com/copperhead-labs/reactorcore/worker"
)

func TestNewAssemblesEverySubsystem(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, c.Reactor())
	assert.NotNil(t, c.Wheel())
	assert.NotNil(t, c.Worker())
	assert.NotNil(t, c.Registry())
	assert.NotNil(t, c.Metrics())
}

func TestRunExecutesBootstrapAndShutsDownOnCancel(t *testing.T) {
	bootstrapped := false

	cfg := DefaultConfig()
	cfg.Bootstrap = func(wc *worker.Context) error {
		bootstrapped = true
		return nil
	}

	c, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	assert.True(t, bootstrapped)
}

func TestRunReturnsEarlyWhenScriptRequestsExit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bootstrap = func(wc *worker.Context) error {
		go func() {
			time.Sleep(20 * time.Millisecond)
			wc.RequestExit(3)
		}()
		return nil
	}

	c, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after a script-requested exit")
	}
	assert.Equal(t, 3, c.ExitCode())
}

func TestRunDeliversTimerExpireEndToEnd(t *testing.T) {
	host := worker.NewClosureHost()
	received := make(chan uint64, 1)

	cfg := DefaultConfig()
	cfg.Bootstrap = func(wc *worker.Context) error { return nil }

	c, err := New(cfg, WithHost(host))
	require.NoError(t, err)

	typeID, ok := c.Registry().IDFor("timer-expire")
	require.True(t, ok)
	host.RegisterCallback(typeID, func(m bus.Message) {
		received <- m.(*bus.TimerExpire).Session
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Wheel().After(1 * time.Millisecond)
	}()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case session := <-received:
		assert.NotZero(t, session)
	case <-time.After(2 * time.Second):
		t.Fatal("timer-expire never reached the registered callback")
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
