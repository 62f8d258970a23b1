package worker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartRunsBootstrapThenWakesUp(t *testing.T) {
	c, _, _, host := newTestContext(t)
	woke := false
	host.Wakeup = func() { woke = true }

	ran := false
	err := c.Start(func(c *Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.True(t, woke)
}

func TestStartPropagatesBootstrapError(t *testing.T) {
	c, _, _, _ := newTestContext(t)
	boom := errors.New("boom")
	err := c.Start(func(c *Context) error { return boom })
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestStartRecoversBootstrapPanic(t *testing.T) {
	c, _, _, host := newTestContext(t)
	var recovered any
	host.OnPanic = func(r any, stack string) { recovered = r }

	err := c.Start(func(c *Context) error {
		panic("startup exploded")
	})
	require.Error(t, err)
	assert.Equal(t, "startup exploded", recovered)
}

func TestNewLibraryPathsOrdersComponents(t *testing.T) {
	p := NewLibraryPaths("/etc/lib", "/etc/clib", "/opt/app/", ".so")
	assert.Equal(t, "/etc/lib", p.LibPath)
	assert.Equal(t, "./lualib/?.lua", p.CWDPath)
	assert.Equal(t, "/opt/app/luaclib/?.so", p.ExeDirCPath)
}
