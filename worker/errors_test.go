package worker

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/copperhead-labs/reactorcore"
)

func TestErrorTableResolvesFixedCodes(t *testing.T) {
	tbl := NewErrorTable()
	err := reactorcore.NewError("tcp-connect", 7, reactorcore.ErrClosed, 0, nil)
	assert.Equal(t, "socket is closed", tbl.String(err))
}

func TestErrorTableCachesErrnoOnFirstUse(t *testing.T) {
	tbl := NewErrorTable()
	err := reactorcore.NewError("tcp-send", 3, reactorcore.CodeNone, syscall.EPIPE, nil)

	first := tbl.String(err)
	assert.NotEmpty(t, first)
	assert.Contains(t, tbl.errno, syscall.EPIPE)

	second := tbl.String(err)
	assert.Equal(t, first, second)
}

func TestErrorTableNilIsEmptyString(t *testing.T) {
	tbl := NewErrorTable()
	assert.Equal(t, "", tbl.String(nil))
}
