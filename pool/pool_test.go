package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocGetFree(t *testing.T) {
	p := New()
	s, err := p.Alloc(42, TypeTCPConn)
	require.NoError(t, err)
	require.NotNil(t, s)

	sid := s.SID()
	got := p.Get(sid)
	require.NotNil(t, got)
	assert.Equal(t, 42, got.FD)
	assert.Equal(t, TypeTCPConn, got.Type)

	p.Free(s)
	assert.Nil(t, p.Get(sid), "stale sid must fail lookup after free")
}

func TestGetUnallocatedReturnsNil(t *testing.T) {
	p := New()
	assert.Nil(t, p.Get(composeSID(1, 5)))
}

func TestVersionBumpsOnEachAllocFreeCycle(t *testing.T) {
	p := New()
	s1, err := p.Alloc(1, TypeTCPConn)
	require.NoError(t, err)
	sid1 := s1.SID()
	slot := sid1 & slotMask
	p.Free(s1)

	s2, err := p.Alloc(2, TypeTCPConn)
	require.NoError(t, err)
	sid2 := s2.SID()

	// LIFO free-list reuses the same slot index; the version must
	// differ so the old sid does not alias the new allocation.
	assert.Equal(t, slot, sid2&slotMask)
	assert.NotEqual(t, sid1, sid2)
	assert.Nil(t, p.Get(sid1))
	assert.Equal(t, s2, p.Get(sid2))
}

func TestPoolExhaustion(t *testing.T) {
	p := New()
	for i := 0; i < Size; i++ {
		_, err := p.Alloc(i, TypeTCPConn)
		require.NoError(t, err)
	}
	_, err := p.Alloc(999, TypeTCPConn)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 0, p.Len())
}

func TestFreeResetsTransientFields(t *testing.T) {
	p := New()
	s, err := p.Alloc(7, TypeUDPConn)
	require.NoError(t, err)
	s.WriteList = append(s.WriteList, WriteBuf{Data: []byte("x")})
	s.PendingLen = 1
	s.SetState(StateReading)

	p.Free(s)

	assert.Equal(t, -1, s.FD)
	assert.Equal(t, TypeReserve, s.Type)
	assert.Empty(t, s.WriteList)
	assert.Equal(t, 0, s.PendingLen)
	assert.Equal(t, State(0), s.State())
}

func TestStatIsValueSnapshot(t *testing.T) {
	p := New()
	s, err := p.Alloc(3, TypeTCPListen)
	require.NoError(t, err)
	s.SetState(StateListening)

	snap := s.Stat()
	s.SetState(StateClosing)

	assert.Equal(t, StateListening, snap.State, "snapshot must not observe later mutation")
	assert.Equal(t, 3, snap.FD)
	assert.Equal(t, s.SID(), snap.SID)
}
