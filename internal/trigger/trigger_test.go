package trigger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFireConsume(t *testing.T) {
	tr, err := New()
	require.NoError(t, err)
	defer tr.Close()

	require.False(t, tr.IsFired())

	drained, err := tr.Consume()
	require.NoError(t, err)
	require.False(t, drained)

	require.NoError(t, tr.Fire())
	require.True(t, tr.IsFired())

	drained, err = tr.Consume()
	require.NoError(t, err)
	require.True(t, drained)
	require.False(t, tr.IsFired())
}

func TestCoalescedFires(t *testing.T) {
	tr, err := New()
	require.NoError(t, err)
	defer tr.Close()

	for i := 0; i < 8; i++ {
		require.NoError(t, tr.Fire())
	}
	require.True(t, tr.IsFired())

	drained, err := tr.Consume()
	require.NoError(t, err)
	require.True(t, drained)
	require.False(t, tr.IsFired())
}
