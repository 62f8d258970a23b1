package flipbuf

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenFlipDrainsAll(t *testing.T) {
	fb := New[int](0)
	wasEmpty, err := fb.Write(1)
	require.NoError(t, err)
	assert.True(t, wasEmpty)

	wasEmpty, err = fb.Write(2)
	require.NoError(t, err)
	assert.False(t, wasEmpty)

	assert.Equal(t, 2, fb.Len())

	drained := fb.Flip()
	assert.Equal(t, []int{1, 2}, drained)
	assert.Equal(t, 0, fb.Len())
}

func TestFlipOnEmptyReturnsEmpty(t *testing.T) {
	fb := New[string](0)
	drained := fb.Flip()
	assert.Empty(t, drained)
}

func TestCapacityEnforced(t *testing.T) {
	fb := New[int](2)
	_, err := fb.Write(1)
	require.NoError(t, err)
	_, err = fb.Write(2)
	require.NoError(t, err)
	_, err = fb.Write(3)
	assert.ErrorIs(t, err, ErrFull)
}

func TestConcurrentWritersSingleFlipper(t *testing.T) {
	fb := New[int](0)
	const writers = 32
	const perWriter = 100
	var wg sync.WaitGroup
	wg.Add(writers)
	writersDone := make(chan struct{})
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_, err := fb.Write(1)
				require.NoError(t, err)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(writersDone)
	}()

	var total int
	for {
		total += len(fb.Flip())
		select {
		case <-writersDone:
			total += len(fb.Flip())
			assert.Equal(t, writers*perWriter, total)
			return
		default:
		}
	}
}
