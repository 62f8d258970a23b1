package spinlock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockUnlock(t *testing.T) {
	var l T
	l.Lock()
	l.Unlock()
	l.Lock()
	l.Unlock()
}

func TestUnlockOfUnlockedPanics(t *testing.T) {
	var l T
	assert.Panics(t, func() { l.Unlock() })
}

func TestConcurrentIncrement(t *testing.T) {
	var l T
	var counter int
	var wg sync.WaitGroup
	const goroutines = 64
	const perGoroutine = 500
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				l.Lock()
				counter++
				l.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, goroutines*perGoroutine, counter)
}
