package wallet

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNonceTrackerMonotone(t *testing.T) {
	nt := NewNonceTracker(5)

	var wg sync.WaitGroup
	mu := sync.Mutex{}
	var issued []uint64

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := nt.Next()
			mu.Lock()
			issued = append(issued, n)
			mu.Unlock()
		}()
	}
	wg.Wait()

	seen := make(map[uint64]bool, len(issued))
	for _, n := range issued {
		assert.False(t, seen[n], "nonce %d issued more than once", n)
		seen[n] = true
	}
	assert.Equal(t, uint64(105), nt.Peek())
}

func TestNonceTrackerReset(t *testing.T) {
	nt := NewNonceTracker(5)
	nt.Next()
	nt.Next()

	nt.Reset(3) // chain reports something lower than our local state
	assert.Equal(t, uint64(7), nt.Peek(), "reset never moves the counter backwards")

	nt.Reset(20)
	assert.Equal(t, uint64(20), nt.Peek())
}
