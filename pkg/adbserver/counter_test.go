package adbserver

import (
	"sync"
	"testing"
)

func TestCounterSequence(t *testing.T) {
	c := NewCounter()
	for want := uint32(1); want <= 4; want++ {
		if got := c.Next(); got != want {
			t.Errorf("期望%d，实际%d", want, got)
		}
	}
}

func TestCounterWraps(t *testing.T) {
	c := NewCounter()
	c.Set(0xFFFFFFFF)
	if got := c.Next(); got != 0xFFFFFFFF {
		t.Errorf("期望0xFFFFFFFF，实际0x%x", got)
	}
	if got := c.Next(); got != 1 {
		t.Errorf("回绕后期望1，实际%d", got)
	}
}

func TestCounterConcurrentUnique(t *testing.T) {
	c := NewCounter()
	const workers, perWorker = 8, 1000

	var mu sync.Mutex
	seen := make(map[uint32]bool, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := c.Next()
				mu.Lock()
				if seen[id] {
					t.Errorf("重复的id: %d", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*perWorker {
		t.Errorf("期望%d个id，实际%d", workers*perWorker, len(seen))
	}
}
