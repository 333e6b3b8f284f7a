package utils

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool(t *testing.T) {
	numResults := 10000

	pool := NewWorkerPool()
	pool.Start()
	defer pool.Stop()

	var mu sync.Mutex
	results := make([]int, 0)

	for i := 0; i < numResults; i++ {
		n := i
		assert.True(t, pool.Submit(func() {
			mu.Lock()
			results = append(results, n)
			mu.Unlock()
		}))
	}

	pool.Wait()

	if len(results) != numResults {
		t.Errorf("Expected %d results, got %d", numResults, len(results))
	}

	resultSet := make(map[int]struct{})
	for _, r := range results {
		resultSet[r] = struct{}{}
	}

	for i := 0; i < numResults; i++ {
		if _, ok := resultSet[i]; !ok {
			t.Errorf("Missing result: %d", i)
		}
	}
}

func TestWorkerPoolSize(t *testing.T) {
	assert.Equal(t, 3, NewWorkerPoolSize(3).Size())
	assert.Equal(t, NewWorkerPool().Size(), NewWorkerPoolSize(0).Size())
}

func TestWorkerPoolSubmitDoesNotRunInline(t *testing.T) {
	pool := NewWorkerPoolSize(1)
	pool.Start()
	defer pool.Stop()

	gate := make(chan struct{})
	var ran atomic.Int32

	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		for i := 0; i < 3; i++ {
			assert.True(t, pool.Submit(func() {
				<-gate
				ran.Add(1)
			}))
		}
	}()

	select {
	case <-submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("Submit blocked on a busy pool")
	}
	assert.Equal(t, int32(0), ran.Load())

	close(gate)
	pool.Wait()
	assert.Equal(t, int32(3), ran.Load())
	assert.Equal(t, 0, pool.Queued())
}

func TestWorkerPoolDrainsQueueOnStop(t *testing.T) {
	pool := NewWorkerPoolSize(1)

	var ran atomic.Int32
	assert.True(t, pool.Submit(func() { ran.Add(1) }))
	assert.True(t, pool.Submit(func() { ran.Add(1) }))
	assert.Equal(t, 2, pool.Queued())

	pool.Stop()
	pool.Start()
	pool.Wait()
	assert.Equal(t, int32(2), ran.Load())
}

func TestWorkerPoolStopped(t *testing.T) {
	pool := NewWorkerPoolSize(2)
	pool.Start()
	pool.Stop()
	pool.Stop()

	assert.False(t, pool.Submit(func() { t.Error("task ran after stop") }))
	pool.Wait()
}

func TestWorkerPoolSubmitRacingStop(t *testing.T) {
	for i := 0; i < 100; i++ {
		pool := NewWorkerPoolSize(2)
		pool.Start()

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				pool.Submit(func() {})
			}()
		}
		pool.Stop()
		wg.Wait()

		done := make(chan struct{})
		go func() {
			pool.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Wait did not return after Stop")
		}
	}
}
