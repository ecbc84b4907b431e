package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNaiveRunsAllTasks(t *testing.T) {
	p := NewNaive()
	var n atomic.Int64
	var wg sync.WaitGroup
	wg.Add(50)
	for i := 0; i < 50; i++ {
		p.Spawn(func() {
			defer wg.Done()
			n.Add(1)
		})
	}
	wg.Wait()
	p.Close()
	require.Equal(t, int64(50), n.Load())
}

func TestSharedQueueRunsAllTasks(t *testing.T) {
	p := NewSharedQueue(4)
	defer p.Close()

	var n atomic.Int64
	var wg sync.WaitGroup
	wg.Add(100)
	for i := 0; i < 100; i++ {
		p.Spawn(func() {
			defer wg.Done()
			n.Add(1)
		})
	}
	wg.Wait()
	require.Equal(t, int64(100), n.Load())
}

// TestSharedQueuePanicRecovery is the sentinel-recovery scenario: a
// panicking task must not take down the pool, and a replacement worker
// must keep draining the shared queue afterward.
func TestSharedQueuePanicRecovery(t *testing.T) {
	p := NewSharedQueue(1)
	defer p.Close()

	var panicked atomic.Bool
	p.Spawn(func() {
		panicked.Store(true)
		panic("boom")
	})

	var ran atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	deadline := time.After(2 * time.Second)
	done := make(chan struct{})
	go func() {
		p.Spawn(func() {
			ran.Store(true)
			wg.Done()
		})
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-deadline:
		t.Fatal("timed out waiting for replacement worker to run a task")
	}

	require.True(t, panicked.Load())
	require.True(t, ran.Load())
}

func TestSharedQueueCloseStopsAcceptingLiveWorkers(t *testing.T) {
	p := NewSharedQueue(2)
	p.Close()

	// Spawn after Close must not panic; the task simply never runs.
	require.NotPanics(t, func() {
		p.Spawn(func() {})
	})
}

func TestWorkStealingRunsTasks(t *testing.T) {
	p, err := NewWorkStealing(4)
	require.NoError(t, err)
	defer p.Close()

	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		p.Spawn(func() {
			defer wg.Done()
			n.Add(1)
		})
	}
	wg.Wait()
	require.Equal(t, int64(20), n.Load())
}
