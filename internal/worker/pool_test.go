package worker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/goquartz/internal/worker"
)

func newRunningPool(t *testing.T, size int) *worker.Pool {
	t.Helper()
	cfg := worker.DefaultConfig()
	cfg.PoolSize = size
	cfg.DrainTimeout = 5 * time.Second

	p, err := worker.NewPool(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	return p
}

func TestConfig_Validate(t *testing.T) {
	cfg := worker.DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.PoolSize = 0
	assert.Error(t, cfg.Validate())

	cfg = worker.DefaultConfig()
	cfg.DrainTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestPool_ExecutesTasks(t *testing.T) {
	p := newRunningPool(t, 4)
	defer p.Shutdown(true)

	var executed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		ok := p.Submit(func(context.Context) {
			defer wg.Done()
			executed.Add(1)
		})
		require.True(t, ok)
	}
	wg.Wait()

	assert.Equal(t, int64(20), executed.Load())
	assert.Eventually(t, func() bool {
		return p.Stats().TasksExecuted == 20
	}, time.Second, 10*time.Millisecond)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const size = 3
	p := newRunningPool(t, size)
	defer p.Shutdown(true)

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		ok := p.Submit(func(context.Context) {
			defer wg.Done()
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
		})
		require.True(t, ok)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(size))
}

func TestPool_SubmitAfterShutdownReturnsFalse(t *testing.T) {
	p := newRunningPool(t, 2)
	p.Shutdown(true)

	ok := p.Submit(func(context.Context) {})
	assert.False(t, ok)
	assert.Equal(t, worker.PoolStateStopped, p.State())
}

func TestPool_ShutdownWaitDrains(t *testing.T) {
	p := newRunningPool(t, 2)

	var finished atomic.Bool
	require.True(t, p.Submit(func(context.Context) {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	}))

	p.Shutdown(true)
	assert.True(t, finished.Load())
}

func TestPool_ShutdownNoWaitCancelsContext(t *testing.T) {
	p := newRunningPool(t, 1)

	canceled := make(chan struct{})
	require.True(t, p.Submit(func(ctx context.Context) {
		<-ctx.Done()
		close(canceled)
	}))

	p.Shutdown(false)

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("task context was not canceled")
	}
}

func TestPool_ContainsPanics(t *testing.T) {
	p := newRunningPool(t, 2)
	defer p.Shutdown(true)

	done := make(chan struct{})
	require.True(t, p.Submit(func(context.Context) {
		defer close(done)
		panic("job blew up")
	}))
	<-done

	// the pool keeps working after a panic
	var ran atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	require.True(t, p.Submit(func(context.Context) {
		defer wg.Done()
		ran.Store(true)
	}))
	wg.Wait()

	assert.True(t, ran.Load())
	assert.Eventually(t, func() bool {
		return p.Stats().TasksPanicked == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPool_BlockForAvailableSlots(t *testing.T) {
	p := newRunningPool(t, 1)
	defer p.Shutdown(true)

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	require.True(t, p.Submit(func(context.Context) {
		defer wg.Done()
		<-release
	}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	free := p.BlockForAvailableSlots()
	wg.Wait()
	assert.Equal(t, 1, free)
}

func TestPool_ShutdownWakesBlockedWaiter(t *testing.T) {
	p := newRunningPool(t, 1)

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	require.True(t, p.Submit(func(context.Context) {
		defer wg.Done()
		<-release
	}))

	// the waiter blocks with every slot busy; only the shutdown broadcast
	// can wake it
	unblocked := make(chan int, 1)
	go func() {
		unblocked <- p.BlockForAvailableSlots()
	}()

	time.Sleep(20 * time.Millisecond)
	p.Shutdown(false)

	select {
	case free := <-unblocked:
		assert.Equal(t, 0, free)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by shutdown")
	}

	close(release)
	wg.Wait()
}
