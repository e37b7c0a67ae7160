package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/goquartz/internal/logger"
)

// PoolState represents the current state of the pool.
type PoolState int32

const (
	// PoolStateStopped means the pool is not running.
	PoolStateStopped PoolState = iota

	// PoolStateRunning means the pool is accepting tasks.
	PoolStateRunning

	// PoolStateDraining means the pool is shutting down.
	PoolStateDraining

	// poolPercentageMultiplier converts ratio to percentage.
	poolPercentageMultiplier = 100
)

// String returns the string representation of a pool state.
func (s PoolState) String() string {
	switch s {
	case PoolStateStopped:
		return "stopped"
	case PoolStateRunning:
		return "running"
	case PoolStateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Task is one unit of work. The context is canceled when the pool shuts
// down without waiting.
type Task func(ctx context.Context)

// Pool runs tasks on a bounded set of goroutines. Submission blocks while
// every slot is busy, which lets the scheduler loop throttle itself to the
// pool's real capacity.
type Pool struct {
	config Config
	log    logger.Logger
	state  atomic.Int32

	mu   sync.Mutex
	cond *sync.Cond
	busy int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Stats
	tasksExecuted atomic.Int64
	tasksPanicked atomic.Int64
	peakBusyCount atomic.Int64
}

// NewPool creates a worker pool. Call Start before submitting tasks.
func NewPool(cfg Config, log logger.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	p := &Pool{config: cfg, log: log}
	p.cond = sync.NewCond(&p.mu)
	p.state.Store(int32(PoolStateStopped))
	return p, nil
}

// Start makes the pool accept tasks.
func (p *Pool) Start() error {
	if !p.state.CompareAndSwap(int32(PoolStateStopped), int32(PoolStateRunning)) {
		return ErrPoolNotStopped
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.log.Info("worker pool started", logger.Int("pool_size", p.config.PoolSize))
	return nil
}

// BlockForAvailableSlots blocks until at least one execution slot is free
// or the pool begins shutting down. Returns the number of free slots, or 0
// when shutting down.
func (p *Pool) BlockForAvailableSlots() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.busy >= p.config.PoolSize && p.State() == PoolStateRunning {
		p.cond.Wait()
	}
	if p.State() != PoolStateRunning {
		return 0
	}
	return p.config.PoolSize - p.busy
}

// Submit runs a task on a pool goroutine, blocking while every slot is
// busy. Returns false when the pool is not running, in which case the task
// was not started.
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	for p.busy >= p.config.PoolSize && p.State() == PoolStateRunning {
		p.cond.Wait()
	}
	if p.State() != PoolStateRunning {
		p.mu.Unlock()
		return false
	}
	p.busy++
	if busy := int64(p.busy); busy > p.peakBusyCount.Load() {
		p.peakBusyCount.Store(busy)
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(task)
	return true
}

// run executes one task, containing panics so a misbehaving job cannot
// take down the pool.
func (p *Pool) run(task Task) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.tasksPanicked.Add(1)
			p.log.Error("task panicked", logger.Any("panic", r))
		}
		p.mu.Lock()
		p.busy--
		p.mu.Unlock()
		p.cond.Broadcast()
	}()

	task(p.ctx)
	p.tasksExecuted.Add(1)
}

// Shutdown stops the pool. With wait set it blocks for in-flight tasks up
// to the drain timeout; otherwise it cancels their context and returns.
func (p *Pool) Shutdown(wait bool) {
	// the state flip and broadcast happen under the mutex so a waiter can
	// never re-check the state and block after the wakeup has been sent
	p.mu.Lock()
	if !p.state.CompareAndSwap(int32(PoolStateRunning), int32(PoolStateDraining)) {
		p.mu.Unlock()
		return
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	if !wait {
		p.cancel()
		p.state.Store(int32(PoolStateStopped))
		p.log.Info("worker pool stopped without draining")
		return
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("worker pool drained")
	case <-time.After(p.config.DrainTimeout):
		p.log.Warn("worker pool drain timeout exceeded",
			logger.Duration("timeout", p.config.DrainTimeout))
	}

	p.cancel()
	p.state.Store(int32(PoolStateStopped))
}

// State returns the current pool state.
func (p *Pool) State() PoolState {
	return PoolState(p.state.Load())
}

// IsRunning returns true if the pool accepts tasks.
func (p *Pool) IsRunning() bool {
	return p.State() == PoolStateRunning
}

// Size returns the pool size.
func (p *Pool) Size() int {
	return p.config.PoolSize
}

// BusyCount returns the number of busy slots.
func (p *Pool) BusyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	busy := p.BusyCount()
	return PoolStats{
		State:         p.State(),
		PoolSize:      p.config.PoolSize,
		BusySlots:     busy,
		IdleSlots:     p.config.PoolSize - busy,
		TasksExecuted: p.tasksExecuted.Load(),
		TasksPanicked: p.tasksPanicked.Load(),
		PeakBusySlots: int(p.peakBusyCount.Load()),
	}
}

// PoolStats holds statistics for the pool.
type PoolStats struct {
	State         PoolState
	PoolSize      int
	BusySlots     int
	IdleSlots     int
	TasksExecuted int64
	TasksPanicked int64
	PeakBusySlots int
}

// Utilization returns the pool utilization as a percentage.
func (s PoolStats) Utilization() float64 {
	if s.PoolSize == 0 {
		return 0
	}
	return float64(s.BusySlots) / float64(s.PoolSize) * poolPercentageMultiplier
}
