package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/scheduler"
	"github.com/jonesrussell/goquartz/internal/store"
	"github.com/jonesrussell/goquartz/internal/trigger"
	"github.com/jonesrussell/goquartz/internal/worker"
)

type testHarness struct {
	sched   *scheduler.Scheduler
	store   *store.RAMJobStore
	factory *scheduler.SimpleJobFactory
}

func newHarness(t *testing.T, mutate ...func(*scheduler.Config)) *testHarness {
	t.Helper()

	cfg := scheduler.DefaultConfig().
		WithInstanceName("test").
		WithIdleWaitTime(100 * time.Millisecond)
	for _, fn := range mutate {
		fn(&cfg)
	}

	poolCfg := worker.DefaultConfig()
	poolCfg.PoolSize = 4
	poolCfg.DrainTimeout = 5 * time.Second
	pool, err := worker.NewPool(poolCfg, nil)
	require.NoError(t, err)

	st := store.New(nil)
	factory := scheduler.NewSimpleJobFactory()
	sched, err := scheduler.New(cfg, st, pool, factory, nil)
	require.NoError(t, err)

	t.Cleanup(func() { sched.Shutdown(true) })
	return &testHarness{sched: sched, store: st, factory: factory}
}

// countingJob records executions and optionally sleeps or fails.
type countingJob struct {
	executions atomic.Int64
	sleep      time.Duration
	execute    func(jec *domain.JobExecutionContext) error
}

func (j *countingJob) fn() domain.JobFunc {
	return func(_ context.Context, jec *domain.JobExecutionContext) error {
		defer j.executions.Add(1)
		if j.sleep > 0 {
			time.Sleep(j.sleep)
		}
		if j.execute != nil {
			return j.execute(jec)
		}
		return nil
	}
}

type recordingTriggerListener struct {
	scheduler.TriggerListenerBase
	mu       sync.Mutex
	misfired []domain.TriggerKey
	complete []domain.CompletedExecutionInstruction
	veto     bool
	vetoed   atomic.Int64
}

func (l *recordingTriggerListener) VetoJobExecution(domain.Trigger, *domain.JobExecutionContext) bool {
	if l.veto {
		l.vetoed.Add(1)
	}
	return l.veto
}

func (l *recordingTriggerListener) TriggerMisfired(trig domain.Trigger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.misfired = append(l.misfired, trig.Key())
}

func (l *recordingTriggerListener) TriggerComplete(_ domain.Trigger, _ *domain.JobExecutionContext, inst domain.CompletedExecutionInstruction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.complete = append(l.complete, inst)
}

func (l *recordingTriggerListener) misfireCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.misfired)
}

func jobDetail(name, jobType string) *domain.JobDetail {
	return &domain.JobDetail{Key: domain.NewJobKey(name), Type: jobType}
}

func TestConfig_Validate(t *testing.T) {
	cfg := scheduler.DefaultConfig()
	assert.NoError(t, cfg.Validate())

	assert.Error(t, cfg.WithInstanceName("").Validate())
	assert.Error(t, cfg.WithIdleWaitTime(0).Validate())
	assert.Error(t, cfg.WithBatchMaxSize(0).Validate())
	assert.Error(t, cfg.WithBatchTimeWindow(-time.Second).Validate())
}

func TestScheduler_SingleShotFiresPromptly(t *testing.T) {
	h := newHarness(t)
	job := &countingJob{}
	h.factory.RegisterFunc("counting", job.fn())
	require.NoError(t, h.sched.Start())

	_, err := h.sched.ScheduleJob(jobDetail("one-shot", "counting"),
		trigger.NewSimple(domain.NewTriggerKey("one-shot"), domain.NewJobKey("one-shot")))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return job.executions.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_RepeatingTriggerFiresRepeatedly(t *testing.T) {
	h := newHarness(t)
	job := &countingJob{}
	h.factory.RegisterFunc("counting", job.fn())
	require.NoError(t, h.sched.Start())

	trig := trigger.NewSimple(domain.NewTriggerKey("repeat"), domain.NewJobKey("repeat")).
		WithRepeatCount(3).
		WithRepeatInterval(30 * time.Millisecond)
	_, err := h.sched.ScheduleJob(jobDetail("repeat", "counting"), trig)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return job.executions.Load() == 4
	}, 3*time.Second, 10*time.Millisecond)

	// exhausted schedule ends up complete
	assert.Eventually(t, func() bool {
		return h.sched.GetTriggerState(domain.NewTriggerKey("repeat")) == domain.TriggerStateComplete
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_PauseResumeMisfiresOnce(t *testing.T) {
	h := newHarness(t, func(cfg *scheduler.Config) {
		cfg.MisfireThreshold = 20 * time.Millisecond
	})
	job := &countingJob{}
	h.factory.RegisterFunc("counting", job.fn())

	listener := &recordingTriggerListener{}
	h.sched.AddTriggerListener(listener)
	require.NoError(t, h.sched.Start())

	key := domain.NewTriggerKey("paused")
	trig := trigger.NewSimple(key, domain.NewJobKey("paused")).
		WithStartTime(time.Now().Add(50 * time.Millisecond)).
		WithRepeatCount(10).
		WithRepeatInterval(50 * time.Millisecond).
		WithMisfireInstruction(trigger.MisfireInstructionRescheduleNextWithRemainingCount)
	_, err := h.sched.ScheduleJob(jobDetail("paused", "counting"), trig)
	require.NoError(t, err)

	h.sched.PauseTrigger(key)
	time.Sleep(150 * time.Millisecond)
	require.Zero(t, job.executions.Load())

	h.sched.ResumeTrigger(key)

	assert.Eventually(t, func() bool {
		return job.executions.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, listener.misfireCount())
}

func TestScheduler_ConcurrentExecutionDisallowedSerializes(t *testing.T) {
	h := newHarness(t)

	var current, peak atomic.Int64
	job := &countingJob{execute: func(*domain.JobExecutionContext) error {
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(60 * time.Millisecond)
		current.Add(-1)
		return nil
	}}
	h.factory.RegisterFunc("slow", job.fn())
	require.NoError(t, h.sched.Start())

	detail := jobDetail("serialized", "slow")
	detail.ConcurrentExecutionDisallowed = true
	trig := trigger.NewSimple(domain.NewTriggerKey("serialized"), detail.Key).
		WithRepeatCount(3).
		WithRepeatInterval(20 * time.Millisecond).
		WithMisfireInstruction(domain.MisfireInstructionIgnorePolicy)
	_, err := h.sched.ScheduleJob(detail, trig)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return job.executions.Load() >= 3
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), peak.Load())
}

func TestScheduler_VetoSkipsExecution(t *testing.T) {
	h := newHarness(t)
	job := &countingJob{}
	h.factory.RegisterFunc("counting", job.fn())

	listener := &recordingTriggerListener{veto: true}
	h.sched.AddTriggerListener(listener)
	require.NoError(t, h.sched.Start())

	_, err := h.sched.ScheduleJob(jobDetail("vetoed", "counting"),
		trigger.NewSimple(domain.NewTriggerKey("vetoed"), domain.NewJobKey("vetoed")))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return listener.vetoed.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, job.executions.Load())
}

func TestScheduler_JobErrorSetsTriggerError(t *testing.T) {
	h := newHarness(t)
	job := &countingJob{execute: func(*domain.JobExecutionContext) error {
		return assert.AnError
	}}
	h.factory.RegisterFunc("failing", job.fn())
	require.NoError(t, h.sched.Start())

	key := domain.NewTriggerKey("failing")
	trig := trigger.NewSimple(key, domain.NewJobKey("failing")).
		WithRepeatCount(5).
		WithRepeatInterval(time.Minute)
	_, err := h.sched.ScheduleJob(jobDetail("failing", "failing"), trig)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return h.sched.GetTriggerState(key) == domain.TriggerStateError
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), job.executions.Load())
}

func TestScheduler_RefireImmediately(t *testing.T) {
	h := newHarness(t)
	job := &countingJob{execute: func(jec *domain.JobExecutionContext) error {
		if jec.RefireCount == 0 {
			return &scheduler.JobExecutionError{Err: assert.AnError, RefireImmediately: true}
		}
		return nil
	}}
	h.factory.RegisterFunc("flaky", job.fn())
	require.NoError(t, h.sched.Start())

	key := domain.NewTriggerKey("flaky")
	_, err := h.sched.ScheduleJob(jobDetail("flaky", "flaky"),
		trigger.NewSimple(key, domain.NewJobKey("flaky")))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return job.executions.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotEqual(t, domain.TriggerStateError, h.sched.GetTriggerState(key))
}

func TestScheduler_TriggerJobFiresOnceWithData(t *testing.T) {
	h := newHarness(t)

	var got atomic.Value
	job := &countingJob{execute: func(jec *domain.JobExecutionContext) error {
		got.Store(jec.MergedJobDataMap.GetString("source"))
		return nil
	}}
	h.factory.RegisterFunc("manual", job.fn())
	require.NoError(t, h.sched.Start())

	detail := jobDetail("manual", "manual")
	detail.Durable = true
	require.NoError(t, h.sched.AddJob(detail, false, false))
	require.NoError(t, h.sched.TriggerJob(detail.Key, domain.JobDataMap{"source": "api"}))

	assert.Eventually(t, func() bool {
		return job.executions.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "api", got.Load())
}

func TestScheduler_TriggerJobRequiresStoredJob(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Start())

	err := h.sched.TriggerJob(domain.NewJobKey("missing"), nil)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestScheduler_StandbyStopsFiring(t *testing.T) {
	h := newHarness(t)
	job := &countingJob{}
	h.factory.RegisterFunc("counting", job.fn())
	require.NoError(t, h.sched.Start())

	trig := trigger.NewSimple(domain.NewTriggerKey("steady"), domain.NewJobKey("steady")).
		WithRepeatCount(trigger.RepeatIndefinitely).
		WithRepeatInterval(30 * time.Millisecond).
		WithMisfireInstruction(domain.MisfireInstructionIgnorePolicy)
	_, err := h.sched.ScheduleJob(jobDetail("steady", "counting"), trig)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return job.executions.Load() >= 2
	}, 3*time.Second, 10*time.Millisecond)

	h.sched.Standby()
	assert.True(t, h.sched.InStandby())
	time.Sleep(100 * time.Millisecond)
	snapshot := job.executions.Load()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, snapshot, job.executions.Load())

	require.NoError(t, h.sched.Start())
	assert.Eventually(t, func() bool {
		return job.executions.Load() > snapshot
	}, 3*time.Second, 10*time.Millisecond)
}

func TestScheduler_ShutdownWaitDrainsRunningJob(t *testing.T) {
	h := newHarness(t)
	var finished atomic.Bool
	job := &countingJob{execute: func(*domain.JobExecutionContext) error {
		time.Sleep(80 * time.Millisecond)
		finished.Store(true)
		return nil
	}}
	h.factory.RegisterFunc("slow", job.fn())
	require.NoError(t, h.sched.Start())

	_, err := h.sched.ScheduleJob(jobDetail("drain", "slow"),
		trigger.NewSimple(domain.NewTriggerKey("drain"), domain.NewJobKey("drain")))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.sched.GetCurrentlyExecutingJobs()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.sched.Shutdown(true)
	assert.True(t, finished.Load())
	assert.True(t, h.sched.IsShutdown())
	assert.ErrorIs(t, h.sched.Start(), domain.ErrSchedulerShutdown)
}

func TestScheduler_RescheduleJob(t *testing.T) {
	h := newHarness(t)
	job := &countingJob{}
	h.factory.RegisterFunc("counting", job.fn())

	key := domain.NewTriggerKey("resched")
	jobKey := domain.NewJobKey("resched")
	far := trigger.NewSimple(key, jobKey).
		WithStartTime(time.Now().Add(time.Hour))
	_, err := h.sched.ScheduleJob(jobDetail("resched", "counting"), far)
	require.NoError(t, err)

	soon := trigger.NewSimple(key, jobKey).
		WithStartTime(time.Now().Add(time.Minute))
	fireTime, err := h.sched.RescheduleJob(key, soon)
	require.NoError(t, err)
	require.NotNil(t, fireTime)
	assert.WithinDuration(t, time.Now().Add(time.Minute), *fireTime, time.Second)

	missing, err := h.sched.RescheduleJob(domain.NewTriggerKey("missing"),
		trigger.NewSimple(domain.NewTriggerKey("missing"), jobKey))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestScheduler_UnscheduleAndDelete(t *testing.T) {
	h := newHarness(t)
	job := &countingJob{}
	h.factory.RegisterFunc("counting", job.fn())

	key := domain.NewTriggerKey("gone")
	jobKey := domain.NewJobKey("gone")
	_, err := h.sched.ScheduleJob(jobDetail("gone", "counting"),
		trigger.NewSimple(key, jobKey).WithStartTime(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	assert.True(t, h.sched.UnscheduleJob(key))
	assert.False(t, h.sched.UnscheduleJob(key))
	// non-durable job went with its last trigger
	assert.False(t, h.sched.CheckJobExists(jobKey))

	_, err = h.sched.ScheduleJob(jobDetail("gone", "counting"),
		trigger.NewSimple(key, jobKey).WithStartTime(time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, h.sched.DeleteJob(jobKey))
	assert.False(t, h.sched.CheckTriggerExists(key))
}

func TestScheduler_AddJobRequiresDurability(t *testing.T) {
	h := newHarness(t)

	detail := jobDetail("fragile", "any")
	err := h.sched.AddJob(detail, false, false)
	assert.ErrorIs(t, err, scheduler.ErrJobNotDurable)

	assert.NoError(t, h.sched.AddJob(detail, false, true))
}

func TestScheduler_ListenerPanicIsContained(t *testing.T) {
	h := newHarness(t)
	job := &countingJob{}
	h.factory.RegisterFunc("counting", job.fn())

	h.sched.AddJobListener(panickyJobListener{})
	require.NoError(t, h.sched.Start())

	_, err := h.sched.ScheduleJob(jobDetail("sturdy", "counting"),
		trigger.NewSimple(domain.NewTriggerKey("sturdy"), domain.NewJobKey("sturdy")))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return job.executions.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

type panickyJobListener struct{ scheduler.JobListenerBase }

func (panickyJobListener) Name() string { return "panicky" }

func (panickyJobListener) JobToBeExecuted(*domain.JobExecutionContext) {
	panic("listener bug")
}

func TestScheduler_ScheduleJobValidation(t *testing.T) {
	h := newHarness(t)

	detail := jobDetail("mismatch", "any")
	other := trigger.NewSimple(domain.NewTriggerKey("mismatch"), domain.NewJobKey("other"))
	_, err := h.sched.ScheduleJob(detail, other)
	assert.ErrorIs(t, err, domain.ErrInvalidTrigger)

	withCal := trigger.NewSimple(domain.NewTriggerKey("cal"), detail.Key).
		WithCalendarName("missing")
	_, err = h.sched.ScheduleJob(detail, withCal)
	assert.ErrorIs(t, err, domain.ErrCalendarNotFound)

	// the job is not stored when its trigger is rejected
	assert.False(t, h.sched.CheckJobExists(detail.Key))
}
