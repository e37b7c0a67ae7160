package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/logger"
)

const (
	// standbyPollInterval is the sleep between standby checks.
	standbyPollInterval = 1 * time.Second

	// preFireWaitSlice bounds each wait before a due fire so schedule
	// changes and shutdown are noticed promptly.
	preFireWaitSlice = 50 * time.Millisecond

	// fireSpinThreshold is how close to the fire time the loop stops
	// waiting and fires.
	fireSpinThreshold = 2 * time.Millisecond
)

// JobExecutionError lets a job steer what happens to its trigger after a
// failed execution. Plain errors mark the fired trigger errored.
type JobExecutionError struct {
	Err error

	// RefireImmediately re-executes the job in the same slot, bumping the
	// context's RefireCount.
	RefireImmediately bool

	// UnscheduleFiringTrigger marks the fired trigger complete.
	UnscheduleFiringTrigger bool

	// UnscheduleAllTriggers marks every trigger of the job complete.
	UnscheduleAllTriggers bool
}

// Error returns the wrapped error message.
func (e *JobExecutionError) Error() string {
	if e.Err == nil {
		return "job execution error"
	}
	return e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *JobExecutionError) Unwrap() error { return e.Err }

// signalSchedulingChange wakes the loop. candidate carries the earliest
// fire time the change introduced; nil means unknown, which forces a
// release of any batch the loop is holding.
func (s *Scheduler) signalSchedulingChange(candidate *time.Time) {
	s.sigMu.Lock()
	if !s.sigReceived {
		s.sigReceived = true
		s.sigTime = domain.CloneTimePtr(candidate)
	} else if s.sigTime != nil {
		if candidate == nil {
			s.sigTime = nil
		} else if candidate.Before(*s.sigTime) {
			s.sigTime = domain.CloneTimePtr(candidate)
		}
	}
	s.sigMu.Unlock()

	select {
	case s.sigChan <- struct{}{}:
	default:
	}
}

// clearSignaledChange resets the change marker before a new acquisition.
func (s *Scheduler) clearSignaledChange() {
	s.sigMu.Lock()
	s.sigReceived = false
	s.sigTime = nil
	s.sigMu.Unlock()

	select {
	case <-s.sigChan:
	default:
	}
}

// scheduleChangedBefore reports whether a schedule change happened that
// may introduce a fire earlier than fireTime.
func (s *Scheduler) scheduleChangedBefore(fireTime time.Time) bool {
	s.sigMu.Lock()
	defer s.sigMu.Unlock()
	if !s.sigReceived {
		return false
	}
	return s.sigTime == nil || s.sigTime.Before(fireTime)
}

// waitForSignal sleeps up to d, waking early on a schedule change or
// shutdown. Returns true when shutdown was requested.
func (s *Scheduler) waitForSignal(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-s.sigChan:
		return false
	case <-s.halt:
		return true
	}
}

func (s *Scheduler) haltRequested() bool {
	select {
	case <-s.halt:
		return true
	default:
		return false
	}
}

func (s *Scheduler) releaseAll(acquired []domain.OperableTrigger) {
	for _, trig := range acquired {
		s.store.ReleaseAcquiredTrigger(trig)
	}
}

// run is the scheduling loop. It acquires due triggers, waits out their
// fire times in short slices, fires them, and hands the executions to the
// worker pool.
func (s *Scheduler) run() {
	defer close(s.loopDone)

	for {
		if s.haltRequested() {
			return
		}
		if s.State() == StateStandby {
			if s.waitForSignal(standbyPollInterval) {
				return
			}
			continue
		}

		available := s.pool.BlockForAvailableSlots()
		if available < 1 {
			// pool is draining; shutdown follows
			if s.waitForSignal(standbyPollInterval) {
				return
			}
			continue
		}

		now := s.clock()
		s.clearSignaledChange()
		acquired := s.store.AcquireNextTriggers(
			now.Add(s.config.IdleWaitTime),
			min(available, s.config.BatchMaxSize),
			s.config.BatchTimeWindow,
		)
		if len(acquired) == 0 {
			if s.waitForSignal(s.config.IdleWaitTime) {
				return
			}
			continue
		}

		fireTime := *acquired[0].NextFireTime()
		released := false
		for {
			now = s.clock()
			wait := fireTime.Sub(now)
			if wait <= fireSpinThreshold {
				break
			}
			if s.waitForSignal(min(wait, preFireWaitSlice)) {
				s.releaseAll(acquired)
				return
			}
			if s.scheduleChangedBefore(fireTime) {
				s.releaseAll(acquired)
				released = true
				break
			}
		}
		if released {
			continue
		}
		if s.State() != StateStarted {
			s.releaseAll(acquired)
			continue
		}

		for i, bundle := range s.store.TriggersFired(acquired) {
			if bundle == nil {
				s.store.ReleaseAcquiredTrigger(acquired[i])
				continue
			}
			s.fire(bundle)
		}
	}
}

// fire builds the execution for one fired bundle and submits it to the
// pool.
func (s *Scheduler) fire(bundle *domain.TriggerFiredBundle) {
	schedulerCtx := s.contextSnapshot()

	job, err := s.factory.NewJob(bundle, schedulerCtx)
	if err != nil {
		s.notifySchedulerError(
			fmt.Sprintf("job factory failed for job %s", bundle.JobDetail.Key), err)
		s.store.TriggeredJobComplete(bundle.Trigger, bundle.JobDetail,
			domain.InstructionSetAllJobTriggersError)
		return
	}

	merged := domain.NewJobDataMap()
	merged.Merge(schedulerCtx)
	merged.Merge(bundle.JobDetail.JobData)
	merged.Merge(bundle.Trigger.JobData())

	jec := &domain.JobExecutionContext{
		JobDetail:         bundle.JobDetail,
		Trigger:           bundle.Trigger,
		MergedJobDataMap:  merged,
		FireTime:          bundle.FireTime,
		ScheduledFireTime: bundle.ScheduledFireTime,
		PreviousFireTime:  bundle.PreviousFireTime,
		NextFireTime:      bundle.NextFireTime,
		FireInstanceID:    bundle.Trigger.FireInstanceID(),
	}

	if ok := s.pool.Submit(func(ctx context.Context) { s.runShell(ctx, job, jec, bundle) }); !ok {
		s.notifySchedulerError(
			fmt.Sprintf("worker pool rejected execution of job %s", bundle.JobDetail.Key),
			errors.New("pool is not running"))
		s.store.TriggeredJobComplete(bundle.Trigger, bundle.JobDetail,
			domain.InstructionSetTriggerError)
	}
}

// runShell runs one execution on a pool goroutine: listener notifications,
// veto handling, the job itself, and the completion protocol.
func (s *Scheduler) runShell(ctx context.Context, job domain.Job, jec *domain.JobExecutionContext, bundle *domain.TriggerFiredBundle) {
	s.listeners.notifyTriggerFired(jec.Trigger, jec)
	if s.listeners.vetoJobExecution(jec.Trigger, jec) {
		s.log.Debug("job execution vetoed",
			logger.String("job", jec.JobDetail.Key.String()),
			logger.String("trigger", jec.Trigger.Key().String()))
		s.listeners.notifyJobExecutionVetoed(jec)
		s.store.TriggeredJobComplete(bundle.Trigger, jec.JobDetail, domain.InstructionNoop)
		return
	}

	for {
		s.listeners.notifyJobToBeExecuted(jec)
		s.trackExecuting(jec)
		start := s.clock()
		err := executeContained(ctx, job, jec)
		duration := s.clock().Sub(start)
		s.untrackExecuting(jec)
		s.listeners.notifyJobWasExecuted(jec, err)

		instruction := domain.InstructionNoop
		var jee *JobExecutionError
		switch {
		case errors.As(err, &jee):
			if jee.RefireImmediately {
				jec.RefireCount++
				s.log.Debug("job requested immediate refire",
					logger.String("job", jec.JobDetail.Key.String()),
					logger.Int("refire_count", jec.RefireCount))
				continue
			}
			switch {
			case jee.UnscheduleAllTriggers:
				instruction = domain.InstructionSetAllJobTriggersComplete
			case jee.UnscheduleFiringTrigger:
				instruction = domain.InstructionSetTriggerComplete
			default:
				instruction = domain.InstructionSetTriggerError
			}
			s.notifySchedulerError(
				fmt.Sprintf("job %s failed", jec.JobDetail.Key), err)
		case err != nil:
			instruction = domain.InstructionSetTriggerError
			s.notifySchedulerError(
				fmt.Sprintf("job %s failed", jec.JobDetail.Key), err)
		default:
			s.log.Debug("job executed",
				logger.String("job", jec.JobDetail.Key.String()),
				logger.Duration("duration", duration))
		}

		s.listeners.notifyTriggerComplete(jec.Trigger, jec, instruction)
		s.store.TriggeredJobComplete(bundle.Trigger, jec.JobDetail, instruction)
		return
	}
}

// executeContained invokes the job, converting a panic into an error.
func executeContained(ctx context.Context, job domain.Job, jec *domain.JobExecutionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Execute(ctx, jec)
}

func (s *Scheduler) trackExecuting(jec *domain.JobExecutionContext) {
	s.execMu.Lock()
	s.executing[jec.FireInstanceID] = jec
	s.execMu.Unlock()
}

func (s *Scheduler) untrackExecuting(jec *domain.JobExecutionContext) {
	s.execMu.Lock()
	delete(s.executing, jec.FireInstanceID)
	s.execMu.Unlock()
}
