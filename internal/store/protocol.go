package store

import (
	"time"

	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/logger"
)

// AcquireNextTriggers atomically selects up to maxCount waiting triggers
// whose next fire time falls within the batch window, applying misfire
// handling along the way. Selected triggers move to the acquired state,
// leave the time index, and are returned as clones carrying a fresh fire
// instance id.
//
// The window is anchored at noLaterThan plus timeWindow, then re-anchored
// to the first selected trigger's fire time so a batch never spans more
// than timeWindow.
func (s *RAMJobStore) AcquireNextTriggers(noLaterThan time.Time, maxCount int, timeWindow time.Duration) []domain.OperableTrigger {
	var after []func()
	defer func() { dispatch(after) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	var acquired []domain.OperableTrigger
	var excluded []*triggerWrapper
	var firstFireTime time.Time
	var haveFirst bool
	batchJobs := make(map[domain.JobKey]struct{})
	outerBatchEnd := noLaterThan.Add(timeWindow)

	for len(s.timeTriggers) > 0 {
		tw := s.popEarliestTimeTrigger()

		next := tw.trigger.NextFireTime()
		if next == nil {
			continue
		}

		if s.applyMisfire(tw, &after) {
			if tw.trigger.NextFireTime() != nil {
				s.insertTimeTrigger(tw)
			}
			continue
		}
		next = tw.trigger.NextFireTime()

		if next.After(outerBatchEnd) {
			s.insertTimeTrigger(tw)
			break
		}
		if haveFirst && next.After(firstFireTime.Add(timeWindow)) {
			s.insertTimeTrigger(tw)
			break
		}

		detail := s.jobsByKey[tw.jobKey]
		if detail != nil && detail.ConcurrentExecutionDisallowed {
			if _, dup := batchJobs[tw.jobKey]; dup {
				excluded = append(excluded, tw)
				continue
			}
			batchJobs[tw.jobKey] = struct{}{}
		}

		tw.state = stateAcquired
		tw.trigger.SetFireInstanceID(s.nextFireInstanceID())
		acquired = append(acquired, tw.trigger.Clone())

		if !haveFirst {
			firstFireTime = *next
			haveFirst = true
		}
		if len(acquired) >= maxCount {
			break
		}
	}

	// triggers skipped for batch-level job dedupe go back into the index
	for _, tw := range excluded {
		s.insertTimeTrigger(tw)
	}
	return acquired
}

// ReleaseAcquiredTrigger reverts an acquired trigger to waiting and puts it
// back into the time index. A trigger no longer in the acquired state is
// left alone.
func (s *RAMJobStore) ReleaseAcquiredTrigger(trig domain.OperableTrigger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tw := s.triggersByKey[trig.Key()]
	if tw == nil || tw.state != stateAcquired {
		return
	}
	tw.state = stateWaiting
	if tw.trigger.NextFireTime() != nil {
		s.insertTimeTrigger(tw)
	}
}

// TriggersFired marks a batch of acquired triggers as firing, advances each
// schedule, and returns one bundle per input trigger. A nil bundle means
// that trigger could not fire (it was no longer acquired, or its calendar
// has been removed) and the caller should release it.
func (s *RAMJobStore) TriggersFired(triggers []domain.OperableTrigger) []*domain.TriggerFiredBundle {
	var after []func()
	defer func() { dispatch(after) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	bundles := make([]*domain.TriggerFiredBundle, len(triggers))
	for i, trig := range triggers {
		tw := s.triggersByKey[trig.Key()]
		if tw == nil || tw.state != stateAcquired {
			continue
		}

		var cal domain.Calendar
		if name := tw.trigger.CalendarName(); name != "" {
			cal = s.calendarClone(name)
			if cal == nil {
				// calendar removed since acquisition; skip this fire
				s.log.Warn("skipping fire of trigger with removed calendar",
					logger.String("trigger", tw.key().String()),
					logger.String("calendar", name))
				continue
			}
		}

		prevFireTime := domain.CloneTimePtr(tw.trigger.PreviousFireTime())
		tw.trigger.Triggered(cal)
		tw.state = stateExecuting

		detail := s.jobsByKey[tw.jobKey]
		bundle := &domain.TriggerFiredBundle{
			JobDetail:         detail.Clone(),
			Trigger:           tw.trigger.Clone(),
			Calendar:          cal,
			FireTime:          s.now(),
			ScheduledFireTime: domain.CloneTimePtr(tw.trigger.PreviousFireTime()),
			PreviousFireTime:  prevFireTime,
			NextFireTime:      domain.CloneTimePtr(tw.trigger.NextFireTime()),
		}

		if detail.ConcurrentExecutionDisallowed {
			s.blockJob(tw)
		} else if tw.trigger.NextFireTime() != nil {
			tw.state = stateWaiting
			s.insertTimeTrigger(tw)
		} else {
			tw.state = stateWaiting
		}

		bundles[i] = bundle
	}
	return bundles
}

// blockJob records the fired trigger's job as blocked and moves every other
// trigger of that job out of contention. Caller holds the mutex.
func (s *RAMJobStore) blockJob(fired *triggerWrapper) {
	s.blockedJobs[fired.jobKey] = struct{}{}
	for _, tw := range s.triggersOfJob(fired.jobKey) {
		if tw == fired {
			continue
		}
		switch tw.state {
		case stateWaiting:
			tw.state = stateBlocked
		case statePaused:
			tw.state = statePausedBlocked
		}
		s.removeTimeTrigger(tw)
	}
	fired.state = stateBlocked
}

// TriggeredJobComplete records the outcome of an execution: persists job
// data when configured, unblocks non-concurrent jobs, and applies the
// completion instruction to the trigger.
func (s *RAMJobStore) TriggeredJobComplete(trig domain.OperableTrigger, detail *domain.JobDetail, instruction domain.CompletedExecutionInstruction) {
	var after []func()
	defer func() { dispatch(after) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	tw := s.triggersByKey[trig.Key()]
	sig := s.signaler

	if stored, exists := s.jobsByKey[detail.Key]; exists {
		if detail.PersistJobDataAfterExecution {
			stored.JobData = detail.JobData.Clone()
		}
		if detail.ConcurrentExecutionDisallowed {
			s.unblockJob(detail.Key)
		}
	} else if detail.ConcurrentExecutionDisallowed {
		// job deleted mid-execution; drop the block record anyway
		delete(s.blockedJobs, detail.Key)
	}

	if detail.ConcurrentExecutionDisallowed {
		after = append(after, func() { sig.SignalSchedulingChange(nil) })
	}

	if tw == nil {
		return
	}

	switch instruction {
	case domain.InstructionDeleteTrigger:
		// a reschedule during execution may have produced a future fire
		// time the caller's copy does not know about; keep the trigger
		// in that case
		if trig.NextFireTime() == nil && tw.trigger.NextFireTime() != nil {
			break
		}
		s.deleteTrigger(tw, &after)

	case domain.InstructionSetTriggerComplete:
		tw.state = stateComplete
		s.removeTimeTrigger(tw)
		after = append(after, func() { sig.SignalSchedulingChange(nil) })

	case domain.InstructionSetTriggerError:
		s.log.Info("trigger left in error state after execution",
			logger.String("trigger", tw.key().String()))
		tw.state = stateError
		s.removeTimeTrigger(tw)
		after = append(after, func() { sig.SignalSchedulingChange(nil) })

	case domain.InstructionSetAllJobTriggersComplete:
		for _, jt := range s.triggersOfJob(detail.Key) {
			jt.state = stateComplete
			s.removeTimeTrigger(jt)
		}
		after = append(after, func() { sig.SignalSchedulingChange(nil) })

	case domain.InstructionSetAllJobTriggersError:
		s.log.Info("all triggers of job left in error state after execution",
			logger.String("job", detail.Key.String()))
		for _, jt := range s.triggersOfJob(detail.Key) {
			jt.state = stateError
			s.removeTimeTrigger(jt)
		}
		after = append(after, func() { sig.SignalSchedulingChange(nil) })

	case domain.InstructionNoop, domain.InstructionReExecuteJob:
		// re-execution happens in the run shell before completion is
		// reported, so both land here: finalize the trigger when its
		// schedule is exhausted, otherwise it is already back in the index
		if tw.state == stateWaiting && tw.trigger.NextFireTime() == nil {
			tw.state = stateComplete
			s.removeTimeTrigger(tw)
			finalized := tw.trigger.Clone()
			after = append(after, func() { sig.NotifySchedulerListenersFinalized(finalized) })
		}
	}
}

// unblockJob releases a job's block and returns its triggers to
// contention. Caller holds the mutex.
func (s *RAMJobStore) unblockJob(jobKey domain.JobKey) {
	delete(s.blockedJobs, jobKey)
	for _, tw := range s.triggersOfJob(jobKey) {
		switch tw.state {
		case stateBlocked:
			tw.state = stateWaiting
			if tw.trigger.NextFireTime() != nil {
				s.insertTimeTrigger(tw)
			}
		case statePausedBlocked:
			tw.state = statePaused
		}
	}
}

// applyMisfire checks an overdue trigger and applies its misfire
// instruction. Returns true when the trigger's schedule changed (or
// finished) and the caller must re-evaluate it. Caller holds the mutex.
func (s *RAMJobStore) applyMisfire(tw *triggerWrapper, after *[]func()) bool {
	if s.misfireThreshold <= 0 {
		return false
	}
	misfireHorizon := s.now().Add(-s.misfireThreshold)

	next := tw.trigger.NextFireTime()
	if next == nil || !next.Before(misfireHorizon) {
		return false
	}
	if tw.trigger.MisfireInstruction() == domain.MisfireInstructionIgnorePolicy {
		return false
	}

	var cal domain.Calendar
	if name := tw.trigger.CalendarName(); name != "" {
		cal = s.calendarClone(name)
	}

	sig := s.signaler
	misfired := tw.trigger.Clone()
	*after = append(*after, func() { sig.NotifyTriggerListenersMisfired(misfired) })

	oldNext := *next
	tw.trigger.UpdateAfterMisfire(cal)

	newNext := tw.trigger.NextFireTime()
	if newNext == nil {
		tw.state = stateComplete
		s.removeTimeTrigger(tw)
		finalized := tw.trigger.Clone()
		*after = append(*after, func() { sig.NotifySchedulerListenersFinalized(finalized) })
		return true
	}
	if newNext.Equal(oldNext) {
		return false
	}
	return true
}
