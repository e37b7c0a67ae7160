package trigger

import (
	"fmt"
	"time"

	"github.com/jonesrussell/goquartz/internal/domain"
)

// RepeatIndefinitely makes a simple trigger repeat until its end time.
const RepeatIndefinitely = -1

// Misfire instructions understood by the simple family, in addition to the
// shared smart and ignore sentinels.
const (
	// MisfireInstructionFireNow fires immediately once, then the original
	// pattern continues.
	MisfireInstructionFireNow = 1
	// MisfireInstructionRescheduleNowWithExistingRepeatCount restarts the
	// pattern now, keeping the configured repeat count.
	MisfireInstructionRescheduleNowWithExistingRepeatCount = 2
	// MisfireInstructionRescheduleNowWithRemainingRepeatCount restarts the
	// pattern now with only the fires that remain.
	MisfireInstructionRescheduleNowWithRemainingRepeatCount = 3
	// MisfireInstructionRescheduleNextWithRemainingCount slides to the next
	// pattern slot at or after now with only the fires that remain.
	MisfireInstructionRescheduleNextWithRemainingCount = 4
	// MisfireInstructionRescheduleNextWithExistingCount slides to the next
	// pattern slot at or after now, keeping the configured repeat count.
	MisfireInstructionRescheduleNextWithExistingCount = 5
)

// SimpleTrigger fires at its start time and then every repeat interval, a
// fixed number of times or indefinitely.
type SimpleTrigger struct {
	baseTrigger
	repeatInterval time.Duration
	repeatCount    int
	timesTriggered int
}

// NewSimple creates a simple trigger that fires once at its start time.
// Configure repetition with WithRepeatCount and WithRepeatInterval.
func NewSimple(key TriggerKey, jobKey JobKey) *SimpleTrigger {
	return &SimpleTrigger{baseTrigger: newBase(key, jobKey)}
}

// WithDescription sets the optional description.
func (t *SimpleTrigger) WithDescription(d string) *SimpleTrigger { t.description = d; return t }

// WithCalendarName names the exclusion calendar consulted for fire times.
func (t *SimpleTrigger) WithCalendarName(name string) *SimpleTrigger { t.calendarName = name; return t }

// WithJobData sets trigger-scoped data merged into executions.
func (t *SimpleTrigger) WithJobData(data domain.JobDataMap) *SimpleTrigger { t.jobData = data; return t }

// WithPriority sets the tie-breaking priority. Higher wins.
func (t *SimpleTrigger) WithPriority(p int) *SimpleTrigger { t.priority = p; return t }

// WithStartTime sets the first fire time.
func (t *SimpleTrigger) WithStartTime(at time.Time) *SimpleTrigger { t.startTime = at; return t }

// WithEndTime truncates the schedule.
func (t *SimpleTrigger) WithEndTime(at time.Time) *SimpleTrigger {
	t.endTime = domain.TimePtr(at)
	return t
}

// WithMisfireInstruction selects the misfire recovery policy.
func (t *SimpleTrigger) WithMisfireInstruction(instruction int) *SimpleTrigger {
	t.misfireInstruction = instruction
	return t
}

// WithRepeatCount sets how many times the trigger fires after the first
// fire. RepeatIndefinitely repeats until the end time.
func (t *SimpleTrigger) WithRepeatCount(count int) *SimpleTrigger { t.repeatCount = count; return t }

// WithRepeatInterval sets the spacing between fires.
func (t *SimpleTrigger) WithRepeatInterval(interval time.Duration) *SimpleTrigger {
	t.repeatInterval = interval
	return t
}

// WithClock overrides the time source used by misfire recovery.
func (t *SimpleTrigger) WithClock(now func() time.Time) *SimpleTrigger { t.nowFn = now; return t }

// RepeatCount returns the configured repeat count.
func (t *SimpleTrigger) RepeatCount() int { return t.repeatCount }

// RepeatInterval returns the spacing between fires.
func (t *SimpleTrigger) RepeatInterval() time.Duration { return t.repeatInterval }

// TimesTriggered returns how many times the trigger has fired.
func (t *SimpleTrigger) TimesTriggered() int { return t.timesTriggered }

// Validate checks the trigger's configuration.
func (t *SimpleTrigger) Validate() error {
	if err := t.validateBase(); err != nil {
		return err
	}
	if t.repeatCount < RepeatIndefinitely {
		return fmt.Errorf("%w: repeat count %d", domain.ErrInvalidTrigger, t.repeatCount)
	}
	if t.repeatCount != 0 && t.repeatInterval <= 0 {
		return fmt.Errorf("%w: repeat interval must be positive when repeating", domain.ErrInvalidTrigger)
	}
	return nil
}

// fireTimeAfter returns the next pattern slot strictly after the given
// instant, ignoring the calendar. Nil when the pattern is exhausted.
func (t *SimpleTrigger) fireTimeAfter(after time.Time) *time.Time {
	if t.repeatCount != RepeatIndefinitely && t.timesTriggered > t.repeatCount {
		return nil
	}
	if after.Before(t.startTime) {
		return t.boundedSlot(t.startTime)
	}
	if t.repeatInterval <= 0 {
		return nil
	}

	elapsed := after.Sub(t.startTime)
	k := int64(elapsed/t.repeatInterval) + 1
	if t.repeatCount != RepeatIndefinitely && k > int64(t.repeatCount) {
		return nil
	}
	return t.boundedSlot(t.startTime.Add(time.Duration(k) * t.repeatInterval))
}

// boundedSlot applies the end-time bound to a pattern slot.
func (t *SimpleTrigger) boundedSlot(slot time.Time) *time.Time {
	if !t.withinEnd(slot) {
		return nil
	}
	return domain.TimePtr(slot)
}

// ComputeFirstFireTime computes and stores the first fire time the calendar
// includes, or nil when the schedule can never fire.
func (t *SimpleTrigger) ComputeFirstFireTime(cal domain.Calendar) *time.Time {
	first := t.boundedSlot(t.startTime)
	t.nextFireTime = skipExcluded(cal, first, t.fireTimeAfter)
	return domain.CloneTimePtr(t.nextFireTime)
}

// Triggered advances the schedule after a fire.
func (t *SimpleTrigger) Triggered(cal domain.Calendar) {
	t.timesTriggered++
	t.previousFireTime = t.nextFireTime
	if t.nextFireTime == nil {
		return
	}
	next := t.fireTimeAfter(*t.nextFireTime)
	t.nextFireTime = skipExcluded(cal, next, t.fireTimeAfter)
}

// UpdateAfterMisfire applies the trigger's misfire instruction.
func (t *SimpleTrigger) UpdateAfterMisfire(cal domain.Calendar) {
	instruction := t.misfireInstruction
	if instruction == domain.MisfireInstructionSmartPolicy {
		if t.repeatCount == 0 {
			instruction = MisfireInstructionFireNow
		} else {
			instruction = MisfireInstructionRescheduleNowWithRemainingRepeatCount
		}
	}

	now := t.now()
	switch instruction {
	case domain.MisfireInstructionIgnorePolicy:
		return
	case MisfireInstructionFireNow:
		t.nextFireTime = domain.TimePtr(now)
	case MisfireInstructionRescheduleNowWithExistingRepeatCount:
		// Rebase the pattern; fires already consumed still count, so the
		// remaining fires carry over.
		t.startTime = now
		t.nextFireTime = t.boundedSlot(now)
	case MisfireInstructionRescheduleNowWithRemainingRepeatCount:
		t.restartPatternAt(now, t.remainingCount())
	case MisfireInstructionRescheduleNextWithExistingCount:
		t.nextFireTime = t.fireTimeAfter(now.Add(-time.Millisecond))
	case MisfireInstructionRescheduleNextWithRemainingCount:
		// Missed slots are forfeited, not made up.
		if t.repeatCount != RepeatIndefinitely && t.repeatInterval > 0 && now.After(t.startTime) {
			missed := int(now.Sub(t.startTime) / t.repeatInterval)
			if missed > t.timesTriggered {
				t.timesTriggered = missed
			}
		}
		t.nextFireTime = t.fireTimeAfter(now.Add(-time.Millisecond))
	default:
		t.nextFireTime = t.fireTimeAfter(now)
	}
	t.nextFireTime = skipExcluded(cal, t.nextFireTime, t.fireTimeAfter)
}

// remainingCount returns the fires left in the pattern.
func (t *SimpleTrigger) remainingCount() int {
	if t.repeatCount == RepeatIndefinitely {
		return RepeatIndefinitely
	}
	remaining := t.repeatCount - t.timesTriggered
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// restartPatternAt rebases the pattern so the next fire is now and the given
// count of repeats follows.
func (t *SimpleTrigger) restartPatternAt(now time.Time, count int) {
	t.startTime = now
	t.repeatCount = count
	t.timesTriggered = 0
	t.nextFireTime = t.boundedSlot(now)
}

// UpdateWithNewCalendar recomputes the next fire time against a replacement
// calendar.
func (t *SimpleTrigger) UpdateWithNewCalendar(cal domain.Calendar, misfireThreshold time.Duration) {
	recomputeWithNewCalendar(&t.baseTrigger, cal, misfireThreshold, t.fireTimeAfter)
}

// Clone returns a deep copy.
func (t *SimpleTrigger) Clone() domain.OperableTrigger {
	out := *t
	out.baseTrigger = t.cloneBase()
	return &out
}
