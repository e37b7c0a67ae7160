// Package trigger implements the schedule families attached to jobs: the
// fixed-interval simple trigger, the cron-expression trigger, and the
// calendar-interval trigger. Each family computes fire times, advances on
// every fire, and recovers from misfires per its misfire instruction.
package trigger

import (
	"fmt"
	"time"

	"github.com/jonesrussell/goquartz/internal/domain"
)

// maxCalendarSkips bounds the search for a calendar-included fire time so a
// calendar that excludes everything cannot spin forever.
const maxCalendarSkips = 10000

// baseTrigger carries the state and accessors shared by every family.
type baseTrigger struct {
	key                TriggerKey
	jobKey             JobKey
	description        string
	calendarName       string
	jobData            domain.JobDataMap
	priority           int
	startTime          time.Time
	endTime            *time.Time
	nextFireTime       *time.Time
	previousFireTime   *time.Time
	misfireInstruction int
	fireInstanceID     string
	nowFn              func() time.Time
}

// TriggerKey aliases the domain key so callers building triggers do not need
// a second import for the common case.
type TriggerKey = domain.TriggerKey

// JobKey aliases the domain job key.
type JobKey = domain.JobKey

func newBase(key TriggerKey, jobKey JobKey) baseTrigger {
	return baseTrigger{
		key:       key,
		jobKey:    jobKey,
		jobData:   domain.JobDataMap{},
		priority:  domain.DefaultPriority,
		startTime: time.Now(),
		nowFn:     time.Now,
	}
}

func (b *baseTrigger) Key() TriggerKey              { return b.key }
func (b *baseTrigger) JobKey() JobKey               { return b.jobKey }
func (b *baseTrigger) Description() string          { return b.description }
func (b *baseTrigger) CalendarName() string         { return b.calendarName }
func (b *baseTrigger) JobData() domain.JobDataMap   { return b.jobData }
func (b *baseTrigger) Priority() int                { return b.priority }
func (b *baseTrigger) StartTime() time.Time         { return b.startTime }
func (b *baseTrigger) EndTime() *time.Time          { return b.endTime }
func (b *baseTrigger) NextFireTime() *time.Time     { return b.nextFireTime }
func (b *baseTrigger) PreviousFireTime() *time.Time { return b.previousFireTime }
func (b *baseTrigger) MisfireInstruction() int      { return b.misfireInstruction }
func (b *baseTrigger) FireInstanceID() string       { return b.fireInstanceID }

// SetNextFireTime overrides the computed next fire time.
func (b *baseTrigger) SetNextFireTime(t *time.Time) { b.nextFireTime = t }

// SetPreviousFireTime overrides the previous fire time.
func (b *baseTrigger) SetPreviousFireTime(t *time.Time) { b.previousFireTime = t }

// SetFireInstanceID records the id assigned when the trigger is acquired.
func (b *baseTrigger) SetFireInstanceID(id string) { b.fireInstanceID = id }

// now returns the current instant, overridable for tests.
func (b *baseTrigger) now() time.Time {
	if b.nowFn != nil {
		return b.nowFn()
	}
	return time.Now()
}

// cloneBase deep-copies the shared state.
func (b *baseTrigger) cloneBase() baseTrigger {
	out := *b
	out.jobData = b.jobData.Clone()
	out.endTime = domain.CloneTimePtr(b.endTime)
	out.nextFireTime = domain.CloneTimePtr(b.nextFireTime)
	out.previousFireTime = domain.CloneTimePtr(b.previousFireTime)
	return out
}

// validateBase checks the configuration common to every family.
func (b *baseTrigger) validateBase() error {
	if err := b.key.Validate(); err != nil {
		return err
	}
	if err := b.jobKey.Validate(); err != nil {
		return err
	}
	if b.startTime.IsZero() {
		return fmt.Errorf("%w: start time is required", domain.ErrInvalidTrigger)
	}
	if b.endTime != nil && b.endTime.Before(b.startTime) {
		return fmt.Errorf("%w: end time %s precedes start time %s",
			domain.ErrInvalidTrigger, b.endTime.Format(time.RFC3339), b.startTime.Format(time.RFC3339))
	}
	return nil
}

// withinEnd reports whether the instant does not pass the end time.
func (b *baseTrigger) withinEnd(t time.Time) bool {
	return b.endTime == nil || !t.After(*b.endTime)
}

// recomputeWithNewCalendar is the shared body of UpdateWithNewCalendar: the
// current next fire time is re-derived from the family's pattern, advanced
// past instants the replacement calendar excludes, and pulled forward when
// it has fallen more than the misfire threshold into the past.
func recomputeWithNewCalendar(b *baseTrigger, cal domain.Calendar, threshold time.Duration, step func(after time.Time) *time.Time) {
	if b.nextFireTime == nil {
		return
	}
	next := step(b.nextFireTime.Add(-time.Millisecond))
	next = skipExcluded(cal, next, step)

	if next != nil && threshold > 0 {
		if now := b.now(); now.Sub(*next) > threshold {
			next = skipExcluded(cal, step(now), step)
		}
	}
	b.nextFireTime = next
}

// skipExcluded advances a candidate fire time past calendar exclusions using
// the family's own pattern stepper. Returns nil when the pattern exhausts or
// the search bound is hit before an included instant is found.
func skipExcluded(cal domain.Calendar, candidate *time.Time, step func(after time.Time) *time.Time) *time.Time {
	if cal == nil {
		return candidate
	}
	for i := 0; i < maxCalendarSkips; i++ {
		if candidate == nil {
			return nil
		}
		if cal.IsTimeIncluded(*candidate) {
			return candidate
		}
		candidate = step(*candidate)
	}
	return nil
}
