package trigger

import (
	"time"

	"github.com/jonesrussell/goquartz/internal/cronexpr"
	"github.com/jonesrussell/goquartz/internal/domain"
)

// Misfire instructions understood by the cron and calendar-interval
// families, in addition to the shared smart and ignore sentinels.
const (
	// MisfireInstructionFireOnceNow fires immediately once, then the
	// schedule resumes its normal cadence.
	MisfireInstructionFireOnceNow = 1
	// MisfireInstructionDoNothing skips the missed fires and waits for the
	// next scheduled instant in the future.
	MisfireInstructionDoNothing = 2
)

// CronTrigger fires on the instants matched by a cron expression.
type CronTrigger struct {
	baseTrigger
	expr *cronexpr.Expression
}

// NewCron creates a cron trigger from an expression evaluated in the
// expression's own zone (UTC unless a location is given).
func NewCron(key TriggerKey, jobKey JobKey, spec string) (*CronTrigger, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, err
	}
	return &CronTrigger{baseTrigger: newBase(key, jobKey), expr: expr}, nil
}

// NewCronInLocation creates a cron trigger evaluated in the given zone.
func NewCronInLocation(key TriggerKey, jobKey JobKey, spec string, loc *time.Location) (*CronTrigger, error) {
	expr, err := cronexpr.ParseInLocation(spec, loc)
	if err != nil {
		return nil, err
	}
	return &CronTrigger{baseTrigger: newBase(key, jobKey), expr: expr}, nil
}

// MustCron is NewCron for expressions known valid at compile time.
func MustCron(key TriggerKey, jobKey JobKey, spec string) *CronTrigger {
	t, err := NewCron(key, jobKey, spec)
	if err != nil {
		panic(err)
	}
	return t
}

// WithDescription sets the optional description.
func (t *CronTrigger) WithDescription(d string) *CronTrigger { t.description = d; return t }

// WithCalendarName names the exclusion calendar consulted for fire times.
func (t *CronTrigger) WithCalendarName(name string) *CronTrigger { t.calendarName = name; return t }

// WithJobData sets trigger-scoped data merged into executions.
func (t *CronTrigger) WithJobData(data domain.JobDataMap) *CronTrigger { t.jobData = data; return t }

// WithPriority sets the tie-breaking priority. Higher wins.
func (t *CronTrigger) WithPriority(p int) *CronTrigger { t.priority = p; return t }

// WithStartTime sets the earliest instant the expression may fire.
func (t *CronTrigger) WithStartTime(at time.Time) *CronTrigger { t.startTime = at; return t }

// WithEndTime truncates the schedule.
func (t *CronTrigger) WithEndTime(at time.Time) *CronTrigger {
	t.endTime = domain.TimePtr(at)
	return t
}

// WithMisfireInstruction selects the misfire recovery policy.
func (t *CronTrigger) WithMisfireInstruction(instruction int) *CronTrigger {
	t.misfireInstruction = instruction
	return t
}

// WithClock overrides the time source used by misfire recovery.
func (t *CronTrigger) WithClock(now func() time.Time) *CronTrigger { t.nowFn = now; return t }

// Expression returns the canonical text of the cron expression.
func (t *CronTrigger) Expression() string { return t.expr.String() }

// Validate checks the trigger's configuration.
func (t *CronTrigger) Validate() error {
	return t.validateBase()
}

// fireTimeAfter returns the next matching instant strictly after the given
// one, ignoring the calendar. Nil when the expression or end time exhausts
// the schedule.
func (t *CronTrigger) fireTimeAfter(after time.Time) *time.Time {
	if after.Before(t.startTime) {
		after = t.startTime.Add(-time.Second)
	}
	next := t.expr.NextValidTimeAfter(after)
	if next == nil || !t.withinEnd(*next) {
		return nil
	}
	return next
}

// ComputeFirstFireTime computes and stores the first fire time at or after
// the start time that the calendar includes.
func (t *CronTrigger) ComputeFirstFireTime(cal domain.Calendar) *time.Time {
	first := t.fireTimeAfter(t.startTime.Add(-time.Second))
	t.nextFireTime = skipExcluded(cal, first, t.fireTimeAfter)
	return domain.CloneTimePtr(t.nextFireTime)
}

// Triggered advances the schedule after a fire.
func (t *CronTrigger) Triggered(cal domain.Calendar) {
	t.previousFireTime = t.nextFireTime
	if t.nextFireTime == nil {
		return
	}
	next := t.fireTimeAfter(*t.nextFireTime)
	t.nextFireTime = skipExcluded(cal, next, t.fireTimeAfter)
}

// UpdateAfterMisfire applies the trigger's misfire instruction. The smart
// policy fires once immediately.
func (t *CronTrigger) UpdateAfterMisfire(cal domain.Calendar) {
	instruction := t.misfireInstruction
	if instruction == domain.MisfireInstructionSmartPolicy {
		instruction = MisfireInstructionFireOnceNow
	}

	switch instruction {
	case domain.MisfireInstructionIgnorePolicy:
		return
	case MisfireInstructionDoNothing:
		next := t.fireTimeAfter(t.now())
		t.nextFireTime = skipExcluded(cal, next, t.fireTimeAfter)
	default:
		t.nextFireTime = domain.TimePtr(t.now())
	}
}

// UpdateWithNewCalendar recomputes the next fire time against a replacement
// calendar.
func (t *CronTrigger) UpdateWithNewCalendar(cal domain.Calendar, misfireThreshold time.Duration) {
	recomputeWithNewCalendar(&t.baseTrigger, cal, misfireThreshold, t.fireTimeAfter)
}

// Clone returns a deep copy. The parsed expression is immutable and shared.
func (t *CronTrigger) Clone() domain.OperableTrigger {
	out := *t
	out.baseTrigger = t.cloneBase()
	return &out
}
