package trigger

import (
	"fmt"
	"time"

	"github.com/jonesrussell/goquartz/internal/domain"
)

// IntervalUnit is the unit a calendar-interval trigger advances by.
type IntervalUnit string

const (
	IntervalUnitMillisecond IntervalUnit = "millisecond"
	IntervalUnitSecond      IntervalUnit = "second"
	IntervalUnitMinute      IntervalUnit = "minute"
	IntervalUnitHour        IntervalUnit = "hour"
	IntervalUnitDay         IntervalUnit = "day"
	IntervalUnitWeek        IntervalUnit = "week"
	IntervalUnitMonth       IntervalUnit = "month"
	IntervalUnitYear        IntervalUnit = "year"
)

const (
	daysPerWeek    = 7
	monthsPerYear  = 12
	hoursPerDay    = 24
	approxDaysInMo = 30
)

// CalendarIntervalTrigger fires at its start time and then every N units of
// calendar time. Month and year advances clamp the day of month to the last
// valid day of the target month, so a schedule anchored on Jan 31 fires on
// Feb 28 (or 29) and Mar 31.
type CalendarIntervalTrigger struct {
	baseTrigger
	interval          int
	unit              IntervalUnit
	preserveHourOfDay bool
	loc               *time.Location
	timesTriggered    int
}

// NewCalendarInterval creates a trigger advancing by the given count of
// units between fires.
func NewCalendarInterval(key TriggerKey, jobKey JobKey, interval int, unit IntervalUnit) *CalendarIntervalTrigger {
	return &CalendarIntervalTrigger{
		baseTrigger: newBase(key, jobKey),
		interval:    interval,
		unit:        unit,
	}
}

// WithDescription sets the optional description.
func (t *CalendarIntervalTrigger) WithDescription(d string) *CalendarIntervalTrigger {
	t.description = d
	return t
}

// WithCalendarName names the exclusion calendar consulted for fire times.
func (t *CalendarIntervalTrigger) WithCalendarName(name string) *CalendarIntervalTrigger {
	t.calendarName = name
	return t
}

// WithJobData sets trigger-scoped data merged into executions.
func (t *CalendarIntervalTrigger) WithJobData(data domain.JobDataMap) *CalendarIntervalTrigger {
	t.jobData = data
	return t
}

// WithPriority sets the tie-breaking priority. Higher wins.
func (t *CalendarIntervalTrigger) WithPriority(p int) *CalendarIntervalTrigger {
	t.priority = p
	return t
}

// WithStartTime anchors the schedule.
func (t *CalendarIntervalTrigger) WithStartTime(at time.Time) *CalendarIntervalTrigger {
	t.startTime = at
	return t
}

// WithEndTime truncates the schedule.
func (t *CalendarIntervalTrigger) WithEndTime(at time.Time) *CalendarIntervalTrigger {
	t.endTime = domain.TimePtr(at)
	return t
}

// WithMisfireInstruction selects the misfire recovery policy.
func (t *CalendarIntervalTrigger) WithMisfireInstruction(instruction int) *CalendarIntervalTrigger {
	t.misfireInstruction = instruction
	return t
}

// WithLocation sets the zone calendar arithmetic is performed in.
func (t *CalendarIntervalTrigger) WithLocation(loc *time.Location) *CalendarIntervalTrigger {
	t.loc = loc
	return t
}

// WithPreserveHourOfDay keeps the wall-clock hour stable across daylight
// saving transitions for day and week units.
func (t *CalendarIntervalTrigger) WithPreserveHourOfDay(preserve bool) *CalendarIntervalTrigger {
	t.preserveHourOfDay = preserve
	return t
}

// WithClock overrides the time source used by misfire recovery.
func (t *CalendarIntervalTrigger) WithClock(now func() time.Time) *CalendarIntervalTrigger {
	t.nowFn = now
	return t
}

// Interval returns the count of units between fires.
func (t *CalendarIntervalTrigger) Interval() int { return t.interval }

// Unit returns the unit the schedule advances by.
func (t *CalendarIntervalTrigger) Unit() IntervalUnit { return t.unit }

// TimesTriggered returns how many times the trigger has fired.
func (t *CalendarIntervalTrigger) TimesTriggered() int { return t.timesTriggered }

// Validate checks the trigger's configuration.
func (t *CalendarIntervalTrigger) Validate() error {
	if err := t.validateBase(); err != nil {
		return err
	}
	if t.interval < 1 {
		return fmt.Errorf("%w: interval %d", domain.ErrInvalidTrigger, t.interval)
	}
	switch t.unit {
	case IntervalUnitMillisecond, IntervalUnitSecond, IntervalUnitMinute,
		IntervalUnitHour, IntervalUnitDay, IntervalUnitWeek,
		IntervalUnitMonth, IntervalUnitYear:
		return nil
	default:
		return fmt.Errorf("%w: unknown interval unit %q", domain.ErrInvalidTrigger, t.unit)
	}
}

func (t *CalendarIntervalTrigger) location() *time.Location {
	if t.loc == nil {
		return t.startTime.Location()
	}
	return t.loc
}

// slot returns the k-th fire instant of the schedule, anchored at the start
// time. Month and year slots clamp the day of month.
func (t *CalendarIntervalTrigger) slot(k int64) time.Time {
	start := t.startTime.In(t.location())
	n := int(k) * t.interval

	switch t.unit {
	case IntervalUnitMillisecond:
		return start.Add(time.Duration(n) * time.Millisecond)
	case IntervalUnitSecond:
		return start.Add(time.Duration(n) * time.Second)
	case IntervalUnitMinute:
		return start.Add(time.Duration(n) * time.Minute)
	case IntervalUnitHour:
		return start.Add(time.Duration(n) * time.Hour)
	case IntervalUnitDay:
		return t.addDays(start, n)
	case IntervalUnitWeek:
		return t.addDays(start, n*daysPerWeek)
	case IntervalUnitMonth:
		return addMonthsClamped(start, n)
	case IntervalUnitYear:
		return addMonthsClamped(start, n*monthsPerYear)
	default:
		return start
	}
}

// addDays advances by whole days, preserving the wall-clock hour across DST
// transitions when configured.
func (t *CalendarIntervalTrigger) addDays(start time.Time, days int) time.Time {
	if t.preserveHourOfDay {
		return start.AddDate(0, 0, days)
	}
	return start.Add(time.Duration(days) * hoursPerDay * time.Hour)
}

// addMonthsClamped advances by whole months from the anchor, clamping the
// day of month to the last valid day of the target month. Go's AddDate
// normalizes overflow instead (Jan 31 plus one month becomes Mar 3), which
// is not what a monthly schedule wants.
func addMonthsClamped(anchor time.Time, months int) time.Time {
	year, month, day := anchor.Date()
	total := int(month) - 1 + months
	year += total / monthsPerYear
	month = time.Month(total%monthsPerYear + 1)

	if last := lastDayOfMonth(year, month); day > last {
		day = last
	}
	hour, minute, sec := anchor.Clock()
	return time.Date(year, month, day, hour, minute, sec, anchor.Nanosecond(), anchor.Location())
}

// lastDayOfMonth returns the number of days in the month.
func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// approxSlotSpacing estimates the spacing between slots to seed the search.
func (t *CalendarIntervalTrigger) approxSlotSpacing() time.Duration {
	var unit time.Duration
	switch t.unit {
	case IntervalUnitMillisecond:
		unit = time.Millisecond
	case IntervalUnitSecond:
		unit = time.Second
	case IntervalUnitMinute:
		unit = time.Minute
	case IntervalUnitHour:
		unit = time.Hour
	case IntervalUnitDay:
		unit = hoursPerDay * time.Hour
	case IntervalUnitWeek:
		unit = daysPerWeek * hoursPerDay * time.Hour
	case IntervalUnitMonth:
		unit = approxDaysInMo * hoursPerDay * time.Hour
	case IntervalUnitYear:
		unit = monthsPerYear * approxDaysInMo * hoursPerDay * time.Hour
	default:
		unit = time.Second
	}
	return unit * time.Duration(t.interval)
}

// fireTimeAfter returns the first slot strictly after the given instant,
// ignoring the calendar. Nil when past the end time.
func (t *CalendarIntervalTrigger) fireTimeAfter(after time.Time) *time.Time {
	if after.Before(t.startTime) {
		return t.boundedSlot(t.slot(0))
	}

	k := int64(after.Sub(t.startTime) / t.approxSlotSpacing())
	for k > 0 && t.slot(k-1).After(after) {
		k--
	}
	for !t.slot(k).After(after) {
		k++
	}
	return t.boundedSlot(t.slot(k))
}

// boundedSlot applies the end-time bound to a slot.
func (t *CalendarIntervalTrigger) boundedSlot(slot time.Time) *time.Time {
	if !t.withinEnd(slot) {
		return nil
	}
	return domain.TimePtr(slot)
}

// ComputeFirstFireTime computes and stores the first fire time the calendar
// includes, or nil when the schedule can never fire.
func (t *CalendarIntervalTrigger) ComputeFirstFireTime(cal domain.Calendar) *time.Time {
	first := t.boundedSlot(t.slot(0))
	t.nextFireTime = skipExcluded(cal, first, t.fireTimeAfter)
	return domain.CloneTimePtr(t.nextFireTime)
}

// Triggered advances the schedule after a fire.
func (t *CalendarIntervalTrigger) Triggered(cal domain.Calendar) {
	t.timesTriggered++
	t.previousFireTime = t.nextFireTime
	if t.nextFireTime == nil {
		return
	}
	next := t.fireTimeAfter(*t.nextFireTime)
	t.nextFireTime = skipExcluded(cal, next, t.fireTimeAfter)
}

// UpdateAfterMisfire applies the trigger's misfire instruction. The smart
// policy fires once immediately.
func (t *CalendarIntervalTrigger) UpdateAfterMisfire(cal domain.Calendar) {
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
func (t *CalendarIntervalTrigger) UpdateWithNewCalendar(cal domain.Calendar, misfireThreshold time.Duration) {
	recomputeWithNewCalendar(&t.baseTrigger, cal, misfireThreshold, t.fireTimeAfter)
}

// Clone returns a deep copy.
func (t *CalendarIntervalTrigger) Clone() domain.OperableTrigger {
	out := *t
	out.baseTrigger = t.cloneBase()
	return &out
}
