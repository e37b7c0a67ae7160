package calendar

import (
	"sort"
	"time"

	"github.com/jonesrussell/goquartz/internal/domain"
)

const daysInMonthMax = 31

// monthDay is a (month, day) pair with the year ignored.
type monthDay struct {
	month time.Month
	day   int
}

// Annual excludes the same set of (month, day-of-month) dates every year.
type Annual struct {
	base
	excluded map[monthDay]bool
}

// NewAnnual creates an annual calendar with no excluded days.
func NewAnnual() *Annual {
	return &Annual{excluded: make(map[monthDay]bool)}
}

// SetDayExcluded marks the (month, day) pair excluded or included.
func (c *Annual) SetDayExcluded(month time.Month, day int, excluded bool) {
	key := monthDay{month: month, day: day}
	if excluded {
		c.excluded[key] = true
		return
	}
	delete(c.excluded, key)
}

// IsDayExcluded reports whether the (month, day) pair is excluded.
func (c *Annual) IsDayExcluded(month time.Month, day int) bool {
	return c.excluded[monthDay{month: month, day: day}]
}

// IsTimeIncluded reports whether the instant's calendar day is included.
func (c *Annual) IsTimeIncluded(t time.Time) bool {
	if !c.baseIncludes(t) {
		return false
	}
	local := t.In(c.TimeZone())
	return !c.IsDayExcluded(local.Month(), local.Day())
}

// NextIncludedTime returns the next included instant at or after t.
func (c *Annual) NextIncludedTime(t time.Time) time.Time {
	return nextIncludedByDayWalk(c, t, c.TimeZone())
}

// Clone returns a deep copy.
func (c *Annual) Clone() domain.Calendar {
	out := &Annual{base: c.cloneBase(), excluded: make(map[monthDay]bool, len(c.excluded))}
	for k := range c.excluded {
		out.excluded[k] = true
	}
	return out
}

// Monthly excludes a fixed set of day-of-month values (1..31) every month.
type Monthly struct {
	base
	excluded [daysInMonthMax + 1]bool
}

// NewMonthly creates a monthly calendar with no excluded days.
func NewMonthly() *Monthly {
	return &Monthly{}
}

// SetDayExcluded marks a day of month (1..31) excluded or included.
// Out-of-range days are ignored.
func (c *Monthly) SetDayExcluded(day int, excluded bool) {
	if day < 1 || day > daysInMonthMax {
		return
	}
	c.excluded[day] = excluded
}

// IsDayExcluded reports whether a day of month is excluded.
func (c *Monthly) IsDayExcluded(day int) bool {
	if day < 1 || day > daysInMonthMax {
		return false
	}
	return c.excluded[day]
}

// IsTimeIncluded reports whether the instant's day of month is included.
func (c *Monthly) IsTimeIncluded(t time.Time) bool {
	if !c.baseIncludes(t) {
		return false
	}
	return !c.IsDayExcluded(t.In(c.TimeZone()).Day())
}

// NextIncludedTime returns the next included instant at or after t.
func (c *Monthly) NextIncludedTime(t time.Time) time.Time {
	return nextIncludedByDayWalk(c, t, c.TimeZone())
}

// Clone returns a deep copy.
func (c *Monthly) Clone() domain.Calendar {
	out := &Monthly{base: c.cloneBase()}
	out.excluded = c.excluded
	return out
}

// Weekly excludes a fixed set of weekdays. A new Weekly excludes Saturday
// and Sunday, matching the common business-day schedule.
type Weekly struct {
	base
	excluded [7]bool
}

// NewWeekly creates a weekly calendar excluding Saturday and Sunday.
func NewWeekly() *Weekly {
	c := &Weekly{}
	c.excluded[time.Saturday] = true
	c.excluded[time.Sunday] = true
	return c
}

// SetDayExcluded marks a weekday excluded or included.
func (c *Weekly) SetDayExcluded(day time.Weekday, excluded bool) {
	c.excluded[day] = excluded
}

// IsDayExcluded reports whether a weekday is excluded.
func (c *Weekly) IsDayExcluded(day time.Weekday) bool {
	return c.excluded[day]
}

// IsTimeIncluded reports whether the instant's weekday is included.
func (c *Weekly) IsTimeIncluded(t time.Time) bool {
	if !c.baseIncludes(t) {
		return false
	}
	return !c.IsDayExcluded(t.In(c.TimeZone()).Weekday())
}

// NextIncludedTime returns the next included instant at or after t.
func (c *Weekly) NextIncludedTime(t time.Time) time.Time {
	return nextIncludedByDayWalk(c, t, c.TimeZone())
}

// Clone returns a deep copy.
func (c *Weekly) Clone() domain.Calendar {
	out := &Weekly{base: c.cloneBase()}
	out.excluded = c.excluded
	return out
}

// Holiday excludes an explicit set of dates. Dates are stored normalized
// to start-of-day in the calendar's zone.
type Holiday struct {
	base
	dates map[time.Time]bool
}

// NewHoliday creates a holiday calendar with no excluded dates.
func NewHoliday() *Holiday {
	return &Holiday{dates: make(map[time.Time]bool)}
}

// AddExcludedDate excludes the calendar day containing t.
func (c *Holiday) AddExcludedDate(t time.Time) {
	c.dates[startOfDay(t, c.TimeZone())] = true
}

// RemoveExcludedDate re-includes the calendar day containing t.
func (c *Holiday) RemoveExcludedDate(t time.Time) {
	delete(c.dates, startOfDay(t, c.TimeZone()))
}

// ExcludedDates returns the excluded days in ascending order.
func (c *Holiday) ExcludedDates() []time.Time {
	out := make([]time.Time, 0, len(c.dates))
	for d := range c.dates {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// IsTimeIncluded reports whether the instant's calendar day is included.
func (c *Holiday) IsTimeIncluded(t time.Time) bool {
	if !c.baseIncludes(t) {
		return false
	}
	return !c.dates[startOfDay(t, c.TimeZone())]
}

// NextIncludedTime returns the next included instant at or after t.
// A base calendar returning an instant before t never moves the result
// backwards.
func (c *Holiday) NextIncludedTime(t time.Time) time.Time {
	return nextIncludedByDayWalk(c, t, c.TimeZone())
}

// Clone returns a deep copy.
func (c *Holiday) Clone() domain.Calendar {
	out := &Holiday{base: c.cloneBase(), dates: make(map[time.Time]bool, len(c.dates))}
	for d := range c.dates {
		out.dates[d] = true
	}
	return out
}
