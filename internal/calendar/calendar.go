// Package calendar provides the exclusion calendars triggers consult when
// computing fire times. A calendar excludes instants; calendars stack
// through an optional base calendar whose exclusions always apply first.
package calendar

import (
	"time"

	"github.com/jonesrussell/goquartz/internal/domain"
)

// maxDayWalk bounds the day-by-day search for an included instant so a
// calendar that excludes every day cannot hang the scheduler.
const maxDayWalk = 3660

// base carries the state shared by every calendar variant.
type base struct {
	description  string
	baseCalendar domain.Calendar
	loc          *time.Location
}

// Description returns the optional description.
func (b *base) Description() string {
	return b.description
}

// SetDescription sets the optional description.
func (b *base) SetDescription(description string) {
	b.description = description
}

// BaseCalendar returns the chained base calendar, or nil.
func (b *base) BaseCalendar() domain.Calendar {
	return b.baseCalendar
}

// SetBaseCalendar chains a base calendar whose exclusions apply first.
func (b *base) SetBaseCalendar(cal domain.Calendar) {
	b.baseCalendar = cal
}

// TimeZone returns the calendar's zone, defaulting to UTC.
func (b *base) TimeZone() *time.Location {
	if b.loc == nil {
		return time.UTC
	}
	return b.loc
}

// SetTimeZone sets the zone day-granular checks are performed in.
func (b *base) SetTimeZone(loc *time.Location) {
	b.loc = loc
}

// baseIncludes reports whether the base chain includes the instant.
func (b *base) baseIncludes(t time.Time) bool {
	return b.baseCalendar == nil || b.baseCalendar.IsTimeIncluded(t)
}

// cloneBase deep-copies the shared state including the base chain.
func (b *base) cloneBase() base {
	out := *b
	if b.baseCalendar != nil {
		out.baseCalendar = b.baseCalendar.Clone()
	}
	return out
}

// startOfDay truncates the instant to midnight in the given zone.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	year, month, day := t.In(loc).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// nextIncludedByDayWalk advances day by day until the calendar includes the
// instant. Shared by the day-granular variants.
func nextIncludedByDayWalk(cal domain.Calendar, t time.Time, loc *time.Location) time.Time {
	cur := t
	for i := 0; i < maxDayWalk; i++ {
		if cal.IsTimeIncluded(cur) {
			return cur
		}
		cur = startOfDay(cur, loc).AddDate(0, 0, 1)
	}
	return cur
}

// Base is the plain stackable calendar: it excludes nothing itself and
// exists to carry a base chain and a description.
type Base struct {
	base
}

// NewBase creates a calendar with no exclusions of its own.
func NewBase() *Base {
	return &Base{}
}

// IsTimeIncluded reports whether the base chain includes the instant.
func (c *Base) IsTimeIncluded(t time.Time) bool {
	return c.baseIncludes(t)
}

// NextIncludedTime returns t when included, else defers to the base chain.
func (c *Base) NextIncludedTime(t time.Time) time.Time {
	if c.IsTimeIncluded(t) {
		return t
	}
	next := c.baseCalendar.NextIncludedTime(t)
	if next.Before(t) {
		return t
	}
	return next
}

// Clone returns a deep copy.
func (c *Base) Clone() domain.Calendar {
	return &Base{base: c.cloneBase()}
}
