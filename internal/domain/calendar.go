package domain

import "time"

// Calendar is a predicate that excludes instants from any trigger that
// names it. Calendars stack: a calendar with a base calendar excludes an
// instant whenever the base does.
type Calendar interface {
	// IsTimeIncluded reports whether the instant is included (not excluded)
	// by this calendar and its whole base chain.
	IsTimeIncluded(t time.Time) bool

	// NextIncludedTime returns the next included instant at or after t.
	NextIncludedTime(t time.Time) time.Time

	// Description returns the optional description.
	Description() string

	// BaseCalendar returns the chained base calendar, or nil.
	BaseCalendar() Calendar

	// Clone returns a deep copy including the base chain.
	Clone() Calendar
}
