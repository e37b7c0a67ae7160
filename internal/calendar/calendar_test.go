package calendar_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/goquartz/internal/calendar"
)

func date(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

func TestWeekly_ExcludesWeekendsByDefault(t *testing.T) {
	c := calendar.NewWeekly()

	// 2025-06-14 is a Saturday, 2025-06-16 a Monday.
	assert.False(t, c.IsTimeIncluded(date(2025, time.June, 14, 9)))
	assert.False(t, c.IsTimeIncluded(date(2025, time.June, 15, 9)))
	assert.True(t, c.IsTimeIncluded(date(2025, time.June, 16, 9)))

	next := c.NextIncludedTime(date(2025, time.June, 14, 9))
	assert.Equal(t, date(2025, time.June, 16, 0), next)
}

func TestWeekly_SetDayExcluded(t *testing.T) {
	c := calendar.NewWeekly()
	c.SetDayExcluded(time.Saturday, false)
	c.SetDayExcluded(time.Sunday, false)
	c.SetDayExcluded(time.Wednesday, true)

	// 2025-06-18 is a Wednesday.
	assert.False(t, c.IsTimeIncluded(date(2025, time.June, 18, 12)))
	assert.True(t, c.IsTimeIncluded(date(2025, time.June, 14, 12)))
}

func TestMonthly(t *testing.T) {
	c := calendar.NewMonthly()
	c.SetDayExcluded(1, true)
	c.SetDayExcluded(15, true)

	assert.False(t, c.IsTimeIncluded(date(2025, time.June, 1, 10)))
	assert.False(t, c.IsTimeIncluded(date(2025, time.July, 15, 10)))
	assert.True(t, c.IsTimeIncluded(date(2025, time.June, 2, 10)))

	next := c.NextIncludedTime(date(2025, time.June, 1, 10))
	assert.Equal(t, date(2025, time.June, 2, 0), next)
}

func TestAnnual(t *testing.T) {
	c := calendar.NewAnnual()
	c.SetDayExcluded(time.December, 25, true)

	assert.False(t, c.IsTimeIncluded(date(2025, time.December, 25, 8)))
	assert.False(t, c.IsTimeIncluded(date(2030, time.December, 25, 8)))
	assert.True(t, c.IsTimeIncluded(date(2025, time.December, 24, 8)))

	c.SetDayExcluded(time.December, 25, false)
	assert.True(t, c.IsTimeIncluded(date(2025, time.December, 25, 8)))
}

func TestHoliday(t *testing.T) {
	c := calendar.NewHoliday()
	c.AddExcludedDate(date(2025, time.January, 1, 13)) // any time of day marks the day

	assert.False(t, c.IsTimeIncluded(date(2025, time.January, 1, 0)))
	assert.False(t, c.IsTimeIncluded(date(2025, time.January, 1, 23)))
	assert.True(t, c.IsTimeIncluded(date(2025, time.January, 2, 0)))
	assert.True(t, c.IsTimeIncluded(date(2026, time.January, 1, 0)))

	dates := c.ExcludedDates()
	require.Len(t, dates, 1)
	assert.Equal(t, date(2025, time.January, 1, 0), dates[0])
}

func TestHoliday_ChainedOnWeekly(t *testing.T) {
	weekly := calendar.NewWeekly() // excludes Sat+Sun
	holiday := calendar.NewHoliday()
	holiday.SetBaseCalendar(weekly)
	holiday.AddExcludedDate(date(2025, time.January, 1, 0)) // Wednesday

	// Wed Jan 1 excluded by holiday, Sat Jan 4 / Sun Jan 5 by the base.
	assert.False(t, holiday.IsTimeIncluded(date(2025, time.January, 1, 9)))
	assert.False(t, holiday.IsTimeIncluded(date(2025, time.January, 4, 9)))
	assert.True(t, holiday.IsTimeIncluded(date(2025, time.January, 2, 9)))

	// From New Year's morning the next included instant is Thu Jan 2.
	next := holiday.NextIncludedTime(date(2025, time.January, 1, 9))
	assert.Equal(t, date(2025, time.January, 2, 0), next)

	// From Saturday the walk skips the whole weekend.
	next = holiday.NextIncludedTime(date(2025, time.January, 4, 9))
	assert.Equal(t, date(2025, time.January, 6, 0), next)
}

func TestCronCalendar(t *testing.T) {
	// Exclude the nightly window from midnight through 07:59:59.
	c, err := calendar.NewCron("* * 0-7 ? * *")
	require.NoError(t, err)

	assert.False(t, c.IsTimeIncluded(date(2025, time.June, 16, 3)))
	assert.True(t, c.IsTimeIncluded(date(2025, time.June, 16, 12)))

	next := c.NextIncludedTime(date(2025, time.June, 16, 3))
	assert.Equal(t, date(2025, time.June, 16, 8), next)

	// An already-included instant is returned unchanged.
	at := date(2025, time.June, 16, 12)
	assert.Equal(t, at, c.NextIncludedTime(at))
}

func TestCronCalendar_WithBase(t *testing.T) {
	weekly := calendar.NewWeekly()
	c, err := calendar.NewCron("* * 0-7 ? * *")
	require.NoError(t, err)
	c.SetBaseCalendar(weekly)

	// Friday 03:00: cron window excludes until 08:00 the same day.
	next := c.NextIncludedTime(date(2025, time.June, 13, 3))
	assert.Equal(t, date(2025, time.June, 13, 8), next)

	// Saturday 03:00: cron window ends at 08:00 but the base excludes the
	// whole weekend, and Monday starts inside the next cron window.
	next = c.NextIncludedTime(date(2025, time.June, 14, 3))
	assert.Equal(t, date(2025, time.June, 16, 8), next)
}

func TestClone_IsDeep(t *testing.T) {
	weekly := calendar.NewWeekly()
	holiday := calendar.NewHoliday()
	holiday.SetBaseCalendar(weekly)
	holiday.AddExcludedDate(date(2025, time.May, 1, 0))

	clone := holiday.Clone().(*calendar.Holiday)
	clone.AddExcludedDate(date(2025, time.May, 2, 0))
	clone.BaseCalendar().(*calendar.Weekly).SetDayExcluded(time.Monday, true)

	assert.True(t, holiday.IsTimeIncluded(date(2025, time.May, 2, 9)))
	// 2025-05-05 is a Monday; the original base is untouched.
	assert.True(t, holiday.IsTimeIncluded(date(2025, time.May, 5, 9)))
}
