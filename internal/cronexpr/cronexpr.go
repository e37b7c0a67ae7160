// Package cronexpr implements Quartz-style cron expressions: six or seven
// whitespace-separated fields (second, minute, hour, day-of-month, month,
// day-of-week, optional year) supporting lists, ranges, steps, names, and
// the special characters ?, L, W, and #.
package cronexpr

import (
	"fmt"
	"time"
)

const (
	// maxYear is the last year an expression can match.
	maxYear = 2299

	// minYear is the first year accepted in the year field.
	minYear = 1970

	// maxEvaluationLoops bounds the search for a matching instant.
	maxEvaluationLoops = 100000

	daysInWeek = 7
)

// Expression is a parsed, immutable cron expression bound to a time zone.
// All field comparisons are performed in wall-clock time in that zone.
type Expression struct {
	text string
	loc  *time.Location

	seconds uint64
	minutes uint64
	hours   uint64
	// daysOfMonth bits 1..31.
	daysOfMonth uint64
	// months bits 1..12.
	months uint64
	// daysOfWeek bits 0..6, Sunday = 0.
	daysOfWeek uint64
	// years is nil when every year matches.
	years map[int]bool

	// day-of-month structural flags
	domNoSpec          bool // '?'
	domStar            bool // '*'
	lastDayOfMonth     bool // 'L'
	lastDayOffset      int  // 'L-n'
	lastWeekdayOfMonth bool // 'LW'
	nearestWeekday     bool // 'nW'
	weekdayTargetDay   int  // the n of 'nW'

	// day-of-week structural flags
	dowNoSpec     bool // '?'
	dowStar       bool // '*'
	lastDayOfWeek bool // 'nL': last occurrence of weekday n
	nthDayOfWeek  int  // 'n#k': the k (1..5), 0 when unused
}

// MustParse parses an expression in UTC and panics on error.
// Intended for tests and static declarations.
func MustParse(text string) *Expression {
	e, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return e
}

// Parse parses a cron expression evaluated in UTC.
func Parse(text string) (*Expression, error) {
	return ParseInLocation(text, time.UTC)
}

// ParseInLocation parses a cron expression evaluated in the given zone.
func ParseInLocation(text string, loc *time.Location) (*Expression, error) {
	if loc == nil {
		loc = time.UTC
	}
	e := &Expression{loc: loc}
	if err := e.parse(text); err != nil {
		return nil, err
	}
	return e, nil
}

// String returns the canonical textual form: fields uppercased and joined
// by single spaces. Parsing the canonical form yields an equal expression.
func (e *Expression) String() string {
	return e.text
}

// Location returns the zone the expression evaluates in.
func (e *Expression) Location() *time.Location {
	return e.loc
}

// IsSatisfiedBy reports whether the instant, truncated to the second,
// matches the expression.
func (e *Expression) IsSatisfiedBy(t time.Time) bool {
	probe := t.In(e.loc).Truncate(time.Second)
	next := e.NextValidTimeAfter(probe.Add(-time.Second))
	return next != nil && next.Equal(probe)
}

// NextValidTimeAfter returns the next matching instant strictly after t,
// or nil when the expression can never match again.
func (e *Expression) NextValidTimeAfter(t time.Time) *time.Time {
	cur := t.In(e.loc).Truncate(time.Second).Add(time.Second)

	for i := 0; i < maxEvaluationLoops; i++ {
		year, month, day := cur.Date()
		hour, minute, second := cur.Clock()

		if year > maxYear {
			return nil
		}

		// Year field.
		if e.years != nil && !e.years[year] {
			next := e.nextYear(year)
			if next < 0 {
				return nil
			}
			cur = time.Date(next, time.January, 1, 0, 0, 0, 0, e.loc)
			continue
		}

		// Month field.
		if !bitSet(e.months, int(month)) {
			cur = time.Date(year, month+1, 1, 0, 0, 0, 0, e.loc)
			continue
		}

		// Day: day-of-month and day-of-week interact per Quartz rules.
		if !e.dayMatches(year, month, day) {
			cur = time.Date(year, month, day+1, 0, 0, 0, 0, e.loc)
			continue
		}

		// Hour field.
		if !bitSet(e.hours, hour) {
			if next := nextSetBit(e.hours, hour); next >= 0 {
				cur = time.Date(year, month, day, next, 0, 0, 0, e.loc)
			} else {
				cur = time.Date(year, month, day+1, 0, 0, 0, 0, e.loc)
			}
			continue
		}

		// Minute field.
		if !bitSet(e.minutes, minute) {
			if next := nextSetBit(e.minutes, minute); next >= 0 {
				cur = time.Date(year, month, day, hour, next, 0, 0, e.loc)
			} else {
				cur = time.Date(year, month, day, hour+1, 0, 0, 0, e.loc)
			}
			continue
		}

		// Second field.
		if !bitSet(e.seconds, second) {
			if next := nextSetBit(e.seconds, second); next >= 0 {
				cur = time.Date(year, month, day, hour, minute, next, 0, e.loc)
			} else {
				cur = time.Date(year, month, day, hour, minute+1, 0, 0, e.loc)
			}
			continue
		}

		result := cur
		return &result
	}

	return nil
}

// NextInvalidTimeAfter returns the next instant strictly after t that does
// NOT match the expression. Used by cron calendars to leap over excluded
// ranges. Returns nil only if the search space is exhausted.
func (e *Expression) NextInvalidTimeAfter(t time.Time) *time.Time {
	cur := t.In(e.loc).Truncate(time.Second)

	// Walk the chain of contiguous matching seconds; the first gap is the
	// next invalid time.
	for i := 0; i < maxEvaluationLoops; i++ {
		next := e.NextValidTimeAfter(cur)
		if next == nil {
			invalid := cur.Add(time.Second)
			return &invalid
		}
		if next.Sub(cur) > time.Second {
			invalid := cur.Add(time.Second)
			return &invalid
		}
		cur = *next
	}

	return nil
}

// nextYear returns the smallest year in the year set greater than y,
// or -1 when exhausted.
func (e *Expression) nextYear(y int) int {
	for candidate := y + 1; candidate <= maxYear; candidate++ {
		if e.years[candidate] {
			return candidate
		}
	}
	return -1
}

// dayMatches applies the Quartz day resolution: when both day-of-month and
// day-of-week are concrete the union applies; a '?' or '*' on one side
// leaves the other side in charge.
func (e *Expression) dayMatches(year int, month time.Month, day int) bool {
	dom := e.dayOfMonthMatches(year, month, day)
	dow := e.dayOfWeekMatches(year, month, day)

	switch {
	case e.domNoSpec:
		return dow
	case e.dowNoSpec:
		return dom
	case e.domStar && e.dowStar:
		return true
	case e.domStar:
		return dow
	case e.dowStar:
		return dom
	default:
		// Both concrete: Quartz fires on either.
		return dom || dow
	}
}

func (e *Expression) dayOfMonthMatches(year int, month time.Month, day int) bool {
	last := lastDayOfMonth(year, month)

	switch {
	case e.lastWeekdayOfMonth:
		return day == lastWeekdayDay(year, month)
	case e.lastDayOfMonth:
		target := last - e.lastDayOffset
		return day == target
	case e.nearestWeekday:
		return day == nearestWeekdayDay(year, month, e.weekdayTargetDay)
	default:
		return day <= last && bitSet(e.daysOfMonth, day)
	}
}

func (e *Expression) dayOfWeekMatches(year int, month time.Month, day int) bool {
	weekday := int(time.Date(year, month, day, 0, 0, 0, 0, e.loc).Weekday())

	switch {
	case e.lastDayOfWeek:
		// Last occurrence of the weekday in the month.
		return bitSet(e.daysOfWeek, weekday) && day+daysInWeek > lastDayOfMonth(year, month)
	case e.nthDayOfWeek > 0:
		nth := ((day - 1) / daysInWeek) + 1
		return bitSet(e.daysOfWeek, weekday) && nth == e.nthDayOfWeek
	default:
		return bitSet(e.daysOfWeek, weekday)
	}
}

// lastDayOfMonth returns the number of days in the month.
func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// lastWeekdayDay returns the last Monday-to-Friday day of the month.
func lastWeekdayDay(year int, month time.Month) int {
	day := lastDayOfMonth(year, month)
	for {
		wd := time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Weekday()
		if wd != time.Saturday && wd != time.Sunday {
			return day
		}
		day--
	}
}

// nearestWeekdayDay returns the weekday nearest to the target day without
// leaving the month.
func nearestWeekdayDay(year int, month time.Month, target int) int {
	last := lastDayOfMonth(year, month)
	if target > last {
		target = last
	}

	switch time.Date(year, month, target, 0, 0, 0, 0, time.UTC).Weekday() {
	case time.Saturday:
		if target == 1 {
			return target + 2 // Monday the 3rd
		}
		return target - 1
	case time.Sunday:
		if target == last {
			return target - 2
		}
		return target + 1
	default:
		return target
	}
}

// bit returns the mask for position n.
func bit(n int) uint64 {
	return 1 << uint(n)
}

// bitSet reports whether position n is set.
func bitSet(bits uint64, n int) bool {
	if n < 0 || n > 63 {
		return false
	}
	return bits&bit(n) != 0
}

// nextSetBit returns the lowest set position >= from, or -1.
func nextSetBit(bits uint64, from int) int {
	for i := from; i < 64; i++ {
		if bits&bit(i) != 0 {
			return i
		}
	}
	return -1
}

// ParseError describes a cron expression parse failure, pointing at the
// offending field and character offset within the full expression.
type ParseError struct {
	Expression string
	Field      string
	Offset     int
	Message    string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid cron expression %q: %s field at offset %d: %s",
		e.Expression, e.Field, e.Offset, e.Message)
}
