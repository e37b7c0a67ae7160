package calendar

import (
	"time"

	"github.com/jonesrussell/goquartz/internal/cronexpr"
	"github.com/jonesrussell/goquartz/internal/domain"
)

// maxCronWalk bounds the alternation between "jump past the excluded
// range" and "advance past a base-calendar exclusion".
const maxCronWalk = 10000

// Cron excludes every instant the underlying cron expression is satisfied
// by. A calendar of "* * 0-7 ? * *" excludes the nightly maintenance
// window, for example.
type Cron struct {
	base
	expr *cronexpr.Expression
}

// NewCron creates a cron calendar from an expression evaluated in the
// expression's own zone.
func NewCron(spec string) (*Cron, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, err
	}
	return &Cron{expr: expr}, nil
}

// NewCronInLocation creates a cron calendar evaluated in the given zone.
func NewCronInLocation(spec string, loc *time.Location) (*Cron, error) {
	expr, err := cronexpr.ParseInLocation(spec, loc)
	if err != nil {
		return nil, err
	}
	c := &Cron{expr: expr}
	c.SetTimeZone(loc)
	return c, nil
}

// Expression returns the canonical text of the exclusion expression.
func (c *Cron) Expression() string {
	return c.expr.String()
}

// IsTimeIncluded reports whether the instant is included: the base chain
// must include it and the expression must NOT be satisfied by it.
func (c *Cron) IsTimeIncluded(t time.Time) bool {
	if !c.baseIncludes(t) {
		return false
	}
	return !c.expr.IsSatisfiedBy(t)
}

// NextIncludedTime returns the next included instant at or after t,
// alternating between leaping past expression-excluded ranges and
// advancing past base-calendar exclusions. Progress is forced by one
// millisecond whenever an iteration would otherwise stand still.
func (c *Cron) NextIncludedTime(t time.Time) time.Time {
	cur := t
	for i := 0; i < maxCronWalk; i++ {
		switch {
		case c.expr.IsSatisfiedBy(cur):
			next := c.expr.NextInvalidTimeAfter(cur)
			if next == nil || !next.After(cur) {
				cur = cur.Add(time.Millisecond)
				continue
			}
			cur = *next
		case !c.baseIncludes(cur):
			next := c.baseCalendar.NextIncludedTime(cur)
			if !next.After(cur) {
				cur = cur.Add(time.Millisecond)
				continue
			}
			cur = next
		default:
			return cur
		}
	}
	return cur
}

// Clone returns a deep copy. The parsed expression is immutable and shared.
func (c *Cron) Clone() domain.Calendar {
	return &Cron{base: c.cloneBase(), expr: c.expr}
}
