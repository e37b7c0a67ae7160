package cronexpr

import (
	"strconv"
	"strings"
	"time"
)

const (
	minFieldCount = 6
	maxFieldCount = 7

	secondsFieldMax = 59
	minutesFieldMax = 59
	hoursFieldMax   = 23
	domFieldMin     = 1
	domFieldMax     = 31
	monthFieldMin   = 1
	monthFieldMax   = 12
	dowFieldMin     = 0
	dowFieldMax     = 6

	maxNthWeek = 5
	// maxLastDayOffset bounds 'L-n' so the target never leaves the month.
	maxLastDayOffset = 30
)

var monthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

// Day-of-week names map to Go's weekday numbering (Sunday = 0).
var dowNames = map[string]int{
	"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6,
}

// fieldPos tracks a field's text and its offset in the full expression for
// error reporting.
type fieldPos struct {
	name   string
	text   string
	offset int
}

// parse tokenizes and validates the expression, populating e.
func (e *Expression) parse(text string) error {
	normalized := strings.ToUpper(strings.TrimSpace(text))
	fields := splitFields(normalized)

	if len(fields) < minFieldCount || len(fields) > maxFieldCount {
		return &ParseError{
			Expression: text,
			Field:      "expression",
			Offset:     0,
			Message:    "expected 6 or 7 whitespace-separated fields, got " + strconv.Itoa(len(fields)),
		}
	}

	e.text = joinFields(fields)

	names := []string{"second", "minute", "hour", "day-of-month", "month", "day-of-week", "year"}
	for i, f := range fields {
		f.name = names[i]
		var err error
		switch i {
		case 0:
			e.seconds, err = e.parseSimpleField(f, 0, secondsFieldMax, nil)
		case 1:
			e.minutes, err = e.parseSimpleField(f, 0, minutesFieldMax, nil)
		case 2:
			e.hours, err = e.parseSimpleField(f, 0, hoursFieldMax, nil)
		case 3:
			err = e.parseDayOfMonth(f)
		case 4:
			e.months, err = e.parseSimpleField(f, monthFieldMin, monthFieldMax, monthNames)
		case 5:
			err = e.parseDayOfWeek(f)
		case 6:
			err = e.parseYear(f)
		}
		if err != nil {
			return err
		}
	}

	if e.domNoSpec && e.dowNoSpec {
		return &ParseError{
			Expression: e.text,
			Field:      "day-of-week",
			Offset:     fields[5].offset,
			Message:    "'?' cannot be used in both day-of-month and day-of-week",
		}
	}

	return nil
}

// splitFields splits on whitespace keeping each field's character offset.
func splitFields(s string) []fieldPos {
	var fields []fieldPos
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				fields = append(fields, fieldPos{text: s[start:i], offset: start})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, fieldPos{text: s[start:], offset: start})
	}
	return fields
}

func joinFields(fields []fieldPos) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.text
	}
	return strings.Join(parts, " ")
}

func (e *Expression) errAt(f fieldPos, at int, msg string) error {
	return &ParseError{
		Expression: e.text,
		Field:      f.name,
		Offset:     f.offset + at,
		Message:    msg,
	}
}

// parseSimpleField parses fields without special characters beyond
// lists, ranges, steps, '*', and symbolic names.
func (e *Expression) parseSimpleField(f fieldPos, min, max int, symbols map[string]int) (uint64, error) {
	var bits uint64
	at := 0
	for _, part := range strings.Split(f.text, ",") {
		partBits, err := e.parseRangePart(f, at, part, min, max, symbols)
		if err != nil {
			return 0, err
		}
		bits |= partBits
		at += len(part) + 1
	}
	if bits == 0 {
		return 0, e.errAt(f, 0, "field matches nothing")
	}
	return bits, nil
}

// parseRangePart parses one comma-separated part: *, */n, a, a/n, a-b, a-b/n,
// or a symbolic name. Ranges with start > end wrap around the field.
func (e *Expression) parseRangePart(f fieldPos, at int, part string, min, max int, symbols map[string]int) (uint64, error) {
	if part == "" {
		return 0, e.errAt(f, at, "empty list element")
	}

	body, step, err := e.splitStep(f, at, part)
	if err != nil {
		return 0, err
	}

	var start, end int
	switch {
	case body == "*":
		start, end = min, max
	case strings.Contains(body, "-"):
		bounds := strings.SplitN(body, "-", 2)
		start, err = e.parseValue(f, at, bounds[0], min, max, symbols)
		if err != nil {
			return 0, err
		}
		end, err = e.parseValue(f, at+len(bounds[0])+1, bounds[1], min, max, symbols)
		if err != nil {
			return 0, err
		}
	default:
		start, err = e.parseValue(f, at, body, min, max, symbols)
		if err != nil {
			return 0, err
		}
		if step > 1 {
			// "a/n" means from a to max.
			end = max
		} else {
			end = start
		}
	}

	return rangeBits(start, end, step, min, max), nil
}

// splitStep splits "body/step" and validates the step.
func (e *Expression) splitStep(f fieldPos, at int, part string) (string, int, error) {
	idx := strings.IndexByte(part, '/')
	if idx < 0 {
		return part, 1, nil
	}
	stepText := part[idx+1:]
	step, err := strconv.Atoi(stepText)
	if err != nil || step <= 0 {
		return "", 0, e.errAt(f, at+idx+1, "invalid step value "+strconv.Quote(stepText))
	}
	return part[:idx], step, nil
}

func (e *Expression) parseValue(f fieldPos, at int, text string, min, max int, symbols map[string]int) (int, error) {
	if symbols != nil {
		if v, ok := symbols[text]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, e.errAt(f, at, "unrecognized value "+strconv.Quote(text))
	}
	if v < min || v > max {
		return 0, e.errAt(f, at, "value "+text+" out of range "+strconv.Itoa(min)+"-"+strconv.Itoa(max))
	}
	return v, nil
}

// rangeBits builds the bitset for start..end with the given step; a range
// with start > end wraps around the field's legal values.
func rangeBits(start, end, step, min, max int) uint64 {
	var bits uint64
	if start <= end {
		for v := start; v <= end; v += step {
			bits |= bit(v)
		}
		return bits
	}
	// Wrapped range, e.g. FRI-MON.
	span := (max - start) + (end - min) + 1
	v := start
	for covered := 0; covered <= span; covered += step {
		bits |= bit(v)
		v += step
		if v > max {
			v = min + (v - max - 1)
		}
	}
	return bits
}

// parseDayOfMonth handles ?, L, L-n, LW, nW plus the plain forms.
func (e *Expression) parseDayOfMonth(f fieldPos) error {
	text := f.text

	switch {
	case text == "?":
		e.domNoSpec = true
		return nil
	case text == "*":
		e.domStar = true
		e.daysOfMonth = rangeBits(domFieldMin, domFieldMax, 1, domFieldMin, domFieldMax)
		return nil
	case text == "L":
		e.lastDayOfMonth = true
		return nil
	case text == "LW":
		e.lastWeekdayOfMonth = true
		return nil
	case strings.HasPrefix(text, "L-"):
		offset, err := strconv.Atoi(text[2:])
		if err != nil || offset < 0 || offset > maxLastDayOffset {
			return e.errAt(f, 2, "invalid offset in "+strconv.Quote(text))
		}
		e.lastDayOfMonth = true
		e.lastDayOffset = offset
		return nil
	case strings.HasSuffix(text, "W"):
		day, err := strconv.Atoi(strings.TrimSuffix(text, "W"))
		if err != nil || day < domFieldMin || day > domFieldMax {
			return e.errAt(f, 0, "invalid day in "+strconv.Quote(text))
		}
		e.nearestWeekday = true
		e.weekdayTargetDay = day
		return nil
	}

	if strings.ContainsAny(text, "LW") {
		return e.errAt(f, 0, "'L' and 'W' cannot be combined with lists or ranges")
	}

	bits, err := e.parseSimpleField(f, domFieldMin, domFieldMax, nil)
	if err != nil {
		return err
	}
	e.daysOfMonth = bits
	return nil
}

// parseDayOfWeek handles ?, nL, n#k plus the plain forms. Quartz numbers
// weekdays 1 (Sunday) through 7 (Saturday); names SUN..SAT are accepted.
func (e *Expression) parseDayOfWeek(f fieldPos) error {
	text := f.text

	switch {
	case text == "?":
		e.dowNoSpec = true
		return nil
	case text == "*":
		e.dowStar = true
		e.daysOfWeek = rangeBits(dowFieldMin, dowFieldMax, 1, dowFieldMin, dowFieldMax)
		return nil
	case text == "L":
		// Bare 'L' means Saturday.
		e.daysOfWeek = bit(int(time.Saturday))
		return nil
	}

	if idx := strings.IndexByte(text, '#'); idx >= 0 {
		day, err := e.parseWeekdayValue(f, 0, text[:idx])
		if err != nil {
			return err
		}
		nth, convErr := strconv.Atoi(text[idx+1:])
		if convErr != nil || nth < 1 || nth > maxNthWeek {
			return e.errAt(f, idx+1, "nth value must be 1-"+strconv.Itoa(maxNthWeek))
		}
		e.daysOfWeek = bit(day)
		e.nthDayOfWeek = nth
		return nil
	}

	if strings.HasSuffix(text, "L") {
		day, err := e.parseWeekdayValue(f, 0, strings.TrimSuffix(text, "L"))
		if err != nil {
			return err
		}
		e.daysOfWeek = bit(day)
		e.lastDayOfWeek = true
		return nil
	}

	// Plain lists/ranges/steps over weekday values or names.
	var bits uint64
	at := 0
	for _, part := range strings.Split(text, ",") {
		partBits, err := e.parseWeekdayRange(f, at, part)
		if err != nil {
			return err
		}
		bits |= partBits
		at += len(part) + 1
	}
	if bits == 0 {
		return e.errAt(f, 0, "field matches nothing")
	}
	e.daysOfWeek = bits
	return nil
}

func (e *Expression) parseWeekdayRange(f fieldPos, at int, part string) (uint64, error) {
	body, step, err := e.splitStep(f, at, part)
	if err != nil {
		return 0, err
	}

	var start, end int
	switch {
	case body == "*":
		start, end = dowFieldMin, dowFieldMax
	case strings.Contains(body, "-"):
		bounds := strings.SplitN(body, "-", 2)
		start, err = e.parseWeekdayValue(f, at, bounds[0])
		if err != nil {
			return 0, err
		}
		end, err = e.parseWeekdayValue(f, at+len(bounds[0])+1, bounds[1])
		if err != nil {
			return 0, err
		}
	default:
		start, err = e.parseWeekdayValue(f, at, body)
		if err != nil {
			return 0, err
		}
		if step > 1 {
			end = dowFieldMax
		} else {
			end = start
		}
	}

	return rangeBits(start, end, step, dowFieldMin, dowFieldMax), nil
}

// parseWeekdayValue converts a Quartz weekday (1=SUN..7=SAT) or name to
// Go's numbering (0=Sunday).
func (e *Expression) parseWeekdayValue(f fieldPos, at int, text string) (int, error) {
	if v, ok := dowNames[text]; ok {
		return v, nil
	}
	v, err := strconv.Atoi(text)
	if err != nil || v < 1 || v > daysInWeek {
		return 0, e.errAt(f, at, "weekday must be 1-7 or SUN-SAT, got "+strconv.Quote(text))
	}
	return v - 1, nil
}

// parseYear parses the optional year field into an explicit year set.
func (e *Expression) parseYear(f fieldPos) error {
	if f.text == "*" {
		return nil
	}

	years := make(map[int]bool)
	at := 0
	for _, part := range strings.Split(f.text, ",") {
		body, step, err := e.splitStep(f, at, part)
		if err != nil {
			return err
		}

		var start, end int
		switch {
		case body == "*":
			start, end = minYear, maxYear
		case strings.Contains(body, "-"):
			bounds := strings.SplitN(body, "-", 2)
			start, err = e.parseValue(f, at, bounds[0], minYear, maxYear, nil)
			if err != nil {
				return err
			}
			end, err = e.parseValue(f, at+len(bounds[0])+1, bounds[1], minYear, maxYear, nil)
			if err != nil {
				return err
			}
		default:
			start, err = e.parseValue(f, at, body, minYear, maxYear, nil)
			if err != nil {
				return err
			}
			if step > 1 {
				end = maxYear
			} else {
				end = start
			}
		}

		if end < start {
			return e.errAt(f, at, "year range end precedes start")
		}
		for y := start; y <= end; y += step {
			years[y] = true
		}
		at += len(part) + 1
	}

	e.years = years
	return nil
}
