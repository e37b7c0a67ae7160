package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonesrussell/goquartz/internal/calendar"
	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/trigger"
)

// Schedule kinds accepted in a ScheduleSpec. Exactly one must be set.
const (
	scheduleKindCron     = "cron"
	scheduleKindSimple   = "simple"
	scheduleKindInterval = "calendar_interval"
)

// JobSpec declares a job and its triggers in the config file.
type JobSpec struct {
	Group              string         `mapstructure:"group"               yaml:"group"`
	Name               string         `mapstructure:"name"                yaml:"name"`
	Type               string         `mapstructure:"type"                yaml:"type"`
	Description        string         `mapstructure:"description"         yaml:"description"`
	Durable            bool           `mapstructure:"durable"             yaml:"durable"`
	DisallowConcurrent bool           `mapstructure:"disallow_concurrent" yaml:"disallow_concurrent"`
	PersistData        bool           `mapstructure:"persist_data"        yaml:"persist_data"`
	Data               map[string]any `mapstructure:"data"                yaml:"data"`
	Triggers           []TriggerSpec  `mapstructure:"triggers"            yaml:"triggers"`
}

// TriggerSpec declares one trigger of a job.
type TriggerSpec struct {
	Group    string         `mapstructure:"group"    yaml:"group"`
	Name     string         `mapstructure:"name"     yaml:"name"`
	Schedule ScheduleSpec   `mapstructure:"schedule" yaml:"schedule"`
	Calendar string         `mapstructure:"calendar" yaml:"calendar"`
	Priority int            `mapstructure:"priority" yaml:"priority"`
	Misfire  string         `mapstructure:"misfire"  yaml:"misfire"`
	StartAt  *time.Time     `mapstructure:"start_at" yaml:"start_at"`
	EndAt    *time.Time     `mapstructure:"end_at"   yaml:"end_at"`
	Data     map[string]any `mapstructure:"data"     yaml:"data"`
}

// ScheduleSpec declares when a trigger fires. Set cron for a cron schedule,
// interval for a fixed-delay simple schedule, or every+unit for a
// calendar-interval schedule.
type ScheduleSpec struct {
	Cron              string        `mapstructure:"cron"                 yaml:"cron"`
	Interval          time.Duration `mapstructure:"interval"             yaml:"interval"`
	RepeatCount       *int          `mapstructure:"repeat_count"         yaml:"repeat_count"`
	Every             int           `mapstructure:"every"                yaml:"every"`
	Unit              string        `mapstructure:"unit"                 yaml:"unit"`
	PreserveHourOfDay bool          `mapstructure:"preserve_hour_of_day" yaml:"preserve_hour_of_day"`
	Location          string        `mapstructure:"location"             yaml:"location"`
}

// CalendarSpec declares a named exclusion calendar.
type CalendarSpec struct {
	Name        string   `mapstructure:"name"         yaml:"name"`
	Type        string   `mapstructure:"type"         yaml:"type"`
	Description string   `mapstructure:"description"  yaml:"description"`
	Base        string   `mapstructure:"base"         yaml:"base"`
	Timezone    string   `mapstructure:"timezone"     yaml:"timezone"`
	Expression  string   `mapstructure:"expression"   yaml:"expression"`
	ExcludeDays []string `mapstructure:"exclude_days" yaml:"exclude_days"`
	Dates       []string `mapstructure:"dates"        yaml:"dates"`
}

// kind classifies the schedule, or returns an error when the declaration
// is ambiguous or empty.
func (s *ScheduleSpec) kind() (string, error) {
	set := 0
	kind := ""
	if s.Cron != "" {
		set++
		kind = scheduleKindCron
	}
	if s.Interval != 0 {
		set++
		kind = scheduleKindSimple
	}
	if s.Every != 0 || s.Unit != "" {
		set++
		kind = scheduleKindInterval
	}
	if set == 0 {
		return "", fmt.Errorf("schedule must set cron, interval, or every+unit")
	}
	if set > 1 {
		return "", fmt.Errorf("schedule must set exactly one of cron, interval, every+unit")
	}
	return kind, nil
}

// Validate checks the job declaration without building anything.
func (s *JobSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if s.Type == "" {
		return fmt.Errorf("job type is required")
	}
	seen := make(map[string]bool, len(s.Triggers))
	for i := range s.Triggers {
		t := &s.Triggers[i]
		if t.Name == "" {
			return fmt.Errorf("trigger name is required")
		}
		id := t.Group + "." + t.Name
		if seen[id] {
			return fmt.Errorf("duplicate trigger %q", t.Name)
		}
		seen[id] = true
		if _, err := t.Schedule.kind(); err != nil {
			return fmt.Errorf("trigger %q: %w", t.Name, err)
		}
	}
	return nil
}

// Validate checks the calendar declaration without building it.
func (s *CalendarSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("calendar name is required")
	}
	switch s.Type {
	case "weekly", "monthly", "annual", "holiday", "cron", "base":
		return nil
	default:
		return fmt.Errorf("unknown calendar type %q", s.Type)
	}
}

// BuildDetail builds the job descriptor from the declaration.
func (s *JobSpec) BuildDetail() *domain.JobDetail {
	return &domain.JobDetail{
		Key:                           domain.NewJobKeyWithGroup(s.Group, s.Name),
		Type:                          s.Type,
		Description:                   s.Description,
		JobData:                       domain.JobDataMap(s.Data),
		Durable:                       s.Durable,
		ConcurrentExecutionDisallowed: s.DisallowConcurrent,
		PersistJobDataAfterExecution:  s.PersistData,
	}
}

// BuildTriggers builds the job's triggers from the declaration.
func (s *JobSpec) BuildTriggers() ([]domain.OperableTrigger, error) {
	jobKey := domain.NewJobKeyWithGroup(s.Group, s.Name)
	out := make([]domain.OperableTrigger, 0, len(s.Triggers))
	for i := range s.Triggers {
		trig, err := s.Triggers[i].build(jobKey)
		if err != nil {
			return nil, fmt.Errorf("trigger %q: %w", s.Triggers[i].Name, err)
		}
		out = append(out, trig)
	}
	return out, nil
}

func (s *TriggerSpec) build(jobKey domain.JobKey) (domain.OperableTrigger, error) {
	key := domain.NewTriggerKeyWithGroup(s.Group, s.Name)
	kind, err := s.Schedule.kind()
	if err != nil {
		return nil, err
	}

	misfire, err := parseMisfire(kind, s.Misfire)
	if err != nil {
		return nil, err
	}

	switch kind {
	case scheduleKindCron:
		loc := time.Local
		if s.Schedule.Location != "" {
			if loc, err = time.LoadLocation(s.Schedule.Location); err != nil {
				return nil, fmt.Errorf("invalid location: %w", err)
			}
		}
		trig, err := trigger.NewCronInLocation(key, jobKey, s.Schedule.Cron, loc)
		if err != nil {
			return nil, err
		}
		applyCommon(trig.WithMisfireInstruction(misfire), s)
		return trig, nil

	case scheduleKindSimple:
		repeat := trigger.RepeatIndefinitely
		if s.Schedule.RepeatCount != nil {
			repeat = *s.Schedule.RepeatCount
		}
		trig := trigger.NewSimple(key, jobKey).
			WithRepeatInterval(s.Schedule.Interval).
			WithRepeatCount(repeat).
			WithMisfireInstruction(misfire)
		applyCommon(trig, s)
		return trig, nil

	case scheduleKindInterval:
		every := s.Schedule.Every
		if every == 0 {
			every = 1
		}
		trig := trigger.NewCalendarInterval(key, jobKey, every,
			trigger.IntervalUnit(s.Schedule.Unit)).
			WithPreserveHourOfDay(s.Schedule.PreserveHourOfDay).
			WithMisfireInstruction(misfire)
		if s.Schedule.Location != "" {
			loc, locErr := time.LoadLocation(s.Schedule.Location)
			if locErr != nil {
				return nil, fmt.Errorf("invalid location: %w", locErr)
			}
			trig.WithLocation(loc)
		}
		applyCommon(trig, s)
		return trig, nil
	}
	return nil, fmt.Errorf("unknown schedule kind %q", kind)
}

// applyCommon applies the schedule-independent trigger settings. The
// builder methods mutate in place, so the returned values are discarded.
func applyCommon(trig domain.OperableTrigger, s *TriggerSpec) {
	switch t := trig.(type) {
	case *trigger.SimpleTrigger:
		if s.Calendar != "" {
			t.WithCalendarName(s.Calendar)
		}
		if s.Priority != 0 {
			t.WithPriority(s.Priority)
		}
		if len(s.Data) > 0 {
			t.WithJobData(domain.JobDataMap(s.Data))
		}
		if s.StartAt != nil {
			t.WithStartTime(*s.StartAt)
		}
		if s.EndAt != nil {
			t.WithEndTime(*s.EndAt)
		}
	case *trigger.CronTrigger:
		if s.Calendar != "" {
			t.WithCalendarName(s.Calendar)
		}
		if s.Priority != 0 {
			t.WithPriority(s.Priority)
		}
		if len(s.Data) > 0 {
			t.WithJobData(domain.JobDataMap(s.Data))
		}
		if s.StartAt != nil {
			t.WithStartTime(*s.StartAt)
		}
		if s.EndAt != nil {
			t.WithEndTime(*s.EndAt)
		}
	case *trigger.CalendarIntervalTrigger:
		if s.Calendar != "" {
			t.WithCalendarName(s.Calendar)
		}
		if s.Priority != 0 {
			t.WithPriority(s.Priority)
		}
		if len(s.Data) > 0 {
			t.WithJobData(domain.JobDataMap(s.Data))
		}
		if s.StartAt != nil {
			t.WithStartTime(*s.StartAt)
		}
		if s.EndAt != nil {
			t.WithEndTime(*s.EndAt)
		}
	}
}

// parseMisfire maps a misfire policy name to the trigger-type-specific
// instruction constant. An empty name means the smart policy.
func parseMisfire(kind, name string) (int, error) {
	switch strings.ToLower(name) {
	case "", "smart":
		return domain.MisfireInstructionSmartPolicy, nil
	case "ignore":
		return domain.MisfireInstructionIgnorePolicy, nil
	}

	switch kind {
	case scheduleKindCron, scheduleKindInterval:
		switch strings.ToLower(name) {
		case "fire_once_now":
			return trigger.MisfireInstructionFireOnceNow, nil
		case "do_nothing":
			return trigger.MisfireInstructionDoNothing, nil
		}
	case scheduleKindSimple:
		switch strings.ToLower(name) {
		case "fire_now":
			return trigger.MisfireInstructionFireNow, nil
		case "reschedule_now_existing_count":
			return trigger.MisfireInstructionRescheduleNowWithExistingRepeatCount, nil
		case "reschedule_now_remaining_count":
			return trigger.MisfireInstructionRescheduleNowWithRemainingRepeatCount, nil
		case "reschedule_next_remaining_count":
			return trigger.MisfireInstructionRescheduleNextWithRemainingCount, nil
		case "reschedule_next_existing_count":
			return trigger.MisfireInstructionRescheduleNextWithExistingCount, nil
		}
	}
	return 0, fmt.Errorf("unknown misfire policy %q for %s schedule", name, kind)
}

// BuildCalendars builds every declared calendar, resolving base references.
// A calendar may only reference a base declared before it.
func BuildCalendars(specs []CalendarSpec) (map[string]domain.Calendar, error) {
	built := make(map[string]domain.Calendar, len(specs))
	for i := range specs {
		cal, err := specs[i].build(built)
		if err != nil {
			return nil, fmt.Errorf("calendar %q: %w", specs[i].Name, err)
		}
		built[specs[i].Name] = cal
	}
	return built, nil
}

// baseSetter is the configuration surface shared by every calendar type.
type baseSetter interface {
	SetDescription(string)
	SetBaseCalendar(domain.Calendar)
	SetTimeZone(*time.Location)
}

func (s *CalendarSpec) build(built map[string]domain.Calendar) (domain.Calendar, error) {
	loc := time.UTC
	if s.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(s.Timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone: %w", err)
		}
	}

	var cal domain.Calendar
	switch s.Type {
	case "base":
		cal = calendar.NewBase()

	case "weekly":
		weekly := calendar.NewWeekly()
		if len(s.ExcludeDays) > 0 {
			for day := time.Sunday; day <= time.Saturday; day++ {
				weekly.SetDayExcluded(day, false)
			}
			for _, name := range s.ExcludeDays {
				day, err := parseWeekday(name)
				if err != nil {
					return nil, err
				}
				weekly.SetDayExcluded(day, true)
			}
		}
		cal = weekly

	case "monthly":
		monthly := calendar.NewMonthly()
		for _, name := range s.ExcludeDays {
			var day int
			if _, err := fmt.Sscanf(name, "%d", &day); err != nil {
				return nil, fmt.Errorf("invalid day of month %q", name)
			}
			monthly.SetDayExcluded(day, true)
		}
		cal = monthly

	case "annual":
		annual := calendar.NewAnnual()
		for _, raw := range s.Dates {
			day, err := time.Parse("01-02", raw)
			if err != nil {
				return nil, fmt.Errorf("invalid month-day %q (want MM-DD)", raw)
			}
			annual.SetDayExcluded(day.Month(), day.Day(), true)
		}
		cal = annual

	case "holiday":
		holiday := calendar.NewHoliday()
		holiday.SetTimeZone(loc)
		for _, raw := range s.Dates {
			date, err := time.ParseInLocation("2006-01-02", raw, loc)
			if err != nil {
				return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", raw)
			}
			holiday.AddExcludedDate(date)
		}
		cal = holiday

	case "cron":
		cron, err := calendar.NewCronInLocation(s.Expression, loc)
		if err != nil {
			return nil, err
		}
		cal = cron

	default:
		return nil, fmt.Errorf("unknown calendar type %q", s.Type)
	}

	setter, ok := cal.(baseSetter)
	if !ok {
		return cal, nil
	}
	if s.Description != "" {
		setter.SetDescription(s.Description)
	}
	if s.Timezone != "" {
		setter.SetTimeZone(loc)
	}
	if s.Base != "" {
		base, found := built[s.Base]
		if !found {
			return nil, fmt.Errorf("base calendar %q must be declared first", s.Base)
		}
		setter.SetBaseCalendar(base.Clone())
	}
	return cal, nil
}

func parseWeekday(name string) (time.Weekday, error) {
	switch strings.ToLower(name) {
	case "sunday", "sun":
		return time.Sunday, nil
	case "monday", "mon":
		return time.Monday, nil
	case "tuesday", "tue":
		return time.Tuesday, nil
	case "wednesday", "wed":
		return time.Wednesday, nil
	case "thursday", "thu":
		return time.Thursday, nil
	case "friday", "fri":
		return time.Friday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("invalid weekday %q", name)
	}
}
