package domain

import "time"

// Misfire instructions shared by every trigger family. Family-specific
// instructions are defined alongside the trigger implementations; the two
// values here are sentinels understood by the store.
const (
	// MisfireInstructionIgnorePolicy tells the store to never treat late
	// fires as misfires; the trigger fires as soon as it can and the
	// schedule advances from there.
	MisfireInstructionIgnorePolicy = -1

	// MisfireInstructionSmartPolicy lets the trigger family pick a
	// sensible recovery instruction.
	MisfireInstructionSmartPolicy = 0
)

// Trigger is the read-only view of a schedule attached to a job.
type Trigger interface {
	// Key identifies the trigger.
	Key() TriggerKey
	// JobKey identifies the job the trigger fires.
	JobKey() JobKey
	// Description returns the optional description.
	Description() string
	// CalendarName returns the name of the exclusion calendar, or "".
	CalendarName() string
	// JobData returns trigger-scoped data merged into executions.
	JobData() JobDataMap
	// Priority breaks ties between triggers with equal fire times.
	// Higher wins. The default is DefaultPriority.
	Priority() int
	// StartTime is the earliest instant the schedule may fire.
	StartTime() time.Time
	// EndTime truncates the schedule, or nil for open-ended.
	EndTime() *time.Time
	// NextFireTime is the next scheduled fire, or nil when exhausted.
	NextFireTime() *time.Time
	// PreviousFireTime is the last scheduled fire, or nil before the first.
	PreviousFireTime() *time.Time
	// MisfireInstruction selects the misfire recovery policy.
	MisfireInstruction() int
	// FireInstanceID identifies the current fire; assigned on acquire.
	FireInstanceID() string
}

// OperableTrigger extends Trigger with the mutating operations driven by the
// store and the scheduler loop.
type OperableTrigger interface {
	Trigger

	// Validate checks the trigger's configuration.
	Validate() error

	// ComputeFirstFireTime computes and stores the first fire time at or
	// after StartTime that the calendar includes. Returns nil when the
	// schedule can never fire.
	ComputeFirstFireTime(cal Calendar) *time.Time

	// Triggered advances the schedule when the engine fires the trigger:
	// previousFireTime becomes nextFireTime and nextFireTime is recomputed
	// honoring EndTime and the calendar.
	Triggered(cal Calendar)

	// UpdateAfterMisfire applies the trigger's misfire instruction,
	// producing a new nextFireTime (possibly nil).
	UpdateAfterMisfire(cal Calendar)

	// UpdateWithNewCalendar recomputes nextFireTime against a replacement
	// calendar, advancing past newly excluded instants. A recomputed fire
	// time more than misfireThreshold in the past is pulled forward.
	UpdateWithNewCalendar(cal Calendar, misfireThreshold time.Duration)

	// SetNextFireTime overrides the computed next fire time.
	SetNextFireTime(t *time.Time)

	// SetPreviousFireTime overrides the previous fire time.
	SetPreviousFireTime(t *time.Time)

	// SetFireInstanceID records the id assigned on acquire.
	SetFireInstanceID(id string)

	// Clone returns a deep copy so the store and callers never share state.
	Clone() OperableTrigger
}

// DefaultPriority is the priority applied when none is set.
const DefaultPriority = 5

// TriggerState is the externally observable state of a trigger.
type TriggerState string

const (
	// TriggerStateNone means the trigger does not exist.
	TriggerStateNone TriggerState = "none"
	// TriggerStateNormal means the trigger is waiting or executing.
	TriggerStateNormal TriggerState = "normal"
	// TriggerStatePaused means the trigger will not fire until resumed.
	TriggerStatePaused TriggerState = "paused"
	// TriggerStateComplete means the schedule is exhausted.
	TriggerStateComplete TriggerState = "complete"
	// TriggerStateError means an execution left the trigger in error.
	TriggerStateError TriggerState = "error"
	// TriggerStateBlocked means another execution of the same
	// non-concurrent job is in flight.
	TriggerStateBlocked TriggerState = "blocked"
)

// TimeAfterOrEqual reports t >= ref. Helper shared by the trigger families.
func TimeAfterOrEqual(t, ref time.Time) bool {
	return !t.Before(ref)
}

// TimePtr returns a pointer to t. Nil-able fire times are passed around as
// *time.Time throughout the scheduler.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// CloneTimePtr copies a nullable time.
func CloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
