package domain

import "time"

// Execution statuses recorded in the history log.
const (
	ExecutionStatusFired     = "fired"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusVetoed    = "vetoed"
	ExecutionStatusMisfired  = "misfired"
)

// ExecutionRecord is one row of the append-only execution history log.
// The history log is an audit trail, not scheduling state; the scheduler
// never reads it back.
type ExecutionRecord struct {
	// Identity
	ID             string `db:"id"               json:"id"`
	JobGroup       string `db:"job_group"        json:"job_group"`
	JobName        string `db:"job_name"         json:"job_name"`
	TriggerGroup   string `db:"trigger_group"    json:"trigger_group"`
	TriggerName    string `db:"trigger_name"     json:"trigger_name"`
	FireInstanceID string `db:"fire_instance_id" json:"fire_instance_id"`

	// Status: fired, completed, failed, vetoed, misfired.
	Status string `db:"status" json:"status"`

	// Timing
	ScheduledAt *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	FiredAt     time.Time  `db:"fired_at"     json:"fired_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	DurationMs  *int64     `db:"duration_ms"  json:"duration_ms,omitempty"`

	// Results
	ErrorMessage *string `db:"error_message" json:"error_message,omitempty"`

	// Metadata
	Metadata JSONBMap `db:"metadata" json:"metadata,omitempty"`
}
