package domain

import (
	"context"
	"fmt"
	"time"
)

// JobDetail is the immutable descriptor of a stored job. The Type field is a
// string identifier resolved by the job factory at fire time.
type JobDetail struct {
	// Key identifies the job.
	Key JobKey `json:"key"`
	// Type is the job type identifier registered with the job factory.
	Type string `json:"type"`
	// Description is an optional human-readable description.
	Description string `json:"description,omitempty"`
	// JobData is the data map handed to every execution.
	JobData JobDataMap `json:"job_data,omitempty"`
	// Durable keeps the job stored even when it has no triggers.
	Durable bool `json:"durable"`
	// ConcurrentExecutionDisallowed limits the job to one live execution.
	ConcurrentExecutionDisallowed bool `json:"concurrent_execution_disallowed"`
	// PersistJobDataAfterExecution replaces the stored data map with the
	// one returned by the execution.
	PersistJobDataAfterExecution bool `json:"persist_job_data_after_execution"`
}

// Validate checks the descriptor for required fields.
func (d *JobDetail) Validate() error {
	if err := d.Key.Validate(); err != nil {
		return err
	}
	if d.Type == "" {
		return fmt.Errorf("%w: job %s has no type", ErrInvalidJobDetail, d.Key)
	}
	return nil
}

// Clone returns a deep copy of the descriptor.
func (d *JobDetail) Clone() *JobDetail {
	if d == nil {
		return nil
	}
	out := *d
	out.JobData = d.JobData.Clone()
	return &out
}

// Equal reports deep equality of two descriptors (key, type, flags, data).
func (d *JobDetail) Equal(other *JobDetail) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.Key == other.Key &&
		d.Type == other.Type &&
		d.Description == other.Description &&
		d.Durable == other.Durable &&
		d.ConcurrentExecutionDisallowed == other.ConcurrentExecutionDisallowed &&
		d.PersistJobDataAfterExecution == other.PersistJobDataAfterExecution &&
		d.JobData.Equal(other.JobData)
}

// Job is user code invoked at fire times.
type Job interface {
	// Execute runs the job. The passed execution context carries the merged
	// data map and the fire metadata. Returning an error marks the
	// execution failed.
	Execute(ctx context.Context, jec *JobExecutionContext) error
}

// JobFunc adapts a plain function to the Job interface.
type JobFunc func(ctx context.Context, jec *JobExecutionContext) error

// Execute invokes the function.
func (f JobFunc) Execute(ctx context.Context, jec *JobExecutionContext) error {
	return f(ctx, jec)
}

// JobExecutionContext is handed to a job on each execution. It is built
// fresh per fire; jobs own it for the duration of Execute.
type JobExecutionContext struct {
	// JobDetail is a clone of the stored descriptor.
	JobDetail *JobDetail
	// Trigger is a clone of the trigger that fired.
	Trigger Trigger
	// MergedJobDataMap merges scheduler context, detail, and trigger data.
	// Jobs with PersistJobDataAfterExecution may mutate JobDetail.JobData;
	// the merged map itself is scratch space.
	MergedJobDataMap JobDataMap
	// FireTime is the wall-clock instant the execution began.
	FireTime time.Time
	// ScheduledFireTime is the instant the trigger was scheduled to fire.
	ScheduledFireTime *time.Time
	// PreviousFireTime is the trigger's previous scheduled fire, if any.
	PreviousFireTime *time.Time
	// NextFireTime is the trigger's next scheduled fire, if any.
	NextFireTime *time.Time
	// FireInstanceID uniquely identifies this fire.
	FireInstanceID string
	// RefireCount counts immediate re-executions requested by the job.
	RefireCount int
	// Result is an arbitrary value the job may leave for listeners.
	Result any
}

// TriggerFiredBundle is emitted by the store for each trigger moved to the
// executing phase, and consumed by the job factory.
type TriggerFiredBundle struct {
	JobDetail         *JobDetail
	Trigger           OperableTrigger
	Calendar          Calendar
	FireTime          time.Time
	ScheduledFireTime *time.Time
	PreviousFireTime  *time.Time
	NextFireTime      *time.Time
}

// CompletedExecutionInstruction tells the store how to dispose of a trigger
// after its job execution finished.
type CompletedExecutionInstruction int

const (
	// InstructionNoop leaves the trigger as the schedule dictates.
	InstructionNoop CompletedExecutionInstruction = iota
	// InstructionReExecuteJob fires the same job again immediately.
	InstructionReExecuteJob
	// InstructionSetTriggerComplete marks the fired trigger complete.
	InstructionSetTriggerComplete
	// InstructionDeleteTrigger removes the fired trigger.
	InstructionDeleteTrigger
	// InstructionSetAllJobTriggersComplete marks every trigger of the job
	// complete.
	InstructionSetAllJobTriggersComplete
	// InstructionSetTriggerError marks the fired trigger errored.
	InstructionSetTriggerError
	// InstructionSetAllJobTriggersError marks every trigger of the job
	// errored.
	InstructionSetAllJobTriggersError
)

// String returns the string representation of a completion instruction.
func (i CompletedExecutionInstruction) String() string {
	switch i {
	case InstructionNoop:
		return "noop"
	case InstructionReExecuteJob:
		return "re_execute_job"
	case InstructionSetTriggerComplete:
		return "set_trigger_complete"
	case InstructionDeleteTrigger:
		return "delete_trigger"
	case InstructionSetAllJobTriggersComplete:
		return "set_all_job_triggers_complete"
	case InstructionSetTriggerError:
		return "set_trigger_error"
	case InstructionSetAllJobTriggersError:
		return "set_all_job_triggers_error"
	default:
		return "unknown"
	}
}
