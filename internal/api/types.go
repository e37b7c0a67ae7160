package api

import (
	"time"

	"github.com/jonesrussell/goquartz/internal/domain"
)

// JobResponse is the API representation of a stored job.
type JobResponse struct {
	Group                         string             `json:"group"`
	Name                          string             `json:"name"`
	Type                          string             `json:"type"`
	Description                   string             `json:"description,omitempty"`
	Durable                       bool               `json:"durable"`
	ConcurrentExecutionDisallowed bool               `json:"concurrent_execution_disallowed"`
	JobData                       domain.JobDataMap  `json:"job_data,omitempty"`
	Triggers                      []*TriggerResponse `json:"triggers"`
}

// TriggerResponse is the API representation of a stored trigger.
type TriggerResponse struct {
	Group            string              `json:"group"`
	Name             string              `json:"name"`
	JobGroup         string              `json:"job_group"`
	JobName          string              `json:"job_name"`
	State            domain.TriggerState `json:"state"`
	Priority         int                 `json:"priority"`
	CalendarName     string              `json:"calendar_name,omitempty"`
	StartTime        time.Time           `json:"start_time"`
	EndTime          *time.Time          `json:"end_time,omitempty"`
	NextFireTime     *time.Time          `json:"next_fire_time,omitempty"`
	PreviousFireTime *time.Time          `json:"previous_fire_time,omitempty"`
}

// SchedulerStatusResponse reports the scheduler's lifecycle and sizes.
type SchedulerStatusResponse struct {
	InstanceName  string `json:"instance_name"`
	InstanceID    string `json:"instance_id"`
	State         string `json:"state"`
	JobCount      int    `json:"job_count"`
	TriggerCount  int    `json:"trigger_count"`
	CalendarCount int    `json:"calendar_count"`
	Executing     int    `json:"executing"`
}

// ExecutingResponse is the API representation of one in-flight execution.
type ExecutingResponse struct {
	JobGroup       string    `json:"job_group"`
	JobName        string    `json:"job_name"`
	TriggerGroup   string    `json:"trigger_group"`
	TriggerName    string    `json:"trigger_name"`
	FireInstanceID string    `json:"fire_instance_id"`
	FireTime       time.Time `json:"fire_time"`
	RefireCount    int       `json:"refire_count"`
}

// RunJobRequest carries the optional trigger data for a manual fire.
type RunJobRequest struct {
	JobData domain.JobDataMap `json:"job_data"`
}

func triggerResponse(trig domain.Trigger, state domain.TriggerState) *TriggerResponse {
	return &TriggerResponse{
		Group:            trig.Key().Group,
		Name:             trig.Key().Name,
		JobGroup:         trig.JobKey().Group,
		JobName:          trig.JobKey().Name,
		State:            state,
		Priority:         trig.Priority(),
		CalendarName:     trig.CalendarName(),
		StartTime:        trig.StartTime(),
		EndTime:          trig.EndTime(),
		NextFireTime:     trig.NextFireTime(),
		PreviousFireTime: trig.PreviousFireTime(),
	}
}
