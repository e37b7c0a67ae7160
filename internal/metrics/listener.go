package metrics

import (
	"time"

	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/scheduler"
)

// Listener feeds the Prometheus metrics from scheduler events. Register
// it as a job, trigger, and scheduler listener on one scheduler instance.
type Listener struct {
	scheduler.SchedulerListenerBase
	m *Metrics
}

// NewListener creates a metrics listener over m.
func NewListener(m *Metrics) *Listener {
	return &Listener{m: m}
}

// Name identifies the listener.
func (*Listener) Name() string { return "metrics" }

// JobToBeExecuted marks one more execution in flight.
func (l *Listener) JobToBeExecuted(*domain.JobExecutionContext) {
	l.m.RecordExecutionStarted()
}

// JobExecutionVetoed records a vetoed execution.
func (l *Listener) JobExecutionVetoed(jec *domain.JobExecutionContext) {
	l.m.ExecutionsTotal.WithLabelValues(domain.ExecutionStatusVetoed, jec.JobDetail.Key.Group).Inc()
}

// JobWasExecuted records the execution outcome and duration.
func (l *Listener) JobWasExecuted(jec *domain.JobExecutionContext, jobErr error) {
	l.m.RecordExecutionFinished()
	status := domain.ExecutionStatusCompleted
	if jobErr != nil {
		status = domain.ExecutionStatusFailed
	}
	l.m.RecordExecution(status, jec.JobDetail.Key.Group, time.Since(jec.FireTime).Seconds())
}

// TriggerFired records a trigger fire.
func (l *Listener) TriggerFired(trig domain.Trigger, _ *domain.JobExecutionContext) {
	l.m.RecordTriggerFired(trig.Key().Group)
}

// VetoJobExecution never vetoes.
func (*Listener) VetoJobExecution(domain.Trigger, *domain.JobExecutionContext) bool {
	return false
}

// TriggerMisfired records a misfire.
func (l *Listener) TriggerMisfired(trig domain.Trigger) {
	l.m.RecordMisfire(trig.Key().Group)
}

// TriggerComplete is a no-op; completion is covered by JobWasExecuted.
func (*Listener) TriggerComplete(domain.Trigger, *domain.JobExecutionContext, domain.CompletedExecutionInstruction) {
}

// TriggerFinalized counts exhausted triggers.
func (l *Listener) TriggerFinalized(domain.Trigger) {
	l.m.TriggersFinalizedTotal.Inc()
}

// JobScheduled counts scheduled triggers.
func (l *Listener) JobScheduled(domain.Trigger) {
	l.m.JobsScheduledTotal.Inc()
}

// JobUnscheduled counts unscheduled triggers.
func (l *Listener) JobUnscheduled(domain.TriggerKey) {
	l.m.JobsUnscheduledTotal.Inc()
}

// SchedulerError counts internal errors.
func (l *Listener) SchedulerError(string, error) {
	l.m.SchedulerErrorsTotal.Inc()
}

// SchedulerStarted flips the running gauge up.
func (l *Listener) SchedulerStarted() {
	l.m.SetSchedulerRunning(true)
}

// SchedulerInStandbyMode flips the running gauge down.
func (l *Listener) SchedulerInStandbyMode() {
	l.m.SetSchedulerRunning(false)
}

// SchedulerShutdown flips the running gauge down.
func (l *Listener) SchedulerShutdown() {
	l.m.SetSchedulerRunning(false)
}
