package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/logger"
	"github.com/jonesrussell/goquartz/internal/scheduler"
)

// writeTimeout bounds each history write so a slow database cannot stall
// job execution.
const writeTimeout = 5 * time.Second

// Listener writes execution history rows from scheduler events. Register
// it as both a job and a trigger listener. Write failures are logged and
// swallowed; the audit log must never break scheduling.
type Listener struct {
	scheduler.TriggerListenerBase
	recorder Recorder
	log      logger.Logger
}

// NewListener creates a history listener over the recorder.
func NewListener(recorder Recorder, log logger.Logger) *Listener {
	if log == nil {
		log = logger.NewNop()
	}
	return &Listener{recorder: recorder, log: log}
}

// Name identifies the listener.
func (*Listener) Name() string { return "history" }

// JobToBeExecuted inserts the fired row.
func (l *Listener) JobToBeExecuted(jec *domain.JobExecutionContext) {
	l.insert(l.record(jec, domain.ExecutionStatusFired))
}

// JobExecutionVetoed inserts a vetoed row.
func (l *Listener) JobExecutionVetoed(jec *domain.JobExecutionContext) {
	l.insert(l.record(jec, domain.ExecutionStatusVetoed))
}

// JobWasExecuted finishes the fired row with the outcome.
func (l *Listener) JobWasExecuted(jec *domain.JobExecutionContext, jobErr error) {
	status := domain.ExecutionStatusCompleted
	var errMsg *string
	if jobErr != nil {
		status = domain.ExecutionStatusFailed
		msg := jobErr.Error()
		errMsg = &msg
	}

	completedAt := time.Now()
	durationMs := completedAt.Sub(jec.FireTime).Milliseconds()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := l.recorder.RecordOutcome(ctx, jec.FireInstanceID, status, completedAt, durationMs, errMsg); err != nil {
		l.log.Error("failed to record execution outcome",
			logger.String("fire_instance_id", jec.FireInstanceID), logger.Error(err))
	}
}

// TriggerMisfired inserts a misfired row. Misfires have no fire instance,
// so the row is complete on insert.
func (l *Listener) TriggerMisfired(trig domain.Trigger) {
	rec := &domain.ExecutionRecord{
		ID:           uuid.NewString(),
		JobGroup:     trig.JobKey().Group,
		JobName:      trig.JobKey().Name,
		TriggerGroup: trig.Key().Group,
		TriggerName:  trig.Key().Name,
		Status:       domain.ExecutionStatusMisfired,
		ScheduledAt:  domain.CloneTimePtr(trig.NextFireTime()),
		FiredAt:      time.Now(),
	}
	l.insert(rec)
}

func (l *Listener) record(jec *domain.JobExecutionContext, status string) *domain.ExecutionRecord {
	return &domain.ExecutionRecord{
		ID:             uuid.NewString(),
		JobGroup:       jec.JobDetail.Key.Group,
		JobName:        jec.JobDetail.Key.Name,
		TriggerGroup:   jec.Trigger.Key().Group,
		TriggerName:    jec.Trigger.Key().Name,
		FireInstanceID: jec.FireInstanceID,
		Status:         status,
		ScheduledAt:    jec.ScheduledFireTime,
		FiredAt:        jec.FireTime,
	}
}

func (l *Listener) insert(rec *domain.ExecutionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := l.recorder.RecordFired(ctx, rec); err != nil {
		l.log.Error("failed to record execution",
			logger.String("job", rec.JobGroup+"."+rec.JobName),
			logger.String("status", rec.Status), logger.Error(err))
	}
}
