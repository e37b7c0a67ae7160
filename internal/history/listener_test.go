package history_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/history"
	"github.com/jonesrussell/goquartz/internal/trigger"
)

type stubRecorder struct {
	mu       sync.Mutex
	fired    []*domain.ExecutionRecord
	outcomes []outcome
	failWith error
}

type outcome struct {
	fireInstanceID string
	status         string
	durationMs     int64
	errorMessage   *string
}

func (s *stubRecorder) RecordFired(_ context.Context, rec *domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.fired = append(s.fired, rec)
	return nil
}

func (s *stubRecorder) RecordOutcome(_ context.Context, fireInstanceID, status string, _ time.Time, durationMs int64, errorMessage *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.outcomes = append(s.outcomes, outcome{fireInstanceID, status, durationMs, errorMessage})
	return nil
}

func executionContext() *domain.JobExecutionContext {
	fireTime := time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)
	return &domain.JobExecutionContext{
		JobDetail:         &domain.JobDetail{Key: domain.NewJobKeyWithGroup("etl", "nightly"), Type: "t"},
		Trigger:           trigger.NewSimple(domain.NewTriggerKeyWithGroup("etl", "nightly"), domain.NewJobKeyWithGroup("etl", "nightly")),
		FireTime:          fireTime,
		ScheduledFireTime: &fireTime,
		FireInstanceID:    "fire-1",
	}
}

func TestListener_RecordsFiredAndOutcome(t *testing.T) {
	rec := &stubRecorder{}
	l := history.NewListener(rec, nil)
	jec := executionContext()

	l.JobToBeExecuted(jec)
	require.Len(t, rec.fired, 1)
	row := rec.fired[0]
	assert.NotEmpty(t, row.ID)
	assert.Equal(t, "etl", row.JobGroup)
	assert.Equal(t, "nightly", row.JobName)
	assert.Equal(t, "fire-1", row.FireInstanceID)
	assert.Equal(t, domain.ExecutionStatusFired, row.Status)
	assert.Equal(t, jec.FireTime, row.FiredAt)

	l.JobWasExecuted(jec, nil)
	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, "fire-1", rec.outcomes[0].fireInstanceID)
	assert.Equal(t, domain.ExecutionStatusCompleted, rec.outcomes[0].status)
	assert.Nil(t, rec.outcomes[0].errorMessage)
}

func TestListener_RecordsFailure(t *testing.T) {
	rec := &stubRecorder{}
	l := history.NewListener(rec, nil)
	jec := executionContext()

	l.JobWasExecuted(jec, assert.AnError)
	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, domain.ExecutionStatusFailed, rec.outcomes[0].status)
	require.NotNil(t, rec.outcomes[0].errorMessage)
	assert.Equal(t, assert.AnError.Error(), *rec.outcomes[0].errorMessage)
}

func TestListener_RecordsVeto(t *testing.T) {
	rec := &stubRecorder{}
	l := history.NewListener(rec, nil)

	l.JobExecutionVetoed(executionContext())
	require.Len(t, rec.fired, 1)
	assert.Equal(t, domain.ExecutionStatusVetoed, rec.fired[0].Status)
}

func TestListener_RecordsMisfire(t *testing.T) {
	rec := &stubRecorder{}
	l := history.NewListener(rec, nil)

	trig := trigger.NewSimple(domain.NewTriggerKeyWithGroup("etl", "nightly"), domain.NewJobKeyWithGroup("etl", "nightly"))
	l.TriggerMisfired(trig)

	require.Len(t, rec.fired, 1)
	row := rec.fired[0]
	assert.Equal(t, domain.ExecutionStatusMisfired, row.Status)
	assert.Empty(t, row.FireInstanceID)
	assert.Equal(t, "etl", row.TriggerGroup)
}

func TestListener_SwallowsRecorderErrors(t *testing.T) {
	rec := &stubRecorder{failWith: assert.AnError}
	l := history.NewListener(rec, nil)

	assert.NotPanics(t, func() {
		l.JobToBeExecuted(executionContext())
		l.JobWasExecuted(executionContext(), nil)
		l.TriggerMisfired(trigger.NewSimple(domain.NewTriggerKey("k"), domain.NewJobKey("j")))
	})
}
