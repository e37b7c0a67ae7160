package store_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/goquartz/internal/calendar"
	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/store"
	"github.com/jonesrussell/goquartz/internal/trigger"
)

// recordingSignaler captures the events the store emits.
type recordingSignaler struct {
	mu        sync.Mutex
	signals   int
	misfired  []domain.TriggerKey
	finalized []domain.TriggerKey
	deleted   []domain.JobKey
}

func (r *recordingSignaler) SignalSchedulingChange(*time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals++
}

func (r *recordingSignaler) NotifyTriggerListenersMisfired(t domain.Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misfired = append(r.misfired, t.Key())
}

func (r *recordingSignaler) NotifySchedulerListenersFinalized(t domain.Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized = append(r.finalized, t.Key())
}

func (r *recordingSignaler) NotifySchedulerListenersJobDeleted(key domain.JobKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, key)
}

var baseTime = time.Date(2025, time.June, 16, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*store.RAMJobStore, *recordingSignaler) {
	t.Helper()
	s := store.New(nil)
	sig := &recordingSignaler{}
	s.SetSignaler(sig)
	s.SetClock(func() time.Time { return baseTime })
	return s, sig
}

func jobDetail(name string) *domain.JobDetail {
	return &domain.JobDetail{
		Key:     domain.NewJobKey(name),
		Type:    "log",
		JobData: domain.JobDataMap{},
	}
}

func simpleTrigger(name, jobName string, start time.Time) *trigger.SimpleTrigger {
	tr := trigger.NewSimple(domain.NewTriggerKey(name), domain.NewJobKey(jobName)).
		WithStartTime(start)
	tr.ComputeFirstFireTime(nil)
	return tr
}

func repeatingTrigger(name, jobName string, start time.Time, count int, interval time.Duration) *trigger.SimpleTrigger {
	tr := trigger.NewSimple(domain.NewTriggerKey(name), domain.NewJobKey(jobName)).
		WithStartTime(start).
		WithRepeatCount(count).
		WithRepeatInterval(interval)
	tr.ComputeFirstFireTime(nil)
	return tr
}

func storeJobAndTrigger(t *testing.T, s *store.RAMJobStore, detail *domain.JobDetail, tr domain.OperableTrigger) {
	t.Helper()
	require.NoError(t, s.StoreJob(detail, false))
	require.NoError(t, s.StoreTrigger(tr, false))
}

func TestStoreJob_DuplicateRequiresReplace(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.StoreJob(jobDetail("j"), false))
	err := s.StoreJob(jobDetail("j"), false)
	assert.ErrorIs(t, err, domain.ErrObjectAlreadyExists)
	assert.NoError(t, s.StoreJob(jobDetail("j"), true))
	assert.Equal(t, 1, s.GetNumberOfJobs())
}

func TestStoreTrigger_RequiresJobAndCalendar(t *testing.T) {
	s, _ := newTestStore(t)

	tr := simpleTrigger("t", "missing", baseTime)
	assert.ErrorIs(t, s.StoreTrigger(tr, false), domain.ErrJobNotFound)

	require.NoError(t, s.StoreJob(jobDetail("j"), false))
	withCal := simpleTrigger("t", "j", baseTime).WithCalendarName("nope")
	assert.ErrorIs(t, s.StoreTrigger(withCal, false), domain.ErrCalendarNotFound)
}

func TestRetrieve_ReturnsClones(t *testing.T) {
	s, _ := newTestStore(t)
	detail := jobDetail("j")
	detail.JobData.Put("n", 1)
	storeJobAndTrigger(t, s, detail, simpleTrigger("t", "j", baseTime))

	got := s.RetrieveJob(domain.NewJobKey("j"))
	require.NotNil(t, got)
	got.JobData.Put("n", 2)

	again := s.RetrieveJob(domain.NewJobKey("j"))
	assert.Equal(t, 1, again.JobData.GetInt("n"))

	trig := s.RetrieveTrigger(domain.NewTriggerKey("t"))
	require.NotNil(t, trig)
	trig.SetNextFireTime(nil)
	assert.NotNil(t, s.RetrieveTrigger(domain.NewTriggerKey("t")).NextFireTime())
}

func TestRemoveTrigger_RemovesOrphanedNonDurableJob(t *testing.T) {
	s, sig := newTestStore(t)
	storeJobAndTrigger(t, s, jobDetail("j"), simpleTrigger("t", "j", baseTime))

	assert.True(t, s.RemoveTrigger(domain.NewTriggerKey("t")))
	assert.False(t, s.CheckJobExists(domain.NewJobKey("j")))
	assert.Equal(t, []domain.JobKey{domain.NewJobKey("j")}, sig.deleted)
}

func TestRemoveTrigger_KeepsDurableJob(t *testing.T) {
	s, sig := newTestStore(t)
	detail := jobDetail("j")
	detail.Durable = true
	storeJobAndTrigger(t, s, detail, simpleTrigger("t", "j", baseTime))

	assert.True(t, s.RemoveTrigger(domain.NewTriggerKey("t")))
	assert.True(t, s.CheckJobExists(domain.NewJobKey("j")))
	assert.Empty(t, sig.deleted)
}

func TestRemoveJob_RemovesItsTriggers(t *testing.T) {
	s, _ := newTestStore(t)
	storeJobAndTrigger(t, s, jobDetail("j"), simpleTrigger("t1", "j", baseTime))
	require.NoError(t, s.StoreTrigger(simpleTrigger("t2", "j", baseTime.Add(time.Hour)), false))

	assert.True(t, s.RemoveJob(domain.NewJobKey("j")))
	assert.Equal(t, 0, s.GetNumberOfTriggers())
	assert.False(t, s.RemoveJob(domain.NewJobKey("j")))
}

func TestRemoveJob_NonDurableJobWithTriggers(t *testing.T) {
	s, sig := newTestStore(t)
	storeJobAndTrigger(t, s, jobDetail("j"), simpleTrigger("t", "j", baseTime.Add(time.Hour)))

	assert.True(t, s.RemoveJob(domain.NewJobKey("j")))
	assert.False(t, s.CheckJobExists(domain.NewJobKey("j")))
	assert.Equal(t, 0, s.GetNumberOfTriggers())
	// the caller announces the deletion, so no store-level notification
	assert.Empty(t, sig.deleted)
}

func TestReplaceTrigger_RejectsDifferentJob(t *testing.T) {
	s, _ := newTestStore(t)
	storeJobAndTrigger(t, s, jobDetail("j"), simpleTrigger("t", "j", baseTime))
	require.NoError(t, s.StoreJob(jobDetail("other"), false))

	_, err := s.ReplaceTrigger(domain.NewTriggerKey("t"), simpleTrigger("t", "other", baseTime))
	assert.ErrorIs(t, err, domain.ErrInvalidTrigger)

	replaced, err := s.ReplaceTrigger(domain.NewTriggerKey("t"), simpleTrigger("t", "j", baseTime.Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, replaced)
}

func TestRemoveCalendar_InUse(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.StoreCalendar("weekends", calendar.NewWeekly(), false, false))
	require.NoError(t, s.StoreJob(jobDetail("j"), false))

	tr := simpleTrigger("t", "j", baseTime).WithCalendarName("weekends")
	require.NoError(t, s.StoreTrigger(tr, false))

	assert.ErrorIs(t, s.RemoveCalendar("weekends"), domain.ErrCalendarInUse)

	require.True(t, s.RemoveTrigger(domain.NewTriggerKey("t")))
	assert.NoError(t, s.RemoveCalendar("weekends"))
	assert.ErrorIs(t, s.RemoveCalendar("weekends"), domain.ErrCalendarNotFound)
}

func TestAcquireNextTriggers_OrderAndWindow(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.StoreJob(jobDetail("j"), false))

	early := simpleTrigger("early", "j", baseTime.Add(10*time.Millisecond))
	late := simpleTrigger("late", "j", baseTime.Add(20*time.Millisecond))
	farOut := simpleTrigger("far", "j", baseTime.Add(time.Hour))
	require.NoError(t, s.StoreTrigger(late, false))
	require.NoError(t, s.StoreTrigger(early, false))
	require.NoError(t, s.StoreTrigger(farOut, false))

	acquired := s.AcquireNextTriggers(baseTime.Add(30*time.Millisecond), 10, 50*time.Millisecond)
	require.Len(t, acquired, 2)
	assert.Equal(t, "early", acquired[0].Key().Name)
	assert.Equal(t, "late", acquired[1].Key().Name)
	assert.NotEmpty(t, acquired[0].FireInstanceID())
	assert.NotEqual(t, acquired[0].FireInstanceID(), acquired[1].FireInstanceID())

	// acquired triggers are out of the index until released
	assert.Empty(t, s.AcquireNextTriggers(baseTime.Add(30*time.Millisecond), 10, 50*time.Millisecond))

	s.ReleaseAcquiredTrigger(acquired[0])
	again := s.AcquireNextTriggers(baseTime.Add(30*time.Millisecond), 10, 50*time.Millisecond)
	require.Len(t, again, 1)
	assert.Equal(t, "early", again[0].Key().Name)
}

func TestAcquireNextTriggers_PriorityBreaksTies(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.StoreJob(jobDetail("j"), false))

	at := baseTime.Add(10 * time.Millisecond)
	low := simpleTrigger("low", "j", at).WithPriority(1)
	high := simpleTrigger("high", "j", at).WithPriority(9)
	require.NoError(t, s.StoreTrigger(low, false))
	require.NoError(t, s.StoreTrigger(high, false))

	acquired := s.AcquireNextTriggers(baseTime.Add(time.Second), 1, 0)
	require.Len(t, acquired, 1)
	assert.Equal(t, "high", acquired[0].Key().Name)
}

func TestAcquireNextTriggers_DedupesNonConcurrentJob(t *testing.T) {
	s, _ := newTestStore(t)
	detail := jobDetail("serial")
	detail.ConcurrentExecutionDisallowed = true
	require.NoError(t, s.StoreJob(detail, false))

	at := baseTime.Add(10 * time.Millisecond)
	require.NoError(t, s.StoreTrigger(simpleTrigger("a", "serial", at), false))
	require.NoError(t, s.StoreTrigger(simpleTrigger("b", "serial", at), false))

	acquired := s.AcquireNextTriggers(baseTime.Add(time.Second), 10, time.Second)
	require.Len(t, acquired, 1)

	// the skipped trigger is still acquirable afterwards
	rest := s.AcquireNextTriggers(baseTime.Add(time.Second), 10, time.Second)
	require.Len(t, rest, 1)
	assert.NotEqual(t, acquired[0].Key(), rest[0].Key())
}

func TestAcquireNextTriggers_AppliesMisfire(t *testing.T) {
	s, sig := newTestStore(t)
	require.NoError(t, s.StoreJob(jobDetail("j"), false))

	// due one minute ago, far past the default 5s threshold
	overdue := repeatingTrigger("t", "j", baseTime.Add(-time.Minute), trigger.RepeatIndefinitely, time.Second).
		WithMisfireInstruction(trigger.MisfireInstructionRescheduleNextWithExistingCount).
		WithClock(func() time.Time { return baseTime })
	require.NoError(t, s.StoreTrigger(overdue, false))

	acquired := s.AcquireNextTriggers(baseTime, 10, time.Second)
	require.Len(t, acquired, 1)
	assert.Equal(t, []domain.TriggerKey{domain.NewTriggerKey("t")}, sig.misfired)
	assert.False(t, acquired[0].NextFireTime().Before(baseTime))
}

func TestAcquireNextTriggers_MisfireIgnorePolicy(t *testing.T) {
	s, sig := newTestStore(t)
	require.NoError(t, s.StoreJob(jobDetail("j"), false))

	overdue := simpleTrigger("t", "j", baseTime.Add(-time.Minute)).
		WithMisfireInstruction(domain.MisfireInstructionIgnorePolicy)
	require.NoError(t, s.StoreTrigger(overdue, false))

	acquired := s.AcquireNextTriggers(baseTime, 10, time.Second)
	require.Len(t, acquired, 1)
	assert.Empty(t, sig.misfired)
	assert.Equal(t, baseTime.Add(-time.Minute), *acquired[0].NextFireTime())
}

func TestAcquireNextTriggers_MisfireExhaustsSingleShot(t *testing.T) {
	s, sig := newTestStore(t)
	require.NoError(t, s.StoreJob(jobDetail("j"), false))

	// do-nothing policy on an exhausted one-shot cron produces no next time
	tr, err := trigger.NewCron(domain.NewTriggerKey("t"), domain.NewJobKey("j"), "0 0 0 1 1 ? 2024")
	require.NoError(t, err)
	tr.WithStartTime(baseTime.Add(-2 * 365 * 24 * time.Hour)).
		WithMisfireInstruction(trigger.MisfireInstructionDoNothing).
		WithClock(func() time.Time { return baseTime })
	tr.ComputeFirstFireTime(nil)
	require.NotNil(t, tr.NextFireTime())
	require.NoError(t, s.StoreTrigger(tr, false))

	acquired := s.AcquireNextTriggers(baseTime, 10, time.Second)
	assert.Empty(t, acquired)
	assert.Equal(t, []domain.TriggerKey{domain.NewTriggerKey("t")}, sig.finalized)
	assert.Equal(t, domain.TriggerStateComplete, s.GetTriggerState(domain.NewTriggerKey("t")))
}

func TestTriggersFired_AdvancesScheduleAndBuildsBundle(t *testing.T) {
	s, _ := newTestStore(t)
	detail := jobDetail("j")
	detail.JobData.Put("payload", "x")
	require.NoError(t, s.StoreJob(detail, false))

	start := baseTime.Add(10 * time.Millisecond)
	require.NoError(t, s.StoreTrigger(repeatingTrigger("t", "j", start, 3, time.Minute), false))

	acquired := s.AcquireNextTriggers(baseTime.Add(time.Second), 1, time.Second)
	require.Len(t, acquired, 1)

	bundles := s.TriggersFired(acquired)
	require.Len(t, bundles, 1)
	bundle := bundles[0]
	require.NotNil(t, bundle)

	assert.Equal(t, domain.NewJobKey("j"), bundle.JobDetail.Key)
	require.NotNil(t, bundle.ScheduledFireTime)
	assert.Equal(t, start, *bundle.ScheduledFireTime)
	assert.Nil(t, bundle.PreviousFireTime)
	require.NotNil(t, bundle.NextFireTime)
	assert.Equal(t, start.Add(time.Minute), *bundle.NextFireTime)

	// the trigger is back in contention for its next slot
	state := s.GetTriggerState(domain.NewTriggerKey("t"))
	assert.Equal(t, domain.TriggerStateNormal, state)
}

func TestTriggersFired_NilBundleForStaleTrigger(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.StoreJob(jobDetail("j"), false))
	require.NoError(t, s.StoreTrigger(simpleTrigger("t", "j", baseTime.Add(10*time.Millisecond)), false))

	acquired := s.AcquireNextTriggers(baseTime.Add(time.Second), 1, time.Second)
	require.Len(t, acquired, 1)

	// the trigger is replaced between acquire and fire; the stale copy in
	// the batch must not produce a bundle
	replaced, err := s.ReplaceTrigger(domain.NewTriggerKey("t"), simpleTrigger("t2", "j", baseTime.Add(time.Hour)))
	require.NoError(t, err)
	require.True(t, replaced)

	bundles := s.TriggersFired(acquired)
	require.Len(t, bundles, 1)
	assert.Nil(t, bundles[0])
}

func TestTriggersFired_ReleaseAfterNilBundleLeavesTriggerWaiting(t *testing.T) {
	s, _ := newTestStore(t)
	storeJobAndTrigger(t, s, jobDetail("j"), simpleTrigger("t", "j", baseTime.Add(10*time.Millisecond)))

	acquired := s.AcquireNextTriggers(baseTime.Add(time.Second), 1, time.Second)
	require.Len(t, acquired, 1)

	// a schedule change releases the trigger before the batch fires
	s.ReleaseAcquiredTrigger(acquired[0])

	bundles := s.TriggersFired(acquired)
	require.Len(t, bundles, 1)
	assert.Nil(t, bundles[0])

	// the loop releases every trigger that produced no bundle; on one
	// already back to waiting this must not disturb it
	s.ReleaseAcquiredTrigger(acquired[0])
	assert.Equal(t, domain.TriggerStateNormal, s.GetTriggerState(domain.NewTriggerKey("t")))

	again := s.AcquireNextTriggers(baseTime.Add(time.Second), 1, time.Second)
	require.Len(t, again, 1)
	assert.Equal(t, domain.NewTriggerKey("t"), again[0].Key())
}

func TestTriggeredJobComplete_FinalizesExhaustedTrigger(t *testing.T) {
	s, sig := newTestStore(t)
	storeJobAndTrigger(t, s, jobDetail("j"), simpleTrigger("t", "j", baseTime.Add(10*time.Millisecond)))

	acquired := s.AcquireNextTriggers(baseTime.Add(time.Second), 1, time.Second)
	require.Len(t, acquired, 1)
	bundles := s.TriggersFired(acquired)
	require.NotNil(t, bundles[0])

	s.TriggeredJobComplete(bundles[0].Trigger, bundles[0].JobDetail, domain.InstructionNoop)

	assert.Equal(t, domain.TriggerStateComplete, s.GetTriggerState(domain.NewTriggerKey("t")))
	assert.Equal(t, []domain.TriggerKey{domain.NewTriggerKey("t")}, sig.finalized)
}

func TestTriggeredJobComplete_ReExecuteInstruction(t *testing.T) {
	s, sig := newTestStore(t)
	storeJobAndTrigger(t, s, jobDetail("j"),
		repeatingTrigger("t", "j", baseTime.Add(10*time.Millisecond), 2, time.Minute))

	acquired := s.AcquireNextTriggers(baseTime.Add(time.Second), 1, time.Second)
	require.Len(t, acquired, 1)
	bundles := s.TriggersFired(acquired)
	require.NotNil(t, bundles[0])

	// re-execution is the run shell's concern; the trigger keeps its
	// remaining schedule
	s.TriggeredJobComplete(bundles[0].Trigger, bundles[0].JobDetail, domain.InstructionReExecuteJob)
	assert.Equal(t, domain.TriggerStateNormal, s.GetTriggerState(domain.NewTriggerKey("t")))
	assert.Empty(t, sig.finalized)

	// an exhausted one-shot is finalized exactly as with no instruction
	s2, sig2 := newTestStore(t)
	storeJobAndTrigger(t, s2, jobDetail("j"), simpleTrigger("t", "j", baseTime.Add(10*time.Millisecond)))
	acquired = s2.AcquireNextTriggers(baseTime.Add(time.Second), 1, time.Second)
	bundles = s2.TriggersFired(acquired)
	require.NotNil(t, bundles[0])
	s2.TriggeredJobComplete(bundles[0].Trigger, bundles[0].JobDetail, domain.InstructionReExecuteJob)
	assert.Equal(t, domain.TriggerStateComplete, s2.GetTriggerState(domain.NewTriggerKey("t")))
	assert.Equal(t, []domain.TriggerKey{domain.NewTriggerKey("t")}, sig2.finalized)
}

func TestTriggeredJobComplete_BlockAndUnblock(t *testing.T) {
	s, sig := newTestStore(t)
	detail := jobDetail("serial")
	detail.ConcurrentExecutionDisallowed = true
	require.NoError(t, s.StoreJob(detail, false))

	at := baseTime.Add(10 * time.Millisecond)
	require.NoError(t, s.StoreTrigger(repeatingTrigger("a", "serial", at, 1, time.Hour), false))
	require.NoError(t, s.StoreTrigger(repeatingTrigger("b", "serial", at, 1, time.Hour), false))

	acquired := s.AcquireNextTriggers(baseTime.Add(time.Second), 10, time.Second)
	require.Len(t, acquired, 1)
	bundles := s.TriggersFired(acquired)
	require.NotNil(t, bundles[0])

	// the other trigger of the job is blocked while the job runs
	other := domain.NewTriggerKey("b")
	if acquired[0].Key() == other {
		other = domain.NewTriggerKey("a")
	}
	assert.Equal(t, domain.TriggerStateBlocked, s.GetTriggerState(other))
	assert.Empty(t, s.AcquireNextTriggers(baseTime.Add(time.Second), 10, time.Second))

	s.TriggeredJobComplete(bundles[0].Trigger, bundles[0].JobDetail, domain.InstructionNoop)

	assert.Equal(t, domain.TriggerStateNormal, s.GetTriggerState(other))
	assert.Greater(t, sig.signals, 0)

	next := s.AcquireNextTriggers(baseTime.Add(time.Second), 10, time.Second)
	require.Len(t, next, 1)
	assert.Equal(t, other, next[0].Key())
}

func TestTriggeredJobComplete_PersistsJobData(t *testing.T) {
	s, _ := newTestStore(t)
	detail := jobDetail("j")
	detail.PersistJobDataAfterExecution = true
	detail.JobData.Put("count", 0)
	storeJobAndTrigger(t, s, detail, simpleTrigger("t", "j", baseTime.Add(10*time.Millisecond)))

	acquired := s.AcquireNextTriggers(baseTime.Add(time.Second), 1, time.Second)
	bundles := s.TriggersFired(acquired)
	require.NotNil(t, bundles[0])

	bundles[0].JobDetail.JobData.Put("count", 7)
	s.TriggeredJobComplete(bundles[0].Trigger, bundles[0].JobDetail, domain.InstructionNoop)

	stored := s.RetrieveJob(domain.NewJobKey("j"))
	require.NotNil(t, stored)
	assert.Equal(t, 7, stored.JobData.GetInt("count"))
}

func TestTriggeredJobComplete_DeleteTriggerSkippedAfterReschedule(t *testing.T) {
	s, _ := newTestStore(t)
	detail := jobDetail("j")
	detail.Durable = true
	storeJobAndTrigger(t, s, detail, simpleTrigger("t", "j", baseTime.Add(10*time.Millisecond)))

	acquired := s.AcquireNextTriggers(baseTime.Add(time.Second), 1, time.Second)
	bundles := s.TriggersFired(acquired)
	require.NotNil(t, bundles[0])

	// a reschedule during execution gives the stored trigger a future fire
	// time the executing copy does not know about
	replaced, err := s.ReplaceTrigger(domain.NewTriggerKey("t"),
		repeatingTrigger("t", "j", baseTime.Add(time.Hour), 1, time.Hour))
	require.NoError(t, err)
	require.True(t, replaced)

	s.TriggeredJobComplete(bundles[0].Trigger, bundles[0].JobDetail, domain.InstructionDeleteTrigger)
	assert.True(t, s.CheckTriggerExists(domain.NewTriggerKey("t")))

	// without a reschedule the delete goes through
	s2, _ := newTestStore(t)
	storeJobAndTrigger(t, s2, jobDetail("j"), simpleTrigger("t", "j", baseTime.Add(10*time.Millisecond)))
	acquired = s2.AcquireNextTriggers(baseTime.Add(time.Second), 1, time.Second)
	bundles = s2.TriggersFired(acquired)
	s2.TriggeredJobComplete(bundles[0].Trigger, bundles[0].JobDetail, domain.InstructionDeleteTrigger)
	assert.False(t, s2.CheckTriggerExists(domain.NewTriggerKey("t")))
}

func TestTriggeredJobComplete_SetTriggerError(t *testing.T) {
	s, _ := newTestStore(t)
	storeJobAndTrigger(t, s, jobDetail("j"), repeatingTrigger("t", "j", baseTime.Add(10*time.Millisecond), 5, time.Minute))

	acquired := s.AcquireNextTriggers(baseTime.Add(time.Second), 1, time.Second)
	bundles := s.TriggersFired(acquired)
	require.NotNil(t, bundles[0])

	s.TriggeredJobComplete(bundles[0].Trigger, bundles[0].JobDetail, domain.InstructionSetTriggerError)
	assert.Equal(t, domain.TriggerStateError, s.GetTriggerState(domain.NewTriggerKey("t")))
	assert.Empty(t, s.AcquireNextTriggers(baseTime.Add(time.Hour), 10, time.Hour))
}

func TestPauseTriggers_RegistersGroupForFutureTriggers(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.StoreJob(jobDetail("j"), false))

	paused := s.PauseTriggers(domain.GroupEquals("G"))
	assert.Equal(t, []string{"G"}, paused)
	assert.Equal(t, []string{"G"}, s.GetPausedTriggerGroups())

	tr := trigger.NewSimple(domain.NewTriggerKeyWithGroup("G", "t"), domain.NewJobKey("j")).
		WithStartTime(baseTime.Add(10 * time.Millisecond))
	tr.ComputeFirstFireTime(nil)
	require.NoError(t, s.StoreTrigger(tr, false))

	assert.Equal(t, domain.TriggerStatePaused, s.GetTriggerState(domain.NewTriggerKeyWithGroup("G", "t")))
	assert.Empty(t, s.AcquireNextTriggers(baseTime.Add(time.Second), 10, time.Second))
}

func TestPauseResumeTrigger_MissedFireMisfires(t *testing.T) {
	s, sig := newTestStore(t)
	require.NoError(t, s.StoreJob(jobDetail("j"), false))

	tr := repeatingTrigger("t", "j", baseTime.Add(10*time.Millisecond), trigger.RepeatIndefinitely, 10*time.Millisecond).
		WithClock(func() time.Time { return baseTime.Add(time.Minute) })
	require.NoError(t, s.StoreTrigger(tr, false))

	s.PauseTrigger(domain.NewTriggerKey("t"))
	assert.Equal(t, domain.TriggerStatePaused, s.GetTriggerState(domain.NewTriggerKey("t")))

	// the clock moves past many fire times while paused
	s.SetClock(func() time.Time { return baseTime.Add(time.Minute) })
	s.ResumeTrigger(domain.NewTriggerKey("t"))

	assert.Len(t, sig.misfired, 1)
	assert.Equal(t, domain.TriggerStateNormal, s.GetTriggerState(domain.NewTriggerKey("t")))

	got := s.RetrieveTrigger(domain.NewTriggerKey("t"))
	require.NotNil(t, got.NextFireTime())
	assert.False(t, got.NextFireTime().Before(baseTime.Add(time.Minute).Add(-store.DefaultMisfireThreshold)))
}

func TestPauseAllResumeAll_RestoresContention(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.StoreJob(jobDetail("j"), false))

	at := baseTime.Add(time.Hour)
	require.NoError(t, s.StoreTrigger(simpleTrigger("t1", "j", at), false))
	require.NoError(t, s.StoreTrigger(simpleTrigger("t2", "j", at.Add(time.Minute)), false))

	s.PauseAll()
	assert.Equal(t, domain.TriggerStatePaused, s.GetTriggerState(domain.NewTriggerKey("t1")))
	assert.Equal(t, domain.TriggerStatePaused, s.GetTriggerState(domain.NewTriggerKey("t2")))

	s.ResumeAll()
	assert.Equal(t, domain.TriggerStateNormal, s.GetTriggerState(domain.NewTriggerKey("t1")))
	assert.Equal(t, domain.TriggerStateNormal, s.GetTriggerState(domain.NewTriggerKey("t2")))
	assert.Empty(t, s.GetPausedTriggerGroups())

	acquired := s.AcquireNextTriggers(at.Add(time.Hour), 10, 2*time.Hour)
	assert.Len(t, acquired, 2)
}

func TestGroupQueries(t *testing.T) {
	s, _ := newTestStore(t)

	a := jobDetail("a")
	a.Key = domain.NewJobKeyWithGroup("batch", "a")
	b := jobDetail("b")
	b.Key = domain.NewJobKeyWithGroup("interactive", "b")
	require.NoError(t, s.StoreJob(a, false))
	require.NoError(t, s.StoreJob(b, false))

	assert.Equal(t, []string{"batch", "interactive"}, s.GetJobGroupNames())

	keys := s.GetJobKeys(domain.GroupStartsWith("bat"))
	require.Len(t, keys, 1)
	assert.Equal(t, a.Key, keys[0])

	assert.Len(t, s.GetJobKeys(domain.AnyGroup()), 2)
}

func TestClearAll(t *testing.T) {
	s, _ := newTestStore(t)
	storeJobAndTrigger(t, s, jobDetail("j"), simpleTrigger("t", "j", baseTime))
	require.NoError(t, s.StoreCalendar("cal", calendar.NewBase(), false, false))
	s.PauseTriggers(domain.GroupEquals("G"))

	s.ClearAll()
	assert.Equal(t, 0, s.GetNumberOfJobs())
	assert.Equal(t, 0, s.GetNumberOfTriggers())
	assert.Equal(t, 0, s.GetNumberOfCalendars())
	assert.Empty(t, s.GetPausedTriggerGroups())
}
