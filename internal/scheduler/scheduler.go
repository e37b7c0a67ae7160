// Package scheduler drives trigger firing: it owns the scheduling loop,
// the listener fan-out, and the public facade over the job store and the
// worker pool.
package scheduler

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/logger"
	"github.com/jonesrussell/goquartz/internal/store"
	"github.com/jonesrussell/goquartz/internal/trigger"
	"github.com/jonesrussell/goquartz/internal/worker"
)

// ManualTriggerGroup is the trigger group used by TriggerJob fires.
const ManualTriggerGroup = "MANUAL_TRIGGER"

var (
	// ErrTriggerNeverFires is returned when a scheduled trigger's first
	// fire time cannot be computed.
	ErrTriggerNeverFires = errors.New("trigger will never fire")

	// ErrJobNotDurable is returned by AddJob for a non-durable job with no
	// trigger.
	ErrJobNotDurable = errors.New("job is not durable and has no trigger")

	// ErrSchedulerNotStarted is returned when the scheduler was never
	// started.
	ErrSchedulerNotStarted = errors.New("scheduler is not started")
)

// State represents the scheduler lifecycle state.
type State int32

const (
	// StateCreated means the scheduler has not been started yet.
	StateCreated State = iota

	// StateStarted means the scheduling loop is running.
	StateStarted

	// StateStandby means the loop is idle and no triggers fire.
	StateStandby

	// StateShutdown means the scheduler has stopped permanently.
	StateShutdown
)

// String returns the string representation of a scheduler state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStandby:
		return "standby"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Scheduler fires triggers from the job store on the worker pool. All
// methods are safe for concurrent use.
type Scheduler struct {
	config     Config
	store      *store.RAMJobStore
	pool       *worker.Pool
	factory    JobFactory
	listeners  *listenerManager
	log        logger.Logger
	instanceID string

	state atomic.Int32
	clock func() time.Time

	// context is the scheduler-wide data map merged into every execution.
	ctxMu   sync.RWMutex
	context domain.JobDataMap

	// sigChan wakes the loop; sigMu guards the earliest candidate time a
	// schedule change introduced.
	sigChan     chan struct{}
	sigMu       sync.Mutex
	sigTime     *time.Time
	sigReceived bool

	halt     chan struct{}
	loopDone chan struct{}

	execMu    sync.Mutex
	executing map[string]*domain.JobExecutionContext
}

// New creates a scheduler over the given store, pool, and job factory.
func New(cfg Config, st *store.RAMJobStore, pool *worker.Pool, factory JobFactory, log logger.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	if factory == nil {
		factory = NewSimpleJobFactory()
	}

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	s := &Scheduler{
		config:     cfg,
		store:      st,
		pool:       pool,
		factory:    factory,
		listeners:  newListenerManager(log),
		log:        log.With(logger.String("component", "scheduler")),
		instanceID: host + strconv.FormatInt(time.Now().UnixMilli(), 10),
		clock:      time.Now,
		context:    domain.NewJobDataMap(),
		sigChan:    make(chan struct{}, 1),
		halt:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		executing:  make(map[string]*domain.JobExecutionContext),
	}
	s.state.Store(int32(StateCreated))
	st.SetSignaler(s)
	st.SetMisfireThreshold(cfg.MisfireThreshold)
	return s, nil
}

// InstanceID returns the unique identifier of this scheduler instance.
func (s *Scheduler) InstanceID() string { return s.instanceID }

// InstanceName returns the configured scheduler name.
func (s *Scheduler) InstanceName() string { return s.config.InstanceName }

// State returns the current lifecycle state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// IsStarted reports whether Start has been called and Shutdown has not.
func (s *Scheduler) IsStarted() bool {
	st := s.State()
	return st == StateStarted || st == StateStandby
}

// InStandby reports whether the loop is idling in standby mode.
func (s *Scheduler) InStandby() bool { return s.State() == StateStandby }

// IsShutdown reports whether the scheduler has been shut down.
func (s *Scheduler) IsShutdown() bool { return s.State() == StateShutdown }

// SetClock overrides the time source. Test hook.
func (s *Scheduler) SetClock(now func() time.Time) {
	if now != nil {
		s.clock = now
	}
}

// Start begins firing triggers. Starting a scheduler in standby resumes
// it; starting a started scheduler is a no-op.
func (s *Scheduler) Start() error {
	switch {
	case s.state.CompareAndSwap(int32(StateCreated), int32(StateStarted)):
		if err := s.pool.Start(); err != nil && !errors.Is(err, worker.ErrPoolNotStopped) {
			s.state.Store(int32(StateCreated))
			return fmt.Errorf("start worker pool: %w", err)
		}
		go s.run()
		s.log.Info("scheduler started",
			logger.String("instance_id", s.instanceID),
			logger.Int("pool_size", s.pool.Size()))
		s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.SchedulerStarted() })
		return nil
	case s.state.CompareAndSwap(int32(StateStandby), int32(StateStarted)):
		s.signalSchedulingChange(nil)
		s.log.Info("scheduler resumed from standby")
		s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.SchedulerStarted() })
		return nil
	case s.State() == StateShutdown:
		return domain.ErrSchedulerShutdown
	default:
		return nil
	}
}

// Standby stops firing triggers without releasing resources. Jobs already
// executing run to completion.
func (s *Scheduler) Standby() {
	if s.state.CompareAndSwap(int32(StateStarted), int32(StateStandby)) {
		s.log.Info("scheduler placed in standby")
		s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.SchedulerInStandbyMode() })
	}
}

// Shutdown stops the scheduler permanently. With wait set it blocks until
// in-flight jobs finish, bounded by the pool drain timeout.
func (s *Scheduler) Shutdown(wait bool) {
	prev := State(s.state.Swap(int32(StateShutdown)))
	if prev == StateShutdown {
		return
	}
	s.log.Info("scheduler shutting down", logger.Bool("wait", wait))
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.SchedulerShuttingDown() })

	// Draining the pool first wakes a loop blocked on a free slot.
	close(s.halt)
	s.pool.Shutdown(wait)
	if prev != StateCreated {
		<-s.loopDone
	}

	s.log.Info("scheduler shut down")
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.SchedulerShutdown() })
}

// Context returns the scheduler-wide data map. Entries are merged into
// every execution's data map, lowest precedence.
func (s *Scheduler) Context() domain.JobDataMap {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.context
}

// PutContext stores a value in the scheduler context.
func (s *Scheduler) PutContext(key string, value any) {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	s.context.Put(key, value)
}

func (s *Scheduler) contextSnapshot() domain.JobDataMap {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.context.Clone()
}

// ScheduleJob stores the job and its trigger, returning the first fire
// time. Pass a nil detail to attach the trigger to an already stored job.
func (s *Scheduler) ScheduleJob(detail *domain.JobDetail, trig domain.OperableTrigger) (time.Time, error) {
	if s.IsShutdown() {
		return time.Time{}, domain.ErrSchedulerShutdown
	}
	if err := trig.Validate(); err != nil {
		return time.Time{}, err
	}
	if detail != nil {
		if err := detail.Validate(); err != nil {
			return time.Time{}, err
		}
		if trig.JobKey() != detail.Key {
			return time.Time{}, fmt.Errorf("%w: trigger %s references job %s, not %s",
				domain.ErrInvalidTrigger, trig.Key(), trig.JobKey(), detail.Key)
		}
	}

	var cal domain.Calendar
	if name := trig.CalendarName(); name != "" {
		cal = s.store.RetrieveCalendar(name)
		if cal == nil {
			return time.Time{}, fmt.Errorf("%w: %q", domain.ErrCalendarNotFound, name)
		}
	}
	first := trig.ComputeFirstFireTime(cal)
	if first == nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrTriggerNeverFires, trig.Key())
	}

	storedJob := false
	if detail != nil {
		if err := s.store.StoreJob(detail, false); err != nil {
			return time.Time{}, err
		}
		storedJob = true
	}
	if err := s.store.StoreTrigger(trig, false); err != nil {
		if storedJob {
			s.store.RemoveJob(detail.Key)
		}
		return time.Time{}, err
	}

	if detail != nil {
		s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobAdded(detail) })
	}
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobScheduled(trig) })
	s.signalSchedulingChange(first)
	return *first, nil
}

// ScheduleJobs stores several jobs with their triggers. With replace set,
// existing jobs and triggers under the same keys are overwritten. The
// operation is not atomic across jobs; the first error aborts it.
func (s *Scheduler) ScheduleJobs(jobs map[*domain.JobDetail][]domain.OperableTrigger, replace bool) error {
	if s.IsShutdown() {
		return domain.ErrSchedulerShutdown
	}
	for detail, triggers := range jobs {
		if err := detail.Validate(); err != nil {
			return err
		}
		if err := s.store.StoreJob(detail, replace); err != nil {
			return err
		}
		s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobAdded(detail) })
		for _, trig := range triggers {
			if err := trig.Validate(); err != nil {
				return err
			}
			var cal domain.Calendar
			if name := trig.CalendarName(); name != "" {
				if cal = s.store.RetrieveCalendar(name); cal == nil {
					return fmt.Errorf("%w: %q", domain.ErrCalendarNotFound, name)
				}
			}
			first := trig.ComputeFirstFireTime(cal)
			if first == nil {
				return fmt.Errorf("%w: %s", ErrTriggerNeverFires, trig.Key())
			}
			if err := s.store.StoreTrigger(trig, replace); err != nil {
				return err
			}
			s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobScheduled(trig) })
			s.signalSchedulingChange(first)
		}
	}
	return nil
}

// UnscheduleJob removes the trigger. The job is removed too when it is
// non-durable and this was its last trigger. Returns false when the
// trigger did not exist.
func (s *Scheduler) UnscheduleJob(key domain.TriggerKey) bool {
	if !s.store.RemoveTrigger(key) {
		return false
	}
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobUnscheduled(key) })
	s.signalSchedulingChange(nil)
	return true
}

// RescheduleJob replaces the trigger under key with newTrigger, which must
// reference the same job. Returns the new first fire time, or nil when no
// trigger existed under key.
func (s *Scheduler) RescheduleJob(key domain.TriggerKey, newTrigger domain.OperableTrigger) (*time.Time, error) {
	if s.IsShutdown() {
		return nil, domain.ErrSchedulerShutdown
	}
	if err := newTrigger.Validate(); err != nil {
		return nil, err
	}

	var cal domain.Calendar
	if name := newTrigger.CalendarName(); name != "" {
		if cal = s.store.RetrieveCalendar(name); cal == nil {
			return nil, fmt.Errorf("%w: %q", domain.ErrCalendarNotFound, name)
		}
	}
	first := newTrigger.ComputeFirstFireTime(cal)
	if first == nil {
		return nil, fmt.Errorf("%w: %s", ErrTriggerNeverFires, newTrigger.Key())
	}

	replaced, err := s.store.ReplaceTrigger(key, newTrigger)
	if err != nil {
		return nil, err
	}
	if !replaced {
		return nil, nil
	}

	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobUnscheduled(key) })
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobScheduled(newTrigger) })
	s.signalSchedulingChange(first)
	return first, nil
}

// AddJob stores a job without a trigger. Non-durable jobs are rejected
// unless storeNonDurableWhileAwaitingScheduling is set.
func (s *Scheduler) AddJob(detail *domain.JobDetail, replace, storeNonDurableWhileAwaitingScheduling bool) error {
	if s.IsShutdown() {
		return domain.ErrSchedulerShutdown
	}
	if err := detail.Validate(); err != nil {
		return err
	}
	if !detail.Durable && !storeNonDurableWhileAwaitingScheduling {
		return fmt.Errorf("%w: %s", ErrJobNotDurable, detail.Key)
	}
	if err := s.store.StoreJob(detail, replace); err != nil {
		return err
	}
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobAdded(detail) })
	return nil
}

// DeleteJob removes the job and all of its triggers. Returns false when
// the job did not exist.
func (s *Scheduler) DeleteJob(key domain.JobKey) bool {
	triggers := s.store.GetTriggersForJob(key)
	if !s.store.RemoveJob(key) {
		return false
	}
	for _, trig := range triggers {
		tk := trig.Key()
		s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobUnscheduled(tk) })
	}
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobDeleted(key) })
	s.signalSchedulingChange(nil)
	return true
}

// TriggerJob fires the stored job once, now, with the given trigger data.
func (s *Scheduler) TriggerJob(key domain.JobKey, data domain.JobDataMap) error {
	if s.IsShutdown() {
		return domain.ErrSchedulerShutdown
	}
	if !s.store.CheckJobExists(key) {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, key)
	}

	now := s.clock()
	trig := trigger.NewSimple(
		domain.NewTriggerKeyWithGroup(ManualTriggerGroup, "MT_"+uuid.NewString()), key).
		WithStartTime(now).
		WithMisfireInstruction(domain.MisfireInstructionIgnorePolicy)
	if len(data) > 0 {
		trig = trig.WithJobData(data.Clone())
	}

	first := trig.ComputeFirstFireTime(nil)
	if first == nil {
		return fmt.Errorf("%w: %s", ErrTriggerNeverFires, trig.Key())
	}
	if err := s.store.StoreTrigger(trig, false); err != nil {
		return err
	}
	s.signalSchedulingChange(first)
	return nil
}

// AddCalendar stores an exclusion calendar. With updateTriggers set,
// triggers referencing the calendar are recomputed against it.
func (s *Scheduler) AddCalendar(name string, cal domain.Calendar, replace, updateTriggers bool) error {
	if err := s.store.StoreCalendar(name, cal, replace, updateTriggers); err != nil {
		return err
	}
	if updateTriggers {
		s.signalSchedulingChange(nil)
	}
	return nil
}

// DeleteCalendar removes a calendar that no trigger references.
func (s *Scheduler) DeleteCalendar(name string) error {
	return s.store.RemoveCalendar(name)
}

// GetCalendar returns the named calendar, or nil.
func (s *Scheduler) GetCalendar(name string) domain.Calendar {
	return s.store.RetrieveCalendar(name)
}

// GetCalendarNames returns the stored calendar names, sorted.
func (s *Scheduler) GetCalendarNames() []string {
	return s.store.GetCalendarNames()
}

// PauseTrigger pauses one trigger.
func (s *Scheduler) PauseTrigger(key domain.TriggerKey) {
	s.store.PauseTrigger(key)
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.TriggerPaused(key) })
}

// PauseTriggers pauses every trigger whose group matches, and registers
// matched groups so future triggers stored into them start paused.
func (s *Scheduler) PauseTriggers(matcher domain.GroupMatcher) []string {
	groups := s.store.PauseTriggers(matcher)
	for _, g := range groups {
		group := g
		s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.TriggersPaused(group) })
	}
	return groups
}

// ResumeTrigger resumes one trigger, applying misfire handling for fires
// missed while paused.
func (s *Scheduler) ResumeTrigger(key domain.TriggerKey) {
	s.store.ResumeTrigger(key)
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.TriggerResumed(key) })
	s.signalSchedulingChange(nil)
}

// ResumeTriggers resumes every trigger whose group matches.
func (s *Scheduler) ResumeTriggers(matcher domain.GroupMatcher) []string {
	groups := s.store.ResumeTriggers(matcher)
	for _, g := range groups {
		group := g
		s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.TriggersResumed(group) })
	}
	s.signalSchedulingChange(nil)
	return groups
}

// PauseJob pauses every trigger of the job.
func (s *Scheduler) PauseJob(key domain.JobKey) {
	s.store.PauseJob(key)
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobPaused(key) })
}

// PauseJobs pauses every trigger of every job whose group matches.
func (s *Scheduler) PauseJobs(matcher domain.GroupMatcher) []string {
	groups := s.store.PauseJobs(matcher)
	for _, g := range groups {
		group := g
		s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobsPaused(group) })
	}
	return groups
}

// ResumeJob resumes every trigger of the job.
func (s *Scheduler) ResumeJob(key domain.JobKey) {
	s.store.ResumeJob(key)
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobResumed(key) })
	s.signalSchedulingChange(nil)
}

// ResumeJobs resumes every trigger of every job whose group matches.
func (s *Scheduler) ResumeJobs(matcher domain.GroupMatcher) []string {
	groups := s.store.ResumeJobs(matcher)
	for _, g := range groups {
		group := g
		s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobsResumed(group) })
	}
	s.signalSchedulingChange(nil)
	return groups
}

// PauseAll pauses every trigger group, including future ones.
func (s *Scheduler) PauseAll() {
	s.store.PauseAll()
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.TriggersPaused("*") })
}

// ResumeAll resumes every trigger group and clears the pause registry.
func (s *Scheduler) ResumeAll() {
	s.store.ResumeAll()
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.TriggersResumed("*") })
	s.signalSchedulingChange(nil)
}

// Clear removes all jobs, triggers, and calendars.
func (s *Scheduler) Clear() {
	s.store.ClearAll()
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.SchedulingDataCleared() })
	s.signalSchedulingChange(nil)
}

// GetJobDetail returns a clone of the stored job, or nil.
func (s *Scheduler) GetJobDetail(key domain.JobKey) *domain.JobDetail {
	return s.store.RetrieveJob(key)
}

// GetTrigger returns a clone of the stored trigger, or nil.
func (s *Scheduler) GetTrigger(key domain.TriggerKey) domain.Trigger {
	if trig := s.store.RetrieveTrigger(key); trig != nil {
		return trig
	}
	return nil
}

// GetTriggerState returns the externally visible state of the trigger.
func (s *Scheduler) GetTriggerState(key domain.TriggerKey) domain.TriggerState {
	return s.store.GetTriggerState(key)
}

// GetTriggersOfJob returns clones of the triggers referencing the job.
func (s *Scheduler) GetTriggersOfJob(key domain.JobKey) []domain.OperableTrigger {
	return s.store.GetTriggersForJob(key)
}

// GetJobKeys returns the keys of jobs whose group matches, sorted.
func (s *Scheduler) GetJobKeys(matcher domain.GroupMatcher) []domain.JobKey {
	return s.store.GetJobKeys(matcher)
}

// GetTriggerKeys returns the keys of triggers whose group matches, sorted.
func (s *Scheduler) GetTriggerKeys(matcher domain.GroupMatcher) []domain.TriggerKey {
	return s.store.GetTriggerKeys(matcher)
}

// GetJobGroupNames returns the distinct job groups, sorted.
func (s *Scheduler) GetJobGroupNames() []string { return s.store.GetJobGroupNames() }

// GetTriggerGroupNames returns the distinct trigger groups, sorted.
func (s *Scheduler) GetTriggerGroupNames() []string { return s.store.GetTriggerGroupNames() }

// GetPausedTriggerGroups returns the paused trigger groups, sorted.
func (s *Scheduler) GetPausedTriggerGroups() []string { return s.store.GetPausedTriggerGroups() }

// CheckJobExists reports whether a job is stored under the key.
func (s *Scheduler) CheckJobExists(key domain.JobKey) bool { return s.store.CheckJobExists(key) }

// CheckTriggerExists reports whether a trigger is stored under the key.
func (s *Scheduler) CheckTriggerExists(key domain.TriggerKey) bool {
	return s.store.CheckTriggerExists(key)
}

// GetCurrentlyExecutingJobs returns the execution contexts of jobs in
// flight right now.
func (s *Scheduler) GetCurrentlyExecutingJobs() []*domain.JobExecutionContext {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	out := make([]*domain.JobExecutionContext, 0, len(s.executing))
	for _, jec := range s.executing {
		out = append(out, jec)
	}
	return out
}

// AddJobListener registers a job listener.
func (s *Scheduler) AddJobListener(l JobListener) { s.listeners.AddJobListener(l) }

// RemoveJobListener unregisters a job listener by name.
func (s *Scheduler) RemoveJobListener(name string) bool { return s.listeners.RemoveJobListener(name) }

// AddTriggerListener registers a trigger listener.
func (s *Scheduler) AddTriggerListener(l TriggerListener) { s.listeners.AddTriggerListener(l) }

// RemoveTriggerListener unregisters a trigger listener by name.
func (s *Scheduler) RemoveTriggerListener(name string) bool {
	return s.listeners.RemoveTriggerListener(name)
}

// AddSchedulerListener registers a scheduler listener.
func (s *Scheduler) AddSchedulerListener(l SchedulerListener) { s.listeners.AddSchedulerListener(l) }

// SignalSchedulingChange wakes the loop because the schedule changed.
// Implements the store's signaler contract.
func (s *Scheduler) SignalSchedulingChange(candidateNewNextFireTime *time.Time) {
	s.signalSchedulingChange(candidateNewNextFireTime)
}

// NotifyTriggerListenersMisfired fans a misfire out to trigger listeners.
// Implements the store's signaler contract.
func (s *Scheduler) NotifyTriggerListenersMisfired(trig domain.Trigger) {
	s.listeners.notifyTriggerMisfired(trig)
}

// NotifySchedulerListenersFinalized fans a trigger-exhausted event out to
// scheduler listeners. Implements the store's signaler contract.
func (s *Scheduler) NotifySchedulerListenersFinalized(trig domain.Trigger) {
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.TriggerFinalized(trig) })
}

// NotifySchedulerListenersJobDeleted fans a job-deleted event out to
// scheduler listeners. Implements the store's signaler contract.
func (s *Scheduler) NotifySchedulerListenersJobDeleted(key domain.JobKey) {
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobDeleted(key) })
}

func (s *Scheduler) notifySchedulerError(msg string, err error) {
	s.log.Error(msg, logger.Error(err))
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.SchedulerError(msg, err) })
}
