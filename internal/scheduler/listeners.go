package scheduler

import (
	"sync"

	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/logger"
)

// JobListener observes job execution lifecycle events.
type JobListener interface {
	// Name identifies the listener for registration and removal.
	Name() string
	// JobToBeExecuted runs just before a job executes.
	JobToBeExecuted(jec *domain.JobExecutionContext)
	// JobExecutionVetoed runs instead of execution when a trigger listener
	// vetoed the job.
	JobExecutionVetoed(jec *domain.JobExecutionContext)
	// JobWasExecuted runs after a job executes, with its error if any.
	JobWasExecuted(jec *domain.JobExecutionContext, jobErr error)
}

// TriggerListener observes trigger lifecycle events.
type TriggerListener interface {
	// Name identifies the listener for registration and removal.
	Name() string
	// TriggerFired runs when a trigger fires.
	TriggerFired(trig domain.Trigger, jec *domain.JobExecutionContext)
	// VetoJobExecution may veto the job execution for this fire.
	VetoJobExecution(trig domain.Trigger, jec *domain.JobExecutionContext) bool
	// TriggerMisfired runs when a trigger misses its fire time by more
	// than the misfire threshold.
	TriggerMisfired(trig domain.Trigger)
	// TriggerComplete runs after the fire's execution finished.
	TriggerComplete(trig domain.Trigger, jec *domain.JobExecutionContext, instruction domain.CompletedExecutionInstruction)
}

// SchedulerListener observes scheduler-level events.
type SchedulerListener interface {
	// JobScheduled runs when a trigger is stored.
	JobScheduled(trig domain.Trigger)
	// JobUnscheduled runs when a trigger is removed.
	JobUnscheduled(key domain.TriggerKey)
	// TriggerFinalized runs when a trigger's schedule exhausts.
	TriggerFinalized(trig domain.Trigger)
	// TriggerPaused runs when a single trigger is paused.
	TriggerPaused(key domain.TriggerKey)
	// TriggersPaused runs when a trigger group is paused.
	TriggersPaused(group string)
	// TriggerResumed runs when a single trigger is resumed.
	TriggerResumed(key domain.TriggerKey)
	// TriggersResumed runs when a trigger group is resumed.
	TriggersResumed(group string)
	// JobAdded runs when a job detail is stored.
	JobAdded(detail *domain.JobDetail)
	// JobDeleted runs when a job is removed.
	JobDeleted(key domain.JobKey)
	// JobPaused runs when a job's triggers are paused.
	JobPaused(key domain.JobKey)
	// JobsPaused runs when a job group is paused.
	JobsPaused(group string)
	// JobResumed runs when a job's triggers are resumed.
	JobResumed(key domain.JobKey)
	// JobsResumed runs when a job group is resumed.
	JobsResumed(group string)
	// SchedulerError runs when the scheduler hits an internal error.
	SchedulerError(msg string, err error)
	// SchedulerStarted runs when the loop starts.
	SchedulerStarted()
	// SchedulerInStandbyMode runs when the loop is put in standby.
	SchedulerInStandbyMode()
	// SchedulerShuttingDown runs when shutdown begins.
	SchedulerShuttingDown()
	// SchedulerShutdown runs when shutdown completes.
	SchedulerShutdown()
	// SchedulingDataCleared runs when the store is cleared.
	SchedulingDataCleared()
}

// JobListenerBase is a no-op JobListener for selective embedding.
type JobListenerBase struct{ ListenerName string }

func (b JobListenerBase) Name() string                                        { return b.ListenerName }
func (JobListenerBase) JobToBeExecuted(*domain.JobExecutionContext)           {}
func (JobListenerBase) JobExecutionVetoed(*domain.JobExecutionContext)        {}
func (JobListenerBase) JobWasExecuted(*domain.JobExecutionContext, error)     {}

// TriggerListenerBase is a no-op TriggerListener for selective embedding.
type TriggerListenerBase struct{ ListenerName string }

func (b TriggerListenerBase) Name() string { return b.ListenerName }
func (TriggerListenerBase) TriggerFired(domain.Trigger, *domain.JobExecutionContext) {}
func (TriggerListenerBase) VetoJobExecution(domain.Trigger, *domain.JobExecutionContext) bool {
	return false
}
func (TriggerListenerBase) TriggerMisfired(domain.Trigger) {}
func (TriggerListenerBase) TriggerComplete(domain.Trigger, *domain.JobExecutionContext, domain.CompletedExecutionInstruction) {
}

// SchedulerListenerBase is a no-op SchedulerListener for selective
// embedding.
type SchedulerListenerBase struct{}

func (SchedulerListenerBase) JobScheduled(domain.Trigger)        {}
func (SchedulerListenerBase) JobUnscheduled(domain.TriggerKey)   {}
func (SchedulerListenerBase) TriggerFinalized(domain.Trigger)    {}
func (SchedulerListenerBase) TriggerPaused(domain.TriggerKey)    {}
func (SchedulerListenerBase) TriggersPaused(string)              {}
func (SchedulerListenerBase) TriggerResumed(domain.TriggerKey)   {}
func (SchedulerListenerBase) TriggersResumed(string)             {}
func (SchedulerListenerBase) JobAdded(*domain.JobDetail)         {}
func (SchedulerListenerBase) JobDeleted(domain.JobKey)           {}
func (SchedulerListenerBase) JobPaused(domain.JobKey)            {}
func (SchedulerListenerBase) JobsPaused(string)                  {}
func (SchedulerListenerBase) JobResumed(domain.JobKey)           {}
func (SchedulerListenerBase) JobsResumed(string)                 {}
func (SchedulerListenerBase) SchedulerError(string, error)       {}
func (SchedulerListenerBase) SchedulerStarted()                  {}
func (SchedulerListenerBase) SchedulerInStandbyMode()            {}
func (SchedulerListenerBase) SchedulerShuttingDown()             {}
func (SchedulerListenerBase) SchedulerShutdown()                 {}
func (SchedulerListenerBase) SchedulingDataCleared()             {}

// listenerManager holds the registered listeners for one scheduler. Every
// fan-out contains listener panics so one misbehaving listener cannot stop
// the others or poison scheduler state.
type listenerManager struct {
	mu                 sync.RWMutex
	jobListeners       []JobListener
	triggerListeners   []TriggerListener
	schedulerListeners []SchedulerListener
	log                logger.Logger
}

func newListenerManager(log logger.Logger) *listenerManager {
	return &listenerManager{log: log}
}

// AddJobListener registers a job listener, replacing one with the same
// name.
func (m *listenerManager) AddJobListener(l JobListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.jobListeners {
		if cur.Name() == l.Name() {
			m.jobListeners[i] = l
			return
		}
	}
	m.jobListeners = append(m.jobListeners, l)
}

// RemoveJobListener unregisters a job listener by name.
func (m *listenerManager) RemoveJobListener(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.jobListeners {
		if cur.Name() == name {
			m.jobListeners = append(m.jobListeners[:i], m.jobListeners[i+1:]...)
			return true
		}
	}
	return false
}

// AddTriggerListener registers a trigger listener, replacing one with the
// same name.
func (m *listenerManager) AddTriggerListener(l TriggerListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.triggerListeners {
		if cur.Name() == l.Name() {
			m.triggerListeners[i] = l
			return
		}
	}
	m.triggerListeners = append(m.triggerListeners, l)
}

// RemoveTriggerListener unregisters a trigger listener by name.
func (m *listenerManager) RemoveTriggerListener(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.triggerListeners {
		if cur.Name() == name {
			m.triggerListeners = append(m.triggerListeners[:i], m.triggerListeners[i+1:]...)
			return true
		}
	}
	return false
}

// AddSchedulerListener registers a scheduler listener.
func (m *listenerManager) AddSchedulerListener(l SchedulerListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedulerListeners = append(m.schedulerListeners, l)
}

func (m *listenerManager) jobListenersSnapshot() []JobListener {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]JobListener, len(m.jobListeners))
	copy(out, m.jobListeners)
	return out
}

func (m *listenerManager) triggerListenersSnapshot() []TriggerListener {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TriggerListener, len(m.triggerListeners))
	copy(out, m.triggerListeners)
	return out
}

func (m *listenerManager) schedulerListenersSnapshot() []SchedulerListener {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SchedulerListener, len(m.schedulerListeners))
	copy(out, m.schedulerListeners)
	return out
}

// safely invokes one listener callback, containing panics.
func (m *listenerManager) safely(listener string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("listener panicked",
				logger.String("listener", listener), logger.Any("panic", r))
		}
	}()
	fn()
}

func (m *listenerManager) notifyJobToBeExecuted(jec *domain.JobExecutionContext) {
	for _, l := range m.jobListenersSnapshot() {
		m.safely(l.Name(), func() { l.JobToBeExecuted(jec) })
	}
}

func (m *listenerManager) notifyJobExecutionVetoed(jec *domain.JobExecutionContext) {
	for _, l := range m.jobListenersSnapshot() {
		m.safely(l.Name(), func() { l.JobExecutionVetoed(jec) })
	}
}

func (m *listenerManager) notifyJobWasExecuted(jec *domain.JobExecutionContext, jobErr error) {
	for _, l := range m.jobListenersSnapshot() {
		m.safely(l.Name(), func() { l.JobWasExecuted(jec, jobErr) })
	}
}

func (m *listenerManager) notifyTriggerFired(trig domain.Trigger, jec *domain.JobExecutionContext) {
	for _, l := range m.triggerListenersSnapshot() {
		m.safely(l.Name(), func() { l.TriggerFired(trig, jec) })
	}
}

// vetoJobExecution returns true when any trigger listener vetoes the fire.
func (m *listenerManager) vetoJobExecution(trig domain.Trigger, jec *domain.JobExecutionContext) bool {
	vetoed := false
	for _, l := range m.triggerListenersSnapshot() {
		m.safely(l.Name(), func() {
			if l.VetoJobExecution(trig, jec) {
				vetoed = true
			}
		})
	}
	return vetoed
}

func (m *listenerManager) notifyTriggerMisfired(trig domain.Trigger) {
	for _, l := range m.triggerListenersSnapshot() {
		m.safely(l.Name(), func() { l.TriggerMisfired(trig) })
	}
}

func (m *listenerManager) notifyTriggerComplete(trig domain.Trigger, jec *domain.JobExecutionContext, instruction domain.CompletedExecutionInstruction) {
	for _, l := range m.triggerListenersSnapshot() {
		m.safely(l.Name(), func() { l.TriggerComplete(trig, jec, instruction) })
	}
}

// notifySchedulerListeners fans one scheduler event out to every listener.
func (m *listenerManager) notifySchedulerListeners(fn func(SchedulerListener)) {
	for _, l := range m.schedulerListenersSnapshot() {
		m.safely("scheduler listener", func() { fn(l) })
	}
}
