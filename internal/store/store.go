// Package store provides the in-memory job store: the transactional data
// model holding jobs, triggers, calendars, pause state, and blocked-job
// state, with a time-ordered index driving trigger acquisition.
package store

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/logger"
)

// DefaultMisfireThreshold is how far in the past a fire time may fall
// before the trigger is treated as misfired.
const DefaultMisfireThreshold = 5 * time.Second

// SchedulerSignaler receives store events. The store invokes it outside its
// own mutex, so implementations may call back into the store.
type SchedulerSignaler interface {
	// SignalSchedulingChange wakes the scheduler loop because the earliest
	// fire time may have changed. The candidate is nil when unknown.
	SignalSchedulingChange(candidateNextFireTime *time.Time)
	// NotifyTriggerListenersMisfired announces a misfired trigger.
	NotifyTriggerListenersMisfired(trig domain.Trigger)
	// NotifySchedulerListenersFinalized announces an exhausted trigger.
	NotifySchedulerListenersFinalized(trig domain.Trigger)
	// NotifySchedulerListenersJobDeleted announces an orphaned job removal.
	NotifySchedulerListenersJobDeleted(key domain.JobKey)
}

// nopSignaler keeps the store usable before a scheduler attaches.
type nopSignaler struct{}

func (nopSignaler) SignalSchedulingChange(*time.Time)                {}
func (nopSignaler) NotifyTriggerListenersMisfired(domain.Trigger)    {}
func (nopSignaler) NotifySchedulerListenersFinalized(domain.Trigger) {}
func (nopSignaler) NotifySchedulerListenersJobDeleted(domain.JobKey) {}

// triggerState is the store-internal trigger lifecycle state.
type triggerState int32

const (
	stateWaiting triggerState = iota
	stateAcquired
	stateExecuting
	stateComplete
	statePaused
	stateBlocked
	statePausedBlocked
	stateError
)

// String returns the state name for logs.
func (s triggerState) String() string {
	switch s {
	case stateWaiting:
		return "waiting"
	case stateAcquired:
		return "acquired"
	case stateExecuting:
		return "executing"
	case stateComplete:
		return "complete"
	case statePaused:
		return "paused"
	case stateBlocked:
		return "blocked"
	case statePausedBlocked:
		return "paused_blocked"
	case stateError:
		return "error"
	default:
		return "unknown"
	}
}

// triggerWrapper pairs a stored trigger with its lifecycle state.
type triggerWrapper struct {
	trigger domain.OperableTrigger
	jobKey  domain.JobKey
	state   triggerState
}

func (tw *triggerWrapper) key() domain.TriggerKey { return tw.trigger.Key() }

// RAMJobStore keeps all scheduling data in memory behind a single mutex.
// Jobs, triggers, and calendars are deep-cloned on the way in and out so
// callers and the store never share mutable state.
type RAMJobStore struct {
	mu sync.Mutex

	jobsByKey       map[domain.JobKey]*domain.JobDetail
	jobsByGroup     map[string]map[domain.JobKey]struct{}
	triggersByKey   map[domain.TriggerKey]*triggerWrapper
	triggersByGroup map[string]map[domain.TriggerKey]struct{}

	// timeTriggers holds the waiting triggers ordered by next fire time
	// ascending, priority descending, key ascending.
	timeTriggers []*triggerWrapper

	calendarsByName     map[string]domain.Calendar
	pausedTriggerGroups map[string]struct{}
	pausedJobGroups     map[string]struct{}
	blockedJobs         map[domain.JobKey]struct{}

	misfireThreshold time.Duration
	fireCounter      atomic.Int64
	signaler         SchedulerSignaler
	log              logger.Logger
	nowFn            func() time.Time
}

// New creates an empty store with the default misfire threshold.
func New(log logger.Logger) *RAMJobStore {
	if log == nil {
		log = logger.NewNop()
	}
	s := &RAMJobStore{
		jobsByKey:           make(map[domain.JobKey]*domain.JobDetail),
		jobsByGroup:         make(map[string]map[domain.JobKey]struct{}),
		triggersByKey:       make(map[domain.TriggerKey]*triggerWrapper),
		triggersByGroup:     make(map[string]map[domain.TriggerKey]struct{}),
		calendarsByName:     make(map[string]domain.Calendar),
		pausedTriggerGroups: make(map[string]struct{}),
		pausedJobGroups:     make(map[string]struct{}),
		blockedJobs:         make(map[domain.JobKey]struct{}),
		misfireThreshold:    DefaultMisfireThreshold,
		signaler:            nopSignaler{},
		log:                 log,
		nowFn:               time.Now,
	}
	s.fireCounter.Store(time.Now().UnixMilli())
	return s
}

// SetSignaler attaches the scheduler's signaler. Call before starting the
// scheduler loop.
func (s *RAMJobStore) SetSignaler(sig SchedulerSignaler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sig == nil {
		sig = nopSignaler{}
	}
	s.signaler = sig
}

// SetMisfireThreshold adjusts how stale a fire time may be before misfire
// handling applies.
func (s *RAMJobStore) SetMisfireThreshold(threshold time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misfireThreshold = threshold
}

// SetClock overrides the time source. Tests only.
func (s *RAMJobStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = now
}

func (s *RAMJobStore) now() time.Time { return s.nowFn() }

// nextFireInstanceID returns a process-unique id for a fired trigger. The
// counter is seeded from the wall clock so ids do not repeat across
// restarts.
func (s *RAMJobStore) nextFireInstanceID() string {
	return strconv.FormatInt(s.fireCounter.Add(1), 10)
}

// dispatch runs the deferred notifications collected during an operation.
// Callers invoke it after releasing the mutex so listener fan-out cannot
// deadlock against re-entrant store calls.
func dispatch(after []func()) {
	for _, fn := range after {
		fn()
	}
}

// timeTriggerLess orders the time index: earliest fire first, then higher
// priority, then key order for determinism.
func timeTriggerLess(a, b *triggerWrapper) bool {
	an := a.trigger.NextFireTime()
	bn := b.trigger.NextFireTime()
	switch {
	case an == nil && bn == nil:
		// fall through to tiebreakers
	case an == nil:
		return false
	case bn == nil:
		return true
	case !an.Equal(*bn):
		return an.Before(*bn)
	}
	if a.trigger.Priority() != b.trigger.Priority() {
		return a.trigger.Priority() > b.trigger.Priority()
	}
	return a.key().Less(b.key())
}

// insertTimeTrigger adds a wrapper to the ordered index.
func (s *RAMJobStore) insertTimeTrigger(tw *triggerWrapper) {
	idx := sort.Search(len(s.timeTriggers), func(i int) bool {
		return timeTriggerLess(tw, s.timeTriggers[i])
	})
	s.timeTriggers = append(s.timeTriggers, nil)
	copy(s.timeTriggers[idx+1:], s.timeTriggers[idx:])
	s.timeTriggers[idx] = tw
}

// removeTimeTrigger drops a wrapper from the ordered index if present.
func (s *RAMJobStore) removeTimeTrigger(tw *triggerWrapper) {
	for i, cur := range s.timeTriggers {
		if cur == tw {
			s.timeTriggers = append(s.timeTriggers[:i], s.timeTriggers[i+1:]...)
			return
		}
	}
}

// popEarliestTimeTrigger removes and returns the first wrapper, or nil.
func (s *RAMJobStore) popEarliestTimeTrigger() *triggerWrapper {
	if len(s.timeTriggers) == 0 {
		return nil
	}
	tw := s.timeTriggers[0]
	s.timeTriggers = s.timeTriggers[1:]
	return tw
}

// StoreJob stores a job detail, replacing any existing detail for the same
// key when replace is set.
func (s *RAMJobStore) StoreJob(detail *domain.JobDetail, replace bool) error {
	if err := detail.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobsByKey[detail.Key]; exists && !replace {
		return fmt.Errorf("job %s: %w", detail.Key, domain.ErrObjectAlreadyExists)
	}
	s.putJob(detail.Clone())
	return nil
}

// putJob indexes a job clone. Caller holds the mutex.
func (s *RAMJobStore) putJob(detail *domain.JobDetail) {
	s.jobsByKey[detail.Key] = detail
	group := s.jobsByGroup[detail.Key.Group]
	if group == nil {
		group = make(map[domain.JobKey]struct{})
		s.jobsByGroup[detail.Key.Group] = group
	}
	group[detail.Key] = struct{}{}
}

// RemoveJob removes a job and all of its triggers. Reports whether the job
// existed. The triggers are dropped from the indexes directly; the caller
// announces the deletion, so the orphaned-job cleanup path is not involved.
func (s *RAMJobStore) RemoveJob(key domain.JobKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.jobsByKey[key]
	for _, tw := range s.triggersOfJob(key) {
		s.deleteTriggerIndexEntries(tw)
	}
	if !exists {
		return false
	}
	s.deleteJobIndexEntries(key)
	return true
}

// deleteJobIndexEntries drops a job from every index. Caller holds the
// mutex.
func (s *RAMJobStore) deleteJobIndexEntries(key domain.JobKey) {
	delete(s.jobsByKey, key)
	delete(s.blockedJobs, key)
	if group := s.jobsByGroup[key.Group]; group != nil {
		delete(group, key)
		if len(group) == 0 {
			delete(s.jobsByGroup, key.Group)
		}
	}
}

// RetrieveJob returns a clone of the stored job, or nil.
func (s *RAMJobStore) RetrieveJob(key domain.JobKey) *domain.JobDetail {
	s.mu.Lock()
	defer s.mu.Unlock()

	detail, exists := s.jobsByKey[key]
	if !exists {
		return nil
	}
	return detail.Clone()
}

// CheckJobExists reports whether a job is stored under the key.
func (s *RAMJobStore) CheckJobExists(key domain.JobKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.jobsByKey[key]
	return exists
}

// StoreTrigger stores a trigger, replacing an existing one for the same key
// when replace is set. The trigger's job must already be stored, and its
// calendar, when named, must exist.
func (s *RAMJobStore) StoreTrigger(trig domain.OperableTrigger, replace bool) error {
	if err := trig.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putTrigger(trig, replace)
}

// putTrigger validates references and indexes a trigger clone. Caller holds
// the mutex.
func (s *RAMJobStore) putTrigger(trig domain.OperableTrigger, replace bool) error {
	key := trig.Key()
	if existing := s.triggersByKey[key]; existing != nil {
		if !replace {
			return fmt.Errorf("trigger %s: %w", key, domain.ErrObjectAlreadyExists)
		}
		s.deleteTriggerIndexEntries(existing)
	}
	if _, exists := s.jobsByKey[trig.JobKey()]; !exists {
		return fmt.Errorf("trigger %s references job %s: %w", key, trig.JobKey(), domain.ErrJobNotFound)
	}
	if name := trig.CalendarName(); name != "" {
		if _, exists := s.calendarsByName[name]; !exists {
			return fmt.Errorf("trigger %s references calendar %q: %w", key, name, domain.ErrCalendarNotFound)
		}
	}

	tw := &triggerWrapper{trigger: trig.Clone(), jobKey: trig.JobKey(), state: stateWaiting}

	pausedGroup := s.isTriggerGroupPaused(key.Group) || s.isJobGroupPaused(trig.JobKey().Group)
	_, blocked := s.blockedJobs[trig.JobKey()]
	switch {
	case pausedGroup && blocked:
		tw.state = statePausedBlocked
	case pausedGroup:
		tw.state = statePaused
	case blocked:
		tw.state = stateBlocked
	}

	s.triggersByKey[key] = tw
	group := s.triggersByGroup[key.Group]
	if group == nil {
		group = make(map[domain.TriggerKey]struct{})
		s.triggersByGroup[key.Group] = group
	}
	group[key] = struct{}{}

	if tw.state == stateWaiting && tw.trigger.NextFireTime() != nil {
		s.insertTimeTrigger(tw)
	}
	return nil
}

func (s *RAMJobStore) isTriggerGroupPaused(group string) bool {
	_, paused := s.pausedTriggerGroups[group]
	return paused
}

func (s *RAMJobStore) isJobGroupPaused(group string) bool {
	_, paused := s.pausedJobGroups[group]
	return paused
}

// RemoveTrigger removes a trigger, deleting its job as well when the job is
// non-durable and has no other triggers. Reports whether the trigger
// existed.
func (s *RAMJobStore) RemoveTrigger(key domain.TriggerKey) bool {
	var after []func()
	defer func() { dispatch(after) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	tw := s.triggersByKey[key]
	if tw == nil {
		return false
	}
	s.deleteTrigger(tw, &after)
	return true
}

// deleteTrigger drops a trigger from every index and removes its job when
// orphaned and non-durable. Caller holds the mutex.
func (s *RAMJobStore) deleteTrigger(tw *triggerWrapper, after *[]func()) {
	s.deleteTriggerIndexEntries(tw)

	jobKey := tw.jobKey
	detail, exists := s.jobsByKey[jobKey]
	if !exists || detail.Durable {
		return
	}
	if len(s.triggersOfJob(jobKey)) == 0 {
		s.deleteJobIndexEntries(jobKey)
		sig := s.signaler
		*after = append(*after, func() { sig.NotifySchedulerListenersJobDeleted(jobKey) })
	}
}

// deleteTriggerIndexEntries removes a trigger from the key, group, and time
// indexes. Caller holds the mutex.
func (s *RAMJobStore) deleteTriggerIndexEntries(tw *triggerWrapper) {
	key := tw.key()
	delete(s.triggersByKey, key)
	if group := s.triggersByGroup[key.Group]; group != nil {
		delete(group, key)
		if len(group) == 0 {
			delete(s.triggersByGroup, key.Group)
		}
	}
	s.removeTimeTrigger(tw)
}

// ReplaceTrigger swaps a trigger for a new one firing the same job. Reports
// whether the old trigger existed.
func (s *RAMJobStore) ReplaceTrigger(key domain.TriggerKey, newTrigger domain.OperableTrigger) (bool, error) {
	if err := newTrigger.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tw := s.triggersByKey[key]
	if tw == nil {
		return false, nil
	}
	if tw.jobKey != newTrigger.JobKey() {
		return false, fmt.Errorf("new trigger %s must reference job %s: %w",
			newTrigger.Key(), tw.jobKey, domain.ErrInvalidTrigger)
	}

	s.deleteTriggerIndexEntries(tw)
	if err := s.putTrigger(newTrigger, false); err != nil {
		// restore the old trigger so the failed replace is a no-op
		restoreErr := s.putTrigger(tw.trigger, false)
		if restoreErr != nil {
			s.log.Error("failed to restore trigger after aborted replace",
				logger.String("trigger", key.String()), logger.Error(restoreErr))
		}
		return false, err
	}
	return true, nil
}

// RetrieveTrigger returns a clone of the stored trigger, or nil.
func (s *RAMJobStore) RetrieveTrigger(key domain.TriggerKey) domain.OperableTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()

	tw := s.triggersByKey[key]
	if tw == nil {
		return nil
	}
	return tw.trigger.Clone()
}

// CheckTriggerExists reports whether a trigger is stored under the key.
func (s *RAMJobStore) CheckTriggerExists(key domain.TriggerKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.triggersByKey[key]
	return exists
}

// GetTriggerState returns the externally observable state of a trigger.
func (s *RAMJobStore) GetTriggerState(key domain.TriggerKey) domain.TriggerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	tw := s.triggersByKey[key]
	if tw == nil {
		return domain.TriggerStateNone
	}
	switch tw.state {
	case statePaused, statePausedBlocked:
		return domain.TriggerStatePaused
	case stateBlocked:
		return domain.TriggerStateBlocked
	case stateComplete:
		return domain.TriggerStateComplete
	case stateError:
		return domain.TriggerStateError
	default:
		return domain.TriggerStateNormal
	}
}

// StoreCalendar stores a calendar under a name. With updateTriggers set,
// triggers referencing the name have their fire times recomputed against
// the replacement.
func (s *RAMJobStore) StoreCalendar(name string, cal domain.Calendar, replace, updateTriggers bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.calendarsByName[name]; exists && !replace {
		return fmt.Errorf("calendar %q: %w", name, domain.ErrObjectAlreadyExists)
	}
	clone := cal.Clone()
	s.calendarsByName[name] = clone

	if !updateTriggers {
		return nil
	}
	for _, tw := range s.triggersByKey {
		if tw.trigger.CalendarName() != name {
			continue
		}
		inIndex := tw.state == stateWaiting && tw.trigger.NextFireTime() != nil
		if inIndex {
			s.removeTimeTrigger(tw)
		}
		tw.trigger.UpdateWithNewCalendar(clone, s.misfireThreshold)
		if inIndex && tw.trigger.NextFireTime() != nil {
			s.insertTimeTrigger(tw)
		}
	}
	return nil
}

// RemoveCalendar removes a calendar. Fails when any trigger references it.
func (s *RAMJobStore) RemoveCalendar(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.calendarsByName[name]; !exists {
		return fmt.Errorf("calendar %q: %w", name, domain.ErrCalendarNotFound)
	}
	for _, tw := range s.triggersByKey {
		if tw.trigger.CalendarName() == name {
			return fmt.Errorf("calendar %q referenced by trigger %s: %w",
				name, tw.key(), domain.ErrCalendarInUse)
		}
	}
	delete(s.calendarsByName, name)
	return nil
}

// RetrieveCalendar returns a clone of the named calendar, or nil.
func (s *RAMJobStore) RetrieveCalendar(name string) domain.Calendar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calendarClone(name)
}

// calendarClone returns a clone of the named calendar. Caller holds the
// mutex.
func (s *RAMJobStore) calendarClone(name string) domain.Calendar {
	cal, exists := s.calendarsByName[name]
	if !exists {
		return nil
	}
	return cal.Clone()
}

// GetCalendarNames returns the stored calendar names sorted.
func (s *RAMJobStore) GetCalendarNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.calendarsByName))
	for name := range s.calendarsByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// triggersOfJob returns the wrappers of every trigger firing the job.
// Caller holds the mutex.
func (s *RAMJobStore) triggersOfJob(jobKey domain.JobKey) []*triggerWrapper {
	var out []*triggerWrapper
	for _, tw := range s.triggersByKey {
		if tw.jobKey == jobKey {
			out = append(out, tw)
		}
	}
	return out
}

// GetTriggersForJob returns clones of every trigger firing the job.
func (s *RAMJobStore) GetTriggersForJob(jobKey domain.JobKey) []domain.OperableTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()

	wrappers := s.triggersOfJob(jobKey)
	out := make([]domain.OperableTrigger, 0, len(wrappers))
	for _, tw := range wrappers {
		out = append(out, tw.trigger.Clone())
	}
	return out
}

// GetJobKeys returns the keys of jobs whose group matches.
func (s *RAMJobStore) GetJobKeys(matcher domain.GroupMatcher) []domain.JobKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.JobKey
	for group, keys := range s.jobsByGroup {
		if !matcher.Matches(group) {
			continue
		}
		for key := range keys {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Group < out[j].Group ||
			(out[i].Group == out[j].Group && out[i].Name < out[j].Name)
	})
	return out
}

// GetTriggerKeys returns the keys of triggers whose group matches.
func (s *RAMJobStore) GetTriggerKeys(matcher domain.GroupMatcher) []domain.TriggerKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TriggerKey
	for group, keys := range s.triggersByGroup {
		if !matcher.Matches(group) {
			continue
		}
		for key := range keys {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// GetJobGroupNames returns every group with at least one job.
func (s *RAMJobStore) GetJobGroupNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobsByGroup))
	for group := range s.jobsByGroup {
		names = append(names, group)
	}
	sort.Strings(names)
	return names
}

// GetTriggerGroupNames returns every group with at least one trigger.
func (s *RAMJobStore) GetTriggerGroupNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.triggersByGroup))
	for group := range s.triggersByGroup {
		names = append(names, group)
	}
	sort.Strings(names)
	return names
}

// GetNumberOfJobs returns the stored job count.
func (s *RAMJobStore) GetNumberOfJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobsByKey)
}

// GetNumberOfTriggers returns the stored trigger count.
func (s *RAMJobStore) GetNumberOfTriggers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggersByKey)
}

// GetNumberOfCalendars returns the stored calendar count.
func (s *RAMJobStore) GetNumberOfCalendars() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calendarsByName)
}

// ClearAll removes every job, trigger, calendar, and pause record.
func (s *RAMJobStore) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobsByKey = make(map[domain.JobKey]*domain.JobDetail)
	s.jobsByGroup = make(map[string]map[domain.JobKey]struct{})
	s.triggersByKey = make(map[domain.TriggerKey]*triggerWrapper)
	s.triggersByGroup = make(map[string]map[domain.TriggerKey]struct{})
	s.timeTriggers = nil
	s.calendarsByName = make(map[string]domain.Calendar)
	s.pausedTriggerGroups = make(map[string]struct{})
	s.pausedJobGroups = make(map[string]struct{})
	s.blockedJobs = make(map[domain.JobKey]struct{})
}
