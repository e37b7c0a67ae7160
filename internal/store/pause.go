package store

import (
	"sort"

	"github.com/jonesrussell/goquartz/internal/domain"
)

// PauseTrigger pauses a single trigger. Completed triggers are left alone.
func (s *RAMJobStore) PauseTrigger(key domain.TriggerKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseTriggerWrapper(s.triggersByKey[key])
}

// pauseTriggerWrapper moves a wrapper into a paused state. Caller holds the
// mutex.
func (s *RAMJobStore) pauseTriggerWrapper(tw *triggerWrapper) {
	if tw == nil {
		return
	}
	switch tw.state {
	case stateComplete, statePaused, statePausedBlocked:
		return
	case stateBlocked:
		tw.state = statePausedBlocked
	default:
		tw.state = statePaused
	}
	s.removeTimeTrigger(tw)
}

// PauseTriggers pauses every trigger whose group matches and remembers the
// matched groups so triggers stored into them later start paused. Returns
// the groups that were paused.
func (s *RAMJobStore) PauseTriggers(matcher domain.GroupMatcher) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := s.matchedTriggerGroups(matcher)
	for _, group := range groups {
		s.pausedTriggerGroups[group] = struct{}{}
		for key := range s.triggersByGroup[group] {
			s.pauseTriggerWrapper(s.triggersByKey[key])
		}
	}
	return groups
}

// matchedTriggerGroups resolves a matcher to group names. An equality
// matcher names its group directly, so pausing an empty group still
// registers it. Caller holds the mutex.
func (s *RAMJobStore) matchedTriggerGroups(matcher domain.GroupMatcher) []string {
	if matcher.Operator == domain.MatchEquals {
		return []string{matcher.Value}
	}
	var groups []string
	for group := range s.triggersByGroup {
		if matcher.Matches(group) {
			groups = append(groups, group)
		}
	}
	sort.Strings(groups)
	return groups
}

// matchedJobGroups resolves a matcher against job groups. Caller holds the
// mutex.
func (s *RAMJobStore) matchedJobGroups(matcher domain.GroupMatcher) []string {
	if matcher.Operator == domain.MatchEquals {
		return []string{matcher.Value}
	}
	var groups []string
	for group := range s.jobsByGroup {
		if matcher.Matches(group) {
			groups = append(groups, group)
		}
	}
	sort.Strings(groups)
	return groups
}

// PauseJob pauses every trigger of a job.
func (s *RAMJobStore) PauseJob(key domain.JobKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tw := range s.triggersOfJob(key) {
		s.pauseTriggerWrapper(tw)
	}
}

// PauseJobs pauses every trigger of every job whose group matches and
// remembers the matched groups. Returns the groups that were paused.
func (s *RAMJobStore) PauseJobs(matcher domain.GroupMatcher) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := s.matchedJobGroups(matcher)
	for _, group := range groups {
		s.pausedJobGroups[group] = struct{}{}
		for jobKey := range s.jobsByGroup[group] {
			for _, tw := range s.triggersOfJob(jobKey) {
				s.pauseTriggerWrapper(tw)
			}
		}
	}
	return groups
}

// ResumeTrigger resumes a paused trigger, applying misfire handling to fire
// times missed while paused.
func (s *RAMJobStore) ResumeTrigger(key domain.TriggerKey) {
	var after []func()
	defer func() { dispatch(after) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeTriggerWrapper(s.triggersByKey[key], &after)
}

// resumeTriggerWrapper returns a paused wrapper to contention. Caller holds
// the mutex.
func (s *RAMJobStore) resumeTriggerWrapper(tw *triggerWrapper, after *[]func()) {
	if tw == nil {
		return
	}
	switch tw.state {
	case statePausedBlocked:
		tw.state = stateBlocked
		return
	case statePaused:
	default:
		return
	}

	tw.state = stateWaiting
	s.applyMisfire(tw, after)
	if tw.state == stateWaiting && tw.trigger.NextFireTime() != nil {
		s.insertTimeTrigger(tw)
	}
}

// ResumeTriggers resumes every trigger whose group matches and forgets the
// matched pause records. Returns the groups that were resumed.
func (s *RAMJobStore) ResumeTriggers(matcher domain.GroupMatcher) []string {
	var after []func()
	defer func() { dispatch(after) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	groups := s.matchedTriggerGroups(matcher)
	for _, group := range groups {
		delete(s.pausedTriggerGroups, group)
		for key := range s.triggersByGroup[group] {
			s.resumeTriggerWrapper(s.triggersByKey[key], &after)
		}
	}
	return groups
}

// ResumeJob resumes every trigger of a job.
func (s *RAMJobStore) ResumeJob(key domain.JobKey) {
	var after []func()
	defer func() { dispatch(after) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tw := range s.triggersOfJob(key) {
		s.resumeTriggerWrapper(tw, &after)
	}
}

// ResumeJobs resumes every trigger of every job whose group matches and
// forgets the matched pause records. Returns the groups that were resumed.
func (s *RAMJobStore) ResumeJobs(matcher domain.GroupMatcher) []string {
	var after []func()
	defer func() { dispatch(after) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	groups := s.matchedJobGroups(matcher)
	for _, group := range groups {
		delete(s.pausedJobGroups, group)
		for jobKey := range s.jobsByGroup[group] {
			for _, tw := range s.triggersOfJob(jobKey) {
				s.resumeTriggerWrapper(tw, &after)
			}
		}
	}
	return groups
}

// PauseAll pauses every trigger group.
func (s *RAMJobStore) PauseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for group := range s.triggersByGroup {
		s.pausedTriggerGroups[group] = struct{}{}
		for key := range s.triggersByGroup[group] {
			s.pauseTriggerWrapper(s.triggersByKey[key])
		}
	}
}

// ResumeAll resumes every trigger group and clears all pause records.
func (s *RAMJobStore) ResumeAll() {
	var after []func()
	defer func() { dispatch(after) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pausedTriggerGroups = make(map[string]struct{})
	s.pausedJobGroups = make(map[string]struct{})
	for _, tw := range s.triggersByKey {
		s.resumeTriggerWrapper(tw, &after)
	}
}

// GetPausedTriggerGroups returns the paused trigger groups sorted.
func (s *RAMJobStore) GetPausedTriggerGroups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := make([]string, 0, len(s.pausedTriggerGroups))
	for group := range s.pausedTriggerGroups {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	return groups
}

// GetPausedJobGroups returns the paused job groups sorted.
func (s *RAMJobStore) GetPausedJobGroups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := make([]string, 0, len(s.pausedJobGroups))
	for group := range s.pausedJobGroups {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	return groups
}
