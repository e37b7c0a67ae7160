// Package domain provides the scheduling data model shared across the
// scheduler, the job store, and the trigger implementations.
package domain

import "fmt"

// DefaultGroup is the group applied to any key created without one.
const DefaultGroup = "DEFAULT"

// JobKey uniquely identifies a job by (group, name).
// Equality is by both components.
type JobKey struct {
	Group string `json:"group"`
	Name  string `json:"name"`
}

// NewJobKey creates a JobKey in the default group.
func NewJobKey(name string) JobKey {
	return JobKey{Group: DefaultGroup, Name: name}
}

// NewJobKeyWithGroup creates a JobKey with an explicit group.
// An empty group falls back to DefaultGroup.
func NewJobKeyWithGroup(group, name string) JobKey {
	if group == "" {
		group = DefaultGroup
	}
	return JobKey{Group: group, Name: name}
}

// String returns the canonical "group.name" form.
func (k JobKey) String() string {
	return fmt.Sprintf("%s.%s", k.Group, k.Name)
}

// IsZero reports whether the key is unset.
func (k JobKey) IsZero() bool {
	return k.Group == "" && k.Name == ""
}

// Validate checks that both components are non-empty.
func (k JobKey) Validate() error {
	if k.Name == "" {
		return fmt.Errorf("%w: job name is empty", ErrInvalidKey)
	}
	if k.Group == "" {
		return fmt.Errorf("%w: job group is empty", ErrInvalidKey)
	}
	return nil
}

// TriggerKey uniquely identifies a trigger by (group, name).
// Equality is by both components.
type TriggerKey struct {
	Group string `json:"group"`
	Name  string `json:"name"`
}

// NewTriggerKey creates a TriggerKey in the default group.
func NewTriggerKey(name string) TriggerKey {
	return TriggerKey{Group: DefaultGroup, Name: name}
}

// NewTriggerKeyWithGroup creates a TriggerKey with an explicit group.
// An empty group falls back to DefaultGroup.
func NewTriggerKeyWithGroup(group, name string) TriggerKey {
	if group == "" {
		group = DefaultGroup
	}
	return TriggerKey{Group: group, Name: name}
}

// String returns the canonical "group.name" form.
func (k TriggerKey) String() string {
	return fmt.Sprintf("%s.%s", k.Group, k.Name)
}

// IsZero reports whether the key is unset.
func (k TriggerKey) IsZero() bool {
	return k.Group == "" && k.Name == ""
}

// Validate checks that both components are non-empty.
func (k TriggerKey) Validate() error {
	if k.Name == "" {
		return fmt.Errorf("%w: trigger name is empty", ErrInvalidKey)
	}
	if k.Group == "" {
		return fmt.Errorf("%w: trigger group is empty", ErrInvalidKey)
	}
	return nil
}

// Less provides a total order over trigger keys (group first, then name).
// Used as the final tiebreaker in the time-ordered trigger index.
func (k TriggerKey) Less(other TriggerKey) bool {
	if k.Group != other.Group {
		return k.Group < other.Group
	}
	return k.Name < other.Name
}
