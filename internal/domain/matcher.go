package domain

import "strings"

// MatchOperator is the comparison applied by a GroupMatcher.
type MatchOperator string

const (
	// MatchEquals matches groups equal to the value.
	MatchEquals MatchOperator = "equals"
	// MatchStartsWith matches groups with the value as prefix.
	MatchStartsWith MatchOperator = "starts_with"
	// MatchEndsWith matches groups with the value as suffix.
	MatchEndsWith MatchOperator = "ends_with"
	// MatchContains matches groups containing the value.
	MatchContains MatchOperator = "contains"
	// MatchAnything matches every group.
	MatchAnything MatchOperator = "anything"
)

// GroupMatcher is a predicate over the group component of job and trigger
// keys, used by the bulk pause/resume and enumeration operations.
type GroupMatcher struct {
	Operator MatchOperator
	Value    string
}

// GroupEquals matches a single group by equality.
func GroupEquals(group string) GroupMatcher {
	return GroupMatcher{Operator: MatchEquals, Value: group}
}

// GroupStartsWith matches groups by prefix.
func GroupStartsWith(prefix string) GroupMatcher {
	return GroupMatcher{Operator: MatchStartsWith, Value: prefix}
}

// GroupEndsWith matches groups by suffix.
func GroupEndsWith(suffix string) GroupMatcher {
	return GroupMatcher{Operator: MatchEndsWith, Value: suffix}
}

// GroupContains matches groups by substring.
func GroupContains(substring string) GroupMatcher {
	return GroupMatcher{Operator: MatchContains, Value: substring}
}

// AnyGroup matches every group.
func AnyGroup() GroupMatcher {
	return GroupMatcher{Operator: MatchAnything}
}

// Matches reports whether the matcher accepts the group.
func (m GroupMatcher) Matches(group string) bool {
	switch m.Operator {
	case MatchEquals:
		return group == m.Value
	case MatchStartsWith:
		return strings.HasPrefix(group, m.Value)
	case MatchEndsWith:
		return strings.HasSuffix(group, m.Value)
	case MatchContains:
		return strings.Contains(group, m.Value)
	case MatchAnything:
		return true
	default:
		return false
	}
}
