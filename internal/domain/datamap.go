package domain

import (
	"fmt"
	"strconv"
)

// JobDataMap carries arbitrary string-keyed data attached to a job detail,
// a trigger, or an execution context. Values are plain Go values; nested
// maps and slices are deep-copied by Clone so the store and callers never
// share mutable state.
type JobDataMap map[string]any

// NewJobDataMap creates an empty data map.
func NewJobDataMap() JobDataMap {
	return make(JobDataMap)
}

// Clone returns a deep copy of the map.
func (m JobDataMap) Clone() JobDataMap {
	if m == nil {
		return nil
	}
	out := make(JobDataMap, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies nested maps and slices; scalars are returned as-is.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case JobDataMap:
		return map[string]any(t.Clone())
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}

// Put stores a value under the given key.
func (m JobDataMap) Put(key string, value any) {
	m[key] = value
}

// Merge copies every entry of other into the map, overwriting existing keys.
func (m JobDataMap) Merge(other JobDataMap) {
	for k, v := range other {
		m[k] = cloneValue(v)
	}
}

// GetString returns the string value for key, or "" if absent or not a string.
func (m JobDataMap) GetString(key string) string {
	if v, ok := m[key]; ok {
		if s, sok := v.(string); sok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// GetInt returns the int value for key. String values holding canonical
// decimal integers are parsed; anything else yields 0.
func (m JobDataMap) GetInt(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return 0
}

// GetBool returns the bool value for key. The strings "true"/"false"
// (case-insensitive) are accepted; anything else yields false.
func (m JobDataMap) GetBool(key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return false
}

// Equal reports deep equality of two data maps over scalar, map, and slice
// values.
func (m JobDataMap) Equal(other JobDataMap) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		ov, ok := other[k]
		if !ok || !valuesEqual(v, ov) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok {
			return false
		}
		return JobDataMap(av).Equal(JobDataMap(bv))
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
