package scheduler

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/logger"
)

// ErrJobTypeNotRegistered is returned when a fired job's type has no
// registered constructor.
var ErrJobTypeNotRegistered = errors.New("job type not registered")

// JobFactory produces the job instance for one fire. A fresh instance is
// created per execution so job structs may carry per-fire state.
type JobFactory interface {
	// NewJob builds the job for the fired bundle. schedulerCtx is the
	// scheduler-wide context data map.
	NewJob(bundle *domain.TriggerFiredBundle, schedulerCtx domain.JobDataMap) (domain.Job, error)
}

// SimpleJobFactory resolves job types through a constructor registry.
type SimpleJobFactory struct {
	mu    sync.RWMutex
	ctors map[string]func() domain.Job
}

// NewSimpleJobFactory creates an empty job factory registry.
func NewSimpleJobFactory() *SimpleJobFactory {
	return &SimpleJobFactory{ctors: make(map[string]func() domain.Job)}
}

// Register binds a job type identifier to a constructor. Registering an
// existing type replaces the previous constructor.
func (f *SimpleJobFactory) Register(jobType string, ctor func() domain.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[jobType] = ctor
}

// RegisterFunc binds a job type identifier to a plain function.
func (f *SimpleJobFactory) RegisterFunc(jobType string, fn domain.JobFunc) {
	f.Register(jobType, func() domain.Job { return fn })
}

// RegisteredTypes returns the registered job type identifiers.
func (f *SimpleJobFactory) RegisteredTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.ctors))
	for t := range f.ctors {
		out = append(out, t)
	}
	return out
}

// NewJob builds a fresh job instance for the bundle's job type.
func (f *SimpleJobFactory) NewJob(bundle *domain.TriggerFiredBundle, _ domain.JobDataMap) (domain.Job, error) {
	f.mu.RLock()
	ctor, ok := f.ctors[bundle.JobDetail.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrJobTypeNotRegistered, bundle.JobDetail.Type)
	}
	return ctor(), nil
}

// PropertySettingJobFactory wraps a registry factory and, after
// construction, copies merged data map entries onto matching exported
// struct fields of the job instance. Entries are merged scheduler context
// first, then job detail data, then trigger data, later sources winning.
type PropertySettingJobFactory struct {
	*SimpleJobFactory

	// WarnIfNotFound logs entries with no matching settable field.
	WarnIfNotFound bool
	// ThrowIfNotFound fails job creation for entries with no matching
	// settable field.
	ThrowIfNotFound bool

	log logger.Logger
}

// NewPropertySettingJobFactory creates a property-setting factory with an
// empty registry.
func NewPropertySettingJobFactory(log logger.Logger) *PropertySettingJobFactory {
	if log == nil {
		log = logger.NewNop()
	}
	return &PropertySettingJobFactory{
		SimpleJobFactory: NewSimpleJobFactory(),
		log:              log,
	}
}

// NewJob builds the job instance and applies data map properties to it.
func (f *PropertySettingJobFactory) NewJob(bundle *domain.TriggerFiredBundle, schedulerCtx domain.JobDataMap) (domain.Job, error) {
	job, err := f.SimpleJobFactory.NewJob(bundle, schedulerCtx)
	if err != nil {
		return nil, err
	}

	merged := domain.NewJobDataMap()
	merged.Merge(schedulerCtx)
	merged.Merge(bundle.JobDetail.JobData)
	merged.Merge(bundle.Trigger.JobData())

	if err := f.setProperties(job, merged); err != nil {
		return nil, fmt.Errorf("set properties on job %s: %w", bundle.JobDetail.Key, err)
	}
	return job, nil
}

// setProperties assigns each data map entry to the exported field whose
// name matches the key case-insensitively. Jobs that are not pointers to
// structs are returned untouched.
func (f *PropertySettingJobFactory) setProperties(job domain.Job, data domain.JobDataMap) error {
	v := reflect.ValueOf(job)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil
	}
	elem := v.Elem()
	typ := elem.Type()

	for key, val := range data {
		field, ok := findField(typ, key)
		if !ok {
			if f.ThrowIfNotFound {
				return fmt.Errorf("no settable field for data map key %q on %s", key, typ)
			}
			if f.WarnIfNotFound {
				f.log.Warn("no settable field for data map key",
					logger.String("key", key), logger.String("job_type", typ.String()))
			}
			continue
		}
		fv := elem.FieldByIndex(field.Index)
		if err := assignValue(fv, val); err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
	}
	return nil
}

func findField(typ reflect.Type, key string) (reflect.StructField, bool) {
	if field, ok := typ.FieldByName(key); ok && field.IsExported() {
		return field, true
	}
	field, ok := typ.FieldByNameFunc(func(name string) bool {
		return strings.EqualFold(name, key)
	})
	if !ok || !field.IsExported() {
		return reflect.StructField{}, false
	}
	return field, true
}

// assignValue coerces val into the field. String values holding canonical
// decimal numerics and the booleans "true"/"false" (case-insensitive) are
// parsed; single-character strings fill rune fields. A nil value on a
// non-nilable field is an error.
func assignValue(field reflect.Value, val any) error {
	if val == nil {
		switch field.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan:
			field.Set(reflect.Zero(field.Type()))
			return nil
		default:
			return fmt.Errorf("cannot assign null to %s field", field.Kind())
		}
	}

	vv := reflect.ValueOf(val)
	if vv.Type().AssignableTo(field.Type()) {
		field.Set(vv)
		return nil
	}
	if vv.Type().ConvertibleTo(field.Type()) && compatibleKinds(vv.Kind(), field.Kind()) {
		field.Set(vv.Convert(field.Type()))
		return nil
	}

	if s, ok := val.(string); ok {
		return assignFromString(field, s)
	}
	return fmt.Errorf("cannot assign %T to %s field", val, field.Kind())
}

// compatibleKinds limits reflect conversion to numeric widening so string
// fields do not absorb integers via rune conversion.
func compatibleKinds(from, to reflect.Kind) bool {
	return isNumericKind(from) && isNumericKind(to)
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func assignFromString(field reflect.Value, s string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Bool:
		switch strings.ToLower(s) {
		case "true":
			field.SetBool(true)
		case "false":
			field.SetBool(false)
		default:
			return fmt.Errorf("cannot parse %q as bool", s)
		}
	case reflect.Int32:
		// int32 doubles as rune; a single-character string fills it.
		if utf8.RuneCountInString(s) == 1 {
			r, _ := utf8.DecodeRuneInString(s)
			field.SetInt(int64(r))
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return fmt.Errorf("cannot parse %q as int32", s)
		}
		field.SetInt(n)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse %q as %s", s, field.Kind())
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse %q as %s", s, field.Kind())
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(s, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse %q as %s", s, field.Kind())
		}
		field.SetFloat(n)
	default:
		return fmt.Errorf("cannot assign string to %s field", field.Kind())
	}
	return nil
}
