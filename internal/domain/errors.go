package domain

import "errors"

var (
	// ErrInvalidKey is returned when a job or trigger key has an empty
	// component.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidJobDetail is returned when a job descriptor fails
	// validation.
	ErrInvalidJobDetail = errors.New("invalid job detail")

	// ErrInvalidTrigger is returned when a trigger fails validation.
	ErrInvalidTrigger = errors.New("invalid trigger")

	// ErrObjectAlreadyExists is returned by storeX(replace=false) when the
	// key is taken. No state changes.
	ErrObjectAlreadyExists = errors.New("object already exists")

	// ErrJobNotFound is returned when a referenced job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrTriggerNotFound is returned when a referenced trigger does not
	// exist.
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrCalendarNotFound is returned when a referenced calendar does not
	// exist.
	ErrCalendarNotFound = errors.New("calendar not found")

	// ErrCalendarInUse is returned when removing a calendar still
	// referenced by a trigger.
	ErrCalendarInUse = errors.New("calendar referenced by triggers")

	// ErrSchedulerShutdown is returned by operations on a scheduler that
	// has been shut down.
	ErrSchedulerShutdown = errors.New("scheduler has been shut down")
)
