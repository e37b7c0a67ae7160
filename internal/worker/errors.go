package worker

import "errors"

// ErrPoolNotStopped is returned by Start when the pool is already running
// or draining.
var ErrPoolNotStopped = errors.New("worker pool is not stopped")
