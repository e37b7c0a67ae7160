package scheduler

import (
	"fmt"
	"time"

	"github.com/jonesrussell/goquartz/internal/store"
)

const (
	// DefaultInstanceName is used when no instance name is configured.
	DefaultInstanceName = "goquartz"

	// DefaultIdleWaitTime is how long the loop sleeps when no trigger is
	// due.
	DefaultIdleWaitTime = 30 * time.Second

	// DefaultBatchMaxSize is the number of triggers acquired per loop
	// iteration.
	DefaultBatchMaxSize = 1

	// DefaultBatchTimeWindow widens the acquisition window past the first
	// trigger's fire time. Zero keeps batches strictly due-now.
	DefaultBatchTimeWindow = 0 * time.Millisecond

	// MaxBatchMaxSize bounds the batch size.
	MaxBatchMaxSize = 500
)

// Config holds scheduler configuration.
type Config struct {
	// InstanceName names this scheduler in logs and the instance id.
	InstanceName string `mapstructure:"instance_name" yaml:"instance_name"`

	// IdleWaitTime is the maximum sleep between loop iterations.
	IdleWaitTime time.Duration `mapstructure:"idle_wait_time" yaml:"idle_wait_time"`

	// BatchMaxSize caps the triggers acquired per iteration.
	BatchMaxSize int `mapstructure:"batch_max_size" yaml:"batch_max_size"`

	// BatchTimeWindow widens the acquisition window past the earliest
	// acquired fire time.
	BatchTimeWindow time.Duration `mapstructure:"batch_time_window" yaml:"batch_time_window"`

	// MisfireThreshold is how late a trigger may fire before it counts as
	// misfired.
	MisfireThreshold time.Duration `mapstructure:"misfire_threshold" yaml:"misfire_threshold"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		InstanceName:     DefaultInstanceName,
		IdleWaitTime:     DefaultIdleWaitTime,
		BatchMaxSize:     DefaultBatchMaxSize,
		BatchTimeWindow:  DefaultBatchTimeWindow,
		MisfireThreshold: store.DefaultMisfireThreshold,
	}
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	if c.InstanceName == "" {
		return fmt.Errorf("instance_name must not be empty")
	}
	if c.IdleWaitTime <= 0 {
		return fmt.Errorf("idle_wait_time must be positive, got %v", c.IdleWaitTime)
	}
	if c.BatchMaxSize < 1 || c.BatchMaxSize > MaxBatchMaxSize {
		return fmt.Errorf("batch_max_size must be between 1 and %d, got %d", MaxBatchMaxSize, c.BatchMaxSize)
	}
	if c.BatchTimeWindow < 0 {
		return fmt.Errorf("batch_time_window must not be negative, got %v", c.BatchTimeWindow)
	}
	if c.MisfireThreshold < 0 {
		return fmt.Errorf("misfire_threshold must not be negative, got %v", c.MisfireThreshold)
	}
	return nil
}

// WithInstanceName returns a copy with the given instance name.
func (c Config) WithInstanceName(name string) Config {
	c.InstanceName = name
	return c
}

// WithIdleWaitTime returns a copy with the given idle wait time.
func (c Config) WithIdleWaitTime(d time.Duration) Config {
	c.IdleWaitTime = d
	return c
}

// WithBatchMaxSize returns a copy with the given batch size.
func (c Config) WithBatchMaxSize(n int) Config {
	c.BatchMaxSize = n
	return c
}

// WithBatchTimeWindow returns a copy with the given batch window.
func (c Config) WithBatchTimeWindow(d time.Duration) Config {
	c.BatchTimeWindow = d
	return c
}

// WithMisfireThreshold returns a copy with the given misfire threshold.
func (c Config) WithMisfireThreshold(d time.Duration) Config {
	c.MisfireThreshold = d
	return c
}
