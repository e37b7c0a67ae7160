// Package worker provides the bounded pool of goroutines that execute
// scheduled jobs.
package worker

import (
	"errors"
	"time"
)

const (
	// DefaultPoolSize is the default number of concurrent executions.
	DefaultPoolSize = 10

	// DefaultDrainTimeout is the default limit on waiting for in-flight
	// executions during a graceful shutdown.
	DefaultDrainTimeout = 30 * time.Second

	// MinPoolSize is the minimum allowed pool size.
	MinPoolSize = 1

	// MaxPoolSize is the maximum allowed pool size.
	MaxPoolSize = 500
)

// Config holds configuration for the worker pool.
type Config struct {
	// PoolSize is the number of concurrent executions allowed.
	PoolSize int `mapstructure:"pool_size" yaml:"pool_size"`

	// DrainTimeout is the maximum time to wait for in-flight executions
	// during a graceful shutdown.
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:     DefaultPoolSize,
		DrainTimeout: DefaultDrainTimeout,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.PoolSize < MinPoolSize {
		return errors.New("pool size must be at least 1")
	}
	if c.PoolSize > MaxPoolSize {
		return errors.New("pool size cannot exceed 500")
	}
	if c.DrainTimeout <= 0 {
		return errors.New("drain timeout must be positive")
	}
	return nil
}

// WithPoolSize sets the pool size.
func (c *Config) WithPoolSize(size int) *Config {
	c.PoolSize = size
	return c
}

// WithDrainTimeout sets the drain timeout.
func (c *Config) WithDrainTimeout(timeout time.Duration) *Config {
	c.DrainTimeout = timeout
	return c
}
