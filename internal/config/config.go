// Package config loads the application configuration from YAML files and
// environment variables, including the declarative job, trigger, and
// calendar definitions provisioned at startup.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jonesrussell/goquartz/internal/api"
	"github.com/jonesrussell/goquartz/internal/history"
	"github.com/jonesrussell/goquartz/internal/logger"
	"github.com/jonesrussell/goquartz/internal/scheduler"
	"github.com/jonesrussell/goquartz/internal/worker"
)

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"        yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	Debug       bool   `mapstructure:"debug"       yaml:"debug"`
}

// Config is the root application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"        yaml:"app"`
	Logger     logger.Config    `mapstructure:"logger"     yaml:"logger"`
	Scheduler  scheduler.Config `mapstructure:"scheduler"  yaml:"scheduler"`
	WorkerPool worker.Config    `mapstructure:"workerpool" yaml:"workerpool"`
	Server     api.Config       `mapstructure:"server"     yaml:"server"`
	History    history.Config   `mapstructure:"history"    yaml:"history"`
	Calendars  []CalendarSpec   `mapstructure:"calendars"  yaml:"calendars"`
	Jobs       []JobSpec        `mapstructure:"jobs"       yaml:"jobs"`
}

// Validate validates every section plus the declarative definitions.
func (c *Config) Validate() error {
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.WorkerPool.Validate(); err != nil {
		return fmt.Errorf("workerpool: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	names := make(map[string]bool, len(c.Calendars))
	for i := range c.Calendars {
		cal := &c.Calendars[i]
		if err := cal.Validate(); err != nil {
			return fmt.Errorf("calendar %q: %w", cal.Name, err)
		}
		if names[cal.Name] {
			return fmt.Errorf("calendar %q: duplicate name", cal.Name)
		}
		names[cal.Name] = true
	}
	for i := range c.Jobs {
		job := &c.Jobs[i]
		if err := job.Validate(); err != nil {
			return fmt.Errorf("job %q: %w", job.Name, err)
		}
		for j := range job.Triggers {
			if cal := job.Triggers[j].Calendar; cal != "" && !names[cal] {
				return fmt.Errorf("job %q: trigger %q references unknown calendar %q",
					job.Name, job.Triggers[j].Name, cal)
			}
		}
	}
	return nil
}

// Load reads configuration from the given file path. An empty path falls
// back to config.yml in the working directory and ./config; a missing file
// is not an error, defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.App.Debug {
		cfg.Logger.Level = "debug"
	}
	if cfg.App.Environment == "development" {
		cfg.Logger.Development = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults applies production-safe defaults for every section.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app", map[string]any{
		"name":        "goquartz",
		"environment": "production",
		"debug":       false,
	})

	v.SetDefault("logger", map[string]any{
		"level":        logger.DefaultLevel,
		"development":  false,
		"output_paths": []string{"stdout"},
	})

	v.SetDefault("scheduler", map[string]any{
		"instance_name":     scheduler.DefaultInstanceName,
		"idle_wait_time":    scheduler.DefaultIdleWaitTime.String(),
		"batch_max_size":    scheduler.DefaultBatchMaxSize,
		"batch_time_window": scheduler.DefaultBatchTimeWindow.String(),
		"misfire_threshold": scheduler.DefaultConfig().MisfireThreshold.String(),
	})

	v.SetDefault("workerpool", map[string]any{
		"pool_size":     worker.DefaultPoolSize,
		"drain_timeout": worker.DefaultDrainTimeout.String(),
	})

	v.SetDefault("server", map[string]any{
		"enabled":       true,
		"host":          api.DefaultHost,
		"port":          api.DefaultPort,
		"read_timeout":  api.DefaultReadTimeout.String(),
		"write_timeout": api.DefaultWriteTimeout.String(),
	})

	v.SetDefault("history", map[string]any{
		"enabled": false,
		"host":    "localhost",
		"port":    "5432",
		"user":    "goquartz",
		"dbname":  "goquartz",
		"sslmode": "disable",
	})
}

// bindEnvVars binds well-known environment variables to config keys.
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"app.environment":  {"APP_ENV"},
		"app.debug":        {"APP_DEBUG"},
		"logger.level":     {"LOG_LEVEL"},
		"history.host":     {"GOQUARTZ_DB_HOST"},
		"history.port":     {"GOQUARTZ_DB_PORT"},
		"history.user":     {"GOQUARTZ_DB_USER"},
		"history.password": {"GOQUARTZ_DB_PASSWORD"},
		"history.dbname":   {"GOQUARTZ_DB_NAME"},
		"server.port":      {"GOQUARTZ_SERVER_PORT"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}
