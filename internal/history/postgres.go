// Package history persists an append-only execution audit log to
// PostgreSQL. The scheduler never reads it back; it exists for operators
// and the admin API.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	// DefaultMaxOpenConns is the default maximum number of open connections.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections.
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime is the default maximum connection lifetime.
	DefaultConnMaxLifetime = 5 * time.Minute
	// DefaultPingTimeout is the default timeout for ping operations.
	DefaultPingTimeout = 5 * time.Second
)

// Config holds database configuration for the history log.
type Config struct {
	Enabled  bool   `mapstructure:"enabled"  yaml:"enabled"`
	Host     string `mapstructure:"host"     yaml:"host"`
	Port     string `mapstructure:"port"     yaml:"port"`
	User     string `mapstructure:"user"     yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	DBName   string `mapstructure:"dbname"   yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode"  yaml:"sslmode"`
}

// DefaultConfig returns a config pointing at a local database, disabled.
func DefaultConfig() Config {
	return Config{
		Host:    "localhost",
		Port:    "5432",
		User:    "goquartz",
		DBName:  "goquartz",
		SSLMode: "disable",
	}
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("history host must not be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("history port must not be empty")
	}
	if c.DBName == "" {
		return fmt.Errorf("history dbname must not be empty")
	}
	return nil
}

// NewPostgresConnection creates a PostgreSQL connection for the history
// log.
func NewPostgresConnection(cfg Config) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultPingTimeout)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		return nil, fmt.Errorf("failed to ping database: %w", pingErr)
	}

	return db, nil
}

// schema is the history table. EnsureSchema applies it on startup so a
// fresh database works without an external migration step.
const schema = `
CREATE TABLE IF NOT EXISTS job_execution_history (
	id               TEXT PRIMARY KEY,
	job_group        TEXT NOT NULL,
	job_name         TEXT NOT NULL,
	trigger_group    TEXT NOT NULL,
	trigger_name     TEXT NOT NULL,
	fire_instance_id TEXT NOT NULL,
	status           TEXT NOT NULL,
	scheduled_at     TIMESTAMPTZ,
	fired_at         TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ,
	duration_ms      BIGINT,
	error_message    TEXT,
	metadata         JSONB
);

CREATE INDEX IF NOT EXISTS idx_job_execution_history_job
	ON job_execution_history (job_group, job_name, fired_at DESC);

CREATE INDEX IF NOT EXISTS idx_job_execution_history_fire_instance
	ON job_execution_history (fire_instance_id);
`

// EnsureSchema creates the history table and indexes if missing.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply history schema: %w", err)
	}
	return nil
}
