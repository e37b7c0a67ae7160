package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/goquartz/internal/domain"
)

// ErrRecordNotFound is returned when no history row matches.
var ErrRecordNotFound = errors.New("execution record not found")

// DefaultListLimit bounds List queries with no explicit limit.
const DefaultListLimit = 100

// Recorder is the write side of the history log. The listener depends on
// this interface so tests can stub the database away.
type Recorder interface {
	// RecordFired inserts the row for a fire.
	RecordFired(ctx context.Context, rec *domain.ExecutionRecord) error
	// RecordOutcome finishes the row identified by fire instance id.
	RecordOutcome(ctx context.Context, fireInstanceID, status string, completedAt time.Time, durationMs int64, errorMessage *string) error
}

// Repository reads and writes execution history rows.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a history repository over db.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// RecordFired inserts a new execution record.
func (r *Repository) RecordFired(ctx context.Context, rec *domain.ExecutionRecord) error {
	query := `
		INSERT INTO job_execution_history (
			id, job_group, job_name, trigger_group, trigger_name,
			fire_instance_id, status, scheduled_at, fired_at, metadata
		)
		VALUES (:id, :job_group, :job_name, :trigger_group, :trigger_name,
			:fire_instance_id, :status, :scheduled_at, :fired_at, :metadata)
	`

	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to record fired execution: %w", err)
	}
	return nil
}

// RecordOutcome updates the row for the fire with its final status.
func (r *Repository) RecordOutcome(ctx context.Context, fireInstanceID, status string, completedAt time.Time, durationMs int64, errorMessage *string) error {
	query := `
		UPDATE job_execution_history
		SET status = $1,
		    completed_at = $2,
		    duration_ms = $3,
		    error_message = $4
		WHERE fire_instance_id = $5
	`

	result, err := r.db.ExecContext(ctx, query, status, completedAt, durationMs, errorMessage, fireInstanceID)
	if err != nil {
		return fmt.Errorf("failed to record execution outcome: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: fire instance %s", ErrRecordNotFound, fireInstanceID)
	}
	return nil
}

// GetByFireInstanceID retrieves one execution record.
func (r *Repository) GetByFireInstanceID(ctx context.Context, fireInstanceID string) (*domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	query := `
		SELECT id, job_group, job_name, trigger_group, trigger_name,
		       fire_instance_id, status, scheduled_at, fired_at,
		       completed_at, duration_ms, error_message, metadata
		FROM job_execution_history
		WHERE fire_instance_id = $1
	`

	err := r.db.GetContext(ctx, &rec, query, fireInstanceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: fire instance %s", ErrRecordNotFound, fireInstanceID)
		}
		return nil, fmt.Errorf("failed to get execution record: %w", err)
	}
	return &rec, nil
}

// ListFilter narrows List queries. Zero values mean no constraint.
type ListFilter struct {
	JobGroup string
	JobName  string
	Status   string
	Since    *time.Time
	Limit    int
}

// List returns execution records newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*domain.ExecutionRecord, error) {
	query := `
		SELECT id, job_group, job_name, trigger_group, trigger_name,
		       fire_instance_id, status, scheduled_at, fired_at,
		       completed_at, duration_ms, error_message, metadata
		FROM job_execution_history
		WHERE 1=1
	`
	args := []any{}
	n := 0

	add := func(clause string, value any) {
		n++
		query += fmt.Sprintf(" AND %s = $%d", clause, n)
		args = append(args, value)
	}
	if filter.JobGroup != "" {
		add("job_group", filter.JobGroup)
	}
	if filter.JobName != "" {
		add("job_name", filter.JobName)
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}
	if filter.Since != nil {
		n++
		query += fmt.Sprintf(" AND fired_at >= $%d", n)
		args = append(args, *filter.Since)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	n++
	query += fmt.Sprintf(" ORDER BY fired_at DESC LIMIT $%d", n)
	args = append(args, limit)

	var records []*domain.ExecutionRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	return records, nil
}

// DeleteOlderThan removes records fired before the cutoff, returning the
// number deleted. Retention housekeeping.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM job_execution_history WHERE fired_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune execution records: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
