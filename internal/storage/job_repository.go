package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	apperrors "github.com/token-indexer/internal/errors"
	"github.com/token-indexer/internal/models"
	"github.com/token-indexer/internal/types"
)

// JobRepository handles indexing job persistence
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

// Create creates a new indexing job record
func (r *JobRepository) Create(ctx context.Context, job *models.IndexingJob) error {
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal job config: %w", err)
	}

	query := `
		INSERT INTO indexing_jobs (
			job_id, query_text, config, status, progress, records_processed,
			error, user_id, created_at, updated_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.Pool().Exec(ctx, query,
		job.JobID,
		job.QueryText,
		configJSON,
		job.Status,
		job.Progress,
		job.RecordsProcessed,
		job.Error,
		job.UserID,
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create indexing job: %w", err)
	}

	return nil
}

// GetByID retrieves an indexing job by ID
func (r *JobRepository) GetByID(ctx context.Context, jobID string) (*models.IndexingJob, error) {
	query := `
		SELECT job_id, query_text, config, status, progress, records_processed,
			   error, user_id, created_at, updated_at, completed_at
		FROM indexing_jobs
		WHERE job_id = $1
	`

	var job models.IndexingJob
	var configJSON []byte

	err := r.db.Pool().QueryRow(ctx, query, jobID).Scan(
		&job.JobID,
		&job.QueryText,
		&configJSON,
		&job.Status,
		&job.Progress,
		&job.RecordsProcessed,
		&job.Error,
		&job.UserID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("indexing job", jobID)
		}
		return nil, fmt.Errorf("failed to get indexing job: %w", err)
	}

	if err := json.Unmarshal(configJSON, &job.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job config: %w", err)
	}

	return &job, nil
}

// UpdateProgress persists a progress update for an active job. Progress is
// clamped server-side with GREATEST so concurrent writers can never move it
// backwards, and the status guard keeps terminal jobs immutable.
func (r *JobRepository) UpdateProgress(ctx context.Context, jobID string, progress int, recordsProcessed int64) error {
	query := `
		UPDATE indexing_jobs
		SET progress = GREATEST(progress, $2),
			records_processed = $3,
			updated_at = $4
		WHERE job_id = $1 AND status = 'active'
	`

	result, err := r.db.Pool().Exec(ctx, query, jobID, progress, recordsProcessed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("active indexing job", jobID)
	}

	return nil
}

// MarkTerminal transitions a job into a terminal state. completed_at is set
// exactly once: the status guard rejects a second terminal write.
func (r *JobRepository) MarkTerminal(ctx context.Context, jobID string, status types.JobStatus, progress int, recordsProcessed int64, errMsg *string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}

	query := `
		UPDATE indexing_jobs
		SET status = $2,
			progress = GREATEST(progress, $3),
			records_processed = $4,
			error = $5,
			updated_at = $6,
			completed_at = $6
		WHERE job_id = $1 AND status NOT IN ('completed', 'error')
	`

	now := time.Now().UTC()
	result, err := r.db.Pool().Exec(ctx, query, jobID, status, progress, recordsProcessed, errMsg, now)
	if err != nil {
		return fmt.Errorf("failed to mark job terminal: %w", err)
	}

	if result.RowsAffected() == 0 {
		current, getErr := r.GetByID(ctx, jobID)
		if getErr != nil {
			return getErr
		}
		return apperrors.NewInvalidTransitionError(jobID, current.Status, status)
	}

	return nil
}

// ListRecent retrieves the most recently created jobs
func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]*models.IndexingJob, error) {
	query := `
		SELECT job_id, query_text, config, status, progress, records_processed,
			   error, user_id, created_at, updated_at, completed_at
		FROM indexing_jobs
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.IndexingJob
	for rows.Next() {
		var job models.IndexingJob
		var configJSON []byte

		err := rows.Scan(
			&job.JobID,
			&job.QueryText,
			&configJSON,
			&job.Status,
			&job.Progress,
			&job.RecordsProcessed,
			&job.Error,
			&job.UserID,
			&job.CreatedAt,
			&job.UpdatedAt,
			&job.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan indexing job: %w", err)
		}

		if err := json.Unmarshal(configJSON, &job.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job config: %w", err)
		}

		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating indexing jobs: %w", err)
	}

	return jobs, nil
}
