package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storyweave/storyweave/pkg/models"
)

// AsyncJobStore persists the durable handles for long-running requests.
type AsyncJobStore struct {
	pool *pgxpool.Pool
}

// Insert creates the job row inside q.
func (s *AsyncJobStore) Insert(ctx context.Context, q Querier, job *models.AsyncJob) error {
	request, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal job request: %w", err)
	}
	err = q.QueryRow(ctx, `
		INSERT INTO async_jobs (job_id, user_id, session_id, job_type, status, request_data)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		job.JobID, job.UserID, job.SessionID, job.Type, job.Status, request,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert async job %s: %w", job.JobID, err)
	}
	return nil
}

// Get fetches a job by id.
func (s *AsyncJobStore) Get(ctx context.Context, jobID string) (*models.AsyncJob, error) {
	var (
		job     models.AsyncJob
		request []byte
		result  []byte
		errMsg  *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT job_id, user_id, session_id, job_type, status,
		       request_data, result_data, error_message,
		       created_at, updated_at, completed_at
		FROM async_jobs WHERE job_id = $1`, jobID,
	).Scan(&job.JobID, &job.UserID, &job.SessionID, &job.Type, &job.Status,
		&request, &result, &errMsg, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get async job %s: %w", jobID, err)
	}
	if len(request) > 0 {
		if err := json.Unmarshal(request, &job.Request); err != nil {
			return nil, fmt.Errorf("failed to decode request for job %s: %w", jobID, err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result for job %s: %w", jobID, err)
		}
	}
	if errMsg != nil {
		job.Error = *errMsg
	}
	return &job, nil
}

// UpdateStatus transitions a job, idempotently: rows already in a terminal
// state are left untouched and no error is raised.
func (s *AsyncJobStore) UpdateStatus(ctx context.Context, jobID string, status models.AsyncJobStatus, result map[string]any, errMsg string) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal job result: %w", err)
		}
	}

	var completedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE async_jobs
		SET status = $2,
		    result_data = COALESCE($3, result_data),
		    error_message = NULLIF($4, ''),
		    completed_at = COALESCE(completed_at, $5),
		    updated_at = now()
		WHERE job_id = $1 AND status NOT IN ('ready', 'failed')`,
		jobID, status, resultJSON, errMsg, completedAt)
	if err != nil {
		return fmt.Errorf("failed to update async job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either absent or already terminal. Distinguish for the caller.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM async_jobs WHERE job_id = $1)`, jobID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check async job %s: %w", jobID, err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// ListByUser returns a user's recent jobs, newest first.
func (s *AsyncJobStore) ListByUser(ctx context.Context, userID string, limit int) ([]models.AsyncJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, job_type, status, COALESCE(error_message, ''),
		       created_at, updated_at, completed_at
		FROM async_jobs WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs for user %s: %w", userID, err)
	}
	defer rows.Close()

	var jobs []models.AsyncJob
	for rows.Next() {
		var job models.AsyncJob
		job.UserID = userID
		if err := rows.Scan(&job.JobID, &job.Type, &job.Status, &job.Error,
			&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan async job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read async jobs: %w", err)
	}
	return jobs, nil
}
