package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storyweave/storyweave/pkg/models"
)

// AssetJobStore manages the per-asset job queue backing story generation.
type AssetJobStore struct {
	pool *pgxpool.Pool
}

// priority is stored as an integer rank so the claim query can order on it.
func rankToPriority(rank int) models.JobPriority {
	switch rank {
	case 2:
		return models.PriorityUrgent
	case 1:
		return models.PriorityHigh
	default:
		return models.PriorityNormal
	}
}

// InsertBatch creates one job row per asset type inside q. Content starts
// generating (the content agent drives it first); everything else queued.
func (s *AssetJobStore) InsertBatch(ctx context.Context, q Querier, storyID string, priority models.JobPriority) error {
	now := time.Now().UTC()
	for _, assetType := range models.RequiredAssets {
		status := models.AssetQueued
		var startedAt *time.Time
		if assetType == models.AssetContent {
			status = models.AssetGenerating
			startedAt = &now
		}
		_, err := q.Exec(ctx, `
			INSERT INTO asset_generation_jobs (story_id, asset_type, status, started_at, priority)
			VALUES ($1, $2, $3, $4, $5)`,
			storyID, assetType, status, startedAt, models.PriorityRank(priority))
		if err != nil {
			return fmt.Errorf("failed to insert asset job %s for story %s: %w", assetType, storyID, err)
		}
	}
	return nil
}

// ClaimQueued atomically leases up to limit queued jobs, ordered by priority
// then age. Claimed rows transition to generating with started_at stamped;
// SKIP LOCKED keeps concurrent workers from double-claiming.
func (s *AssetJobStore) ClaimQueued(ctx context.Context, limit int) ([]models.AssetJob, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE asset_generation_jobs
		SET status = 'generating', started_at = now()
		WHERE id IN (
			SELECT id FROM asset_generation_jobs
			WHERE status = 'queued'
			ORDER BY priority DESC, created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, story_id, asset_type, status, started_at, completed_at,
		          retry_count, priority, COALESCE(error_message, ''), created_at`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim queued asset jobs: %w", err)
	}
	defer rows.Close()
	return scanAssetJobs(rows)
}

// Get fetches one asset job.
func (s *AssetJobStore) Get(ctx context.Context, id string) (*models.AssetJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, story_id, asset_type, status, started_at, completed_at,
		       retry_count, priority, COALESCE(error_message, ''), created_at
		FROM asset_generation_jobs WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get asset job %s: %w", id, err)
	}
	defer rows.Close()
	jobs, err := scanAssetJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return &jobs[0], nil
}

// ListByStory returns all asset jobs for a story.
func (s *AssetJobStore) ListByStory(ctx context.Context, storyID string) ([]models.AssetJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, story_id, asset_type, status, started_at, completed_at,
		       retry_count, priority, COALESCE(error_message, ''), created_at
		FROM asset_generation_jobs WHERE story_id = $1
		ORDER BY created_at ASC`, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list asset jobs for story %s: %w", storyID, err)
	}
	defer rows.Close()
	return scanAssetJobs(rows)
}

// Complete marks a job ready or failed inside q. The status predicate makes
// the transition a CAS: a row that reached a terminal state first, via a
// concurrent callback or sweep, is never rewritten, and the caller gets
// ErrTerminal instead.
func (s *AssetJobStore) Complete(ctx context.Context, q Querier, id string, status models.AssetJobStatus, errMsg string) error {
	if status != models.AssetReady && status != models.AssetFailed {
		return fmt.Errorf("complete requires a terminal status, got %q", status)
	}
	tag, err := q.Exec(ctx, `
		UPDATE asset_generation_jobs
		SET status = $2, completed_at = now(), error_message = NULLIF($3, '')
		WHERE id = $1 AND status NOT IN ('ready', 'failed')`,
		id, status, errMsg)
	if err != nil {
		return fmt.Errorf("failed to complete asset job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM asset_generation_jobs WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check asset job %s: %w", id, err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrTerminal
	}
	return nil
}

// FindStuck returns generating jobs whose started_at is older than the
// threshold. The sweeper fails these inside per-story transactions.
func (s *AssetJobStore) FindStuck(ctx context.Context, q Querier, olderThan time.Time) ([]models.AssetJob, error) {
	rows, err := q.Query(ctx, `
		SELECT id, story_id, asset_type, status, started_at, completed_at,
		       retry_count, priority, COALESCE(error_message, ''), created_at
		FROM asset_generation_jobs
		WHERE status = 'generating' AND started_at < $1
		ORDER BY started_at ASC`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck asset jobs: %w", err)
	}
	defer rows.Close()
	return scanAssetJobs(rows)
}

func scanAssetJobs(rows pgx.Rows) ([]models.AssetJob, error) {
	var jobs []models.AssetJob
	for rows.Next() {
		var (
			job  models.AssetJob
			rank int
		)
		if err := rows.Scan(&job.ID, &job.StoryID, &job.AssetType, &job.Status,
			&job.StartedAt, &job.CompletedAt, &job.RetryCount, &rank,
			&job.ErrorMessage, &job.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset job: %w", err)
		}
		job.Priority = rankToPriority(rank)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return jobs, nil
		}
		return nil, fmt.Errorf("failed to read asset jobs: %w", err)
	}
	return jobs, nil
}
