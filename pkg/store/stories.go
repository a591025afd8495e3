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

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: row not found")

// ErrTerminal is returned when a guarded transition targets a row already in
// a terminal state. Callers treat it as a lost race, not a failure.
var ErrTerminal = errors.New("store: row already terminal")

// StoryStore persists story rows and their asset generation blobs.
type StoryStore struct {
	pool *pgxpool.Pool
}

// Insert creates a story row inside q (pool or caller's transaction).
func (s *StoryStore) Insert(ctx context.Context, q Querier, story *models.Story) error {
	blob, err := json.Marshal(story.AssetStatus)
	if err != nil {
		return fmt.Errorf("failed to marshal asset status: %w", err)
	}
	err = q.QueryRow(ctx, `
		INSERT INTO stories (creator_user_id, library_id, status, asset_generation_status, asset_generation_started_at)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		story.CreatorUserID, story.LibraryID, story.Status, blob, story.AssetStartedAt,
	).Scan(&story.ID, &story.CreatedAt, &story.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert story: %w", err)
	}
	return nil
}

// Get fetches a story row by id.
func (s *StoryStore) Get(ctx context.Context, id string) (*models.Story, error) {
	return s.get(ctx, s.pool, id, false)
}

// GetForUpdate locks the story row within a caller-owned transaction.
func (s *StoryStore) GetForUpdate(ctx context.Context, q Querier, id string) (*models.Story, error) {
	return s.get(ctx, q, id, true)
}

func (s *StoryStore) get(ctx context.Context, q Querier, id string, lock bool) (*models.Story, error) {
	query := `
		SELECT id, creator_user_id, COALESCE(library_id::text, ''), status,
		       asset_generation_status, asset_generation_started_at,
		       asset_generation_completed_at, created_at, updated_at
		FROM stories WHERE id = $1`
	if lock {
		query += " FOR UPDATE"
	}

	var (
		story models.Story
		blob  []byte
	)
	err := q.QueryRow(ctx, query, id).Scan(
		&story.ID, &story.CreatorUserID, &story.LibraryID, &story.Status,
		&blob, &story.AssetStartedAt, &story.AssetCompletedAt,
		&story.CreatedAt, &story.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get story %s: %w", id, err)
	}
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &story.AssetStatus); err != nil {
			return nil, fmt.Errorf("failed to decode asset status for story %s: %w", id, err)
		}
	}
	return &story, nil
}

// UpdateAssetStatus writes the asset blob back inside q and stamps
// completion when the overall state is terminal. Callers must emit the
// change-stream notification in the same transaction.
func (s *StoryStore) UpdateAssetStatus(ctx context.Context, q Querier, id string, status models.AssetGenerationStatus) error {
	blob, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal asset status: %w", err)
	}

	var completedAt *time.Time
	if status.Overall != models.OverallGenerating {
		now := time.Now().UTC()
		completedAt = &now
	}

	tag, err := q.Exec(ctx, `
		UPDATE stories
		SET asset_generation_status = $2,
		    asset_generation_completed_at = COALESCE(asset_generation_completed_at, $3),
		    updated_at = now()
		WHERE id = $1`,
		id, blob, completedAt)
	if err != nil {
		return fmt.Errorf("failed to update asset status for story %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus updates the story lifecycle status.
func (s *StoryStore) SetStatus(ctx context.Context, q Querier, id string, status models.StoryStatus) error {
	tag, err := q.Exec(ctx,
		`UPDATE stories SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("failed to set status for story %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
