package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storyweave/storyweave/pkg/models"
)

// UserStore reads the user slice the gating layers need.
type UserStore struct {
	pool *pgxpool.Pool
}

// Get fetches a user by id.
func (s *UserStore) Get(ctx context.Context, userID string) (*models.User, error) {
	var (
		user        models.User
		parentPhone *string
		profile     []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, age, parent_phone, test_mode_authorized, smart_home_connected,
		       subscription_tier, stories_this_month, first_time_creator, profile
		FROM users WHERE id = $1`, userID,
	).Scan(&user.ID, &user.Age, &parentPhone, &user.TestModeAuthorized,
		&user.SmartHomeConnected, &user.Tier, &user.StoriesThisMonth,
		&user.FirstTimeCreator, &profile)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	if parentPhone != nil {
		user.ParentPhone = *parentPhone
	}
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &user.Profile); err != nil {
			return nil, fmt.Errorf("failed to decode profile for user %s: %w", userID, err)
		}
	}
	return &user, nil
}

// Upsert writes a user row, used by webhook account linking and tests.
func (s *UserStore) Upsert(ctx context.Context, user *models.User) error {
	profile, err := json.Marshal(user.Profile)
	if err != nil {
		return fmt.Errorf("failed to marshal user profile: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO users (id, age, parent_phone, test_mode_authorized,
		                   smart_home_connected, subscription_tier,
		                   stories_this_month, first_time_creator, profile)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			age = EXCLUDED.age,
			parent_phone = EXCLUDED.parent_phone,
			test_mode_authorized = EXCLUDED.test_mode_authorized,
			smart_home_connected = EXCLUDED.smart_home_connected,
			subscription_tier = EXCLUDED.subscription_tier,
			stories_this_month = EXCLUDED.stories_this_month,
			first_time_creator = EXCLUDED.first_time_creator,
			profile = EXCLUDED.profile,
			updated_at = now()`,
		user.ID, user.Age, user.ParentPhone, user.TestModeAuthorized,
		user.SmartHomeConnected, user.Tier, user.StoriesThisMonth,
		user.FirstTimeCreator, profile)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
	}
	return nil
}

// IncrementStoryCount bumps the monthly usage counter inside q, clearing the
// first-time-creator flag on the way.
func (s *UserStore) IncrementStoryCount(ctx context.Context, q Querier, userID string) error {
	tag, err := q.Exec(ctx, `
		UPDATE users
		SET stories_this_month = stories_this_month + 1,
		    first_time_creator = FALSE,
		    updated_at = now()
		WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to increment story count for user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSmartHomeConnected flips the smart-home flag, driven by webhook events.
func (s *UserStore) SetSmartHomeConnected(ctx context.Context, userID string, connected bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET smart_home_connected = $2, updated_at = now() WHERE id = $1`,
		userID, connected)
	if err != nil {
		return fmt.Errorf("failed to set smart home flag for user %s: %w", userID, err)
	}
	return nil
}
