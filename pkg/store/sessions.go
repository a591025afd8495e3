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

// SessionStore holds the durable copies of conversation contexts. Rows are
// written once a session reaches a significant phase; the cache remains the
// authoritative live copy.
type SessionStore struct {
	pool *pgxpool.Pool
}

// Upsert writes the durable session row derived from a conversation context.
func (s *SessionStore) Upsert(ctx context.Context, cc *models.ConversationContext) error {
	chain, err := json.Marshal(cc.SessionChain)
	if err != nil {
		return fmt.Errorf("failed to marshal session chain: %w", err)
	}
	devices, err := json.Marshal(cc.DeviceHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal device history: %w", err)
	}
	storyState, err := json.Marshal(cc.StoryState)
	if err != nil {
		return fmt.Errorf("failed to marshal story state: %w", err)
	}
	var interruption []byte
	if cc.Interruption != nil {
		interruption, err = json.Marshal(cc.Interruption)
		if err != nil {
			return fmt.Errorf("failed to marshal interruption state: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversation_sessions
			(session_id, user_id, parent_session_id, conversation_phase,
			 story_id, character_id, story_type, session_chain, device_history,
			 story_state, interruption_state, created_at, updated_at, expires_at)
		VALUES ($1, $2, NULLIF($3, ''), $4,
		        NULLIF($5, '')::uuid, NULLIF($6, '')::uuid, NULLIF($7, ''), $8, $9,
		        $10, $11, $12, now(), $13)
		ON CONFLICT (session_id) DO UPDATE SET
			conversation_phase = EXCLUDED.conversation_phase,
			story_id = EXCLUDED.story_id,
			character_id = EXCLUDED.character_id,
			story_type = EXCLUDED.story_type,
			session_chain = EXCLUDED.session_chain,
			device_history = EXCLUDED.device_history,
			story_state = EXCLUDED.story_state,
			interruption_state = EXCLUDED.interruption_state,
			updated_at = now(),
			expires_at = EXCLUDED.expires_at`,
		cc.SessionID, cc.UserID, cc.ParentSessionID, cc.ConversationPhase,
		cc.CurrentStoryID, cc.CurrentCharacterID, string(cc.StoryType), chain, devices,
		storyState, interruption, cc.CreatedAt, cc.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", cc.SessionID, err)
	}
	return nil
}

// Get fetches the durable session row, rehydrated into a conversation
// context. Conversation history is cache-only and comes back empty.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.ConversationContext, error) {
	var (
		cc           models.ConversationContext
		parent       *string
		storyID      *string
		characterID  *string
		storyType    *string
		chain        []byte
		devices      []byte
		storyState   []byte
		interruption []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, parent_session_id, conversation_phase,
		       story_id::text, character_id::text, story_type, session_chain,
		       device_history, story_state, interruption_state,
		       created_at, updated_at, COALESCE(expires_at, 'epoch'::timestamptz)
		FROM conversation_sessions WHERE session_id = $1`, sessionID,
	).Scan(&cc.SessionID, &cc.UserID, &parent, &cc.ConversationPhase,
		&storyID, &characterID, &storyType, &chain,
		&devices, &storyState, &interruption,
		&cc.CreatedAt, &cc.UpdatedAt, &cc.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}

	if parent != nil {
		cc.ParentSessionID = *parent
	}
	if storyID != nil {
		cc.CurrentStoryID = *storyID
	}
	if characterID != nil {
		cc.CurrentCharacterID = *characterID
	}
	if storyType != nil {
		cc.StoryType = models.StoryType(*storyType)
	}
	if len(chain) > 0 {
		if err := json.Unmarshal(chain, &cc.SessionChain); err != nil {
			return nil, fmt.Errorf("failed to decode session chain: %w", err)
		}
	}
	if len(devices) > 0 {
		if err := json.Unmarshal(devices, &cc.DeviceHistory); err != nil {
			return nil, fmt.Errorf("failed to decode device history: %w", err)
		}
	}
	if len(storyState) > 0 {
		if err := json.Unmarshal(storyState, &cc.StoryState); err != nil {
			return nil, fmt.Errorf("failed to decode story state: %w", err)
		}
	}
	if len(interruption) > 0 {
		var is models.InterruptionState
		if err := json.Unmarshal(interruption, &is); err != nil {
			return nil, fmt.Errorf("failed to decode interruption state: %w", err)
		}
		cc.Interruption = &is
	}
	return &cc, nil
}

// LatestForUser returns the user's most recently updated durable session,
// or ErrNotFound.
func (s *SessionStore) LatestForUser(ctx context.Context, userID string) (*models.ConversationContext, error) {
	var sessionID string
	err := s.pool.QueryRow(ctx, `
		SELECT session_id FROM conversation_sessions
		WHERE user_id = $1 ORDER BY updated_at DESC LIMIT 1`, userID,
	).Scan(&sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest session for user %s: %w", userID, err)
	}
	return s.Get(ctx, sessionID)
}

// DeleteExpired removes up to limit rows whose expires_at has passed.
// Returns the number removed.
func (s *SessionStore) DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM conversation_sessions
		WHERE session_id IN (
			SELECT session_id FROM conversation_sessions
			WHERE expires_at IS NOT NULL AND expires_at < $1
			LIMIT $2
		)`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
