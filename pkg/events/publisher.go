// Package events emits row-change notifications over PostgreSQL LISTEN/NOTIFY.
// The core does not broker or rebroadcast: it guarantees only that every story
// row update produces a notification on the story's logical topic.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// maxNotifyBytes is Postgres's NOTIFY payload ceiling (8000 bytes). Payloads
// over the limit are replaced with a small envelope telling subscribers to
// refetch the row.
const maxNotifyBytes = 8000

// StoryTopic is the logical topic for one story's row updates.
func StoryTopic(storyID string) string {
	return fmt.Sprintf("stories:id=%s", storyID)
}

// SubscribePattern is the filter clients register against the change stream.
// It is exposed verbatim in async responses.
type SubscribePattern struct {
	Table  string `json:"table"`
	Filter string `json:"filter"`
	Event  string `json:"event"`
}

// StorySubscribePattern builds the UPDATE filter for one story row.
func StorySubscribePattern(storyID string) SubscribePattern {
	return SubscribePattern{
		Table:  "stories",
		Filter: fmt.Sprintf("id=eq.%s", storyID),
		Event:  "UPDATE",
	}
}

// UpdateEvent is the notification payload for a story row update. EventID
// lets subscribers deduplicate redeliveries.
type UpdateEvent struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	StoryID   string         `json:"story_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
}

// Publisher emits update events inside the transaction that performed the
// row change, so a committed update is never silently unannounced.
type Publisher struct {
	logger *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(logger *slog.Logger) *Publisher {
	return &Publisher{logger: logger.With("component", "events.publisher")}
}

// NotifyStoryUpdate issues pg_notify on the story's topic within tx. The
// notification is delivered only if the transaction commits.
func (p *Publisher) NotifyStoryUpdate(ctx context.Context, tx pgx.Tx, storyID string, payload map[string]any) error {
	event := UpdateEvent{
		EventID:   uuid.NewString(),
		Type:      "UPDATE",
		StoryID:   storyID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal update event: %w", err)
	}
	if len(data) > maxNotifyBytes {
		event.Payload = nil
		event.Truncated = true
		data, err = json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal truncated event: %w", err)
		}
		p.logger.Warn("update event payload exceeded notify limit, truncated",
			"story_id", storyID)
	}

	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", StoryTopic(storyID), string(data)); err != nil {
		return fmt.Errorf("failed to notify story update: %w", err)
	}
	return nil
}
