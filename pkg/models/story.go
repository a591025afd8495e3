package models

import "time"

// StoryStatus is the lifecycle state of a story row.
type StoryStatus string

const (
	StoryDraft      StoryStatus = "draft"
	StoryGenerating StoryStatus = "generating"
	StoryReady      StoryStatus = "ready"
	StoryArchived   StoryStatus = "archived"
)

// Story is the durable story row. The asset generation blob is updated
// progressively as assets complete; every update emits on the story's
// change-stream topic.
type Story struct {
	ID                string                `json:"id"`
	CreatorUserID     string                `json:"creator_user_id"`
	LibraryID         string                `json:"library_id,omitempty"`
	Status            StoryStatus           `json:"status"`
	AssetStatus       AssetGenerationStatus `json:"asset_generation_status"`
	AssetStartedAt    *time.Time            `json:"asset_generation_started_at,omitempty"`
	AssetCompletedAt  *time.Time            `json:"asset_generation_completed_at,omitempty"`
	HueExtractedColor []string              `json:"hue_extracted_colors,omitempty"`
	AudioWords        []map[string]any      `json:"audio_words,omitempty"`
	AudioBlocks       []map[string]any      `json:"audio_blocks,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}
