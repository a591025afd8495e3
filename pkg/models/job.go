package models

import "time"

// AsyncJobType distinguishes long-running job families.
type AsyncJobType string

const (
	JobStoryGeneration AsyncJobType = "story_generation"
	JobAssetGeneration AsyncJobType = "asset_generation"
)

// AsyncJobStatus is the lifecycle state of an async job row.
type AsyncJobStatus string

const (
	AsyncJobPending    AsyncJobStatus = "pending"
	AsyncJobQueued     AsyncJobStatus = "queued"
	AsyncJobProcessing AsyncJobStatus = "processing"
	AsyncJobReady      AsyncJobStatus = "ready"
	AsyncJobFailed     AsyncJobStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s AsyncJobStatus) Terminal() bool {
	return s == AsyncJobReady || s == AsyncJobFailed
}

// AsyncJob is the durable handle returned for long-running requests.
type AsyncJob struct {
	JobID       string         `json:"job_id"`
	UserID      string         `json:"user_id"`
	SessionID   string         `json:"session_id"`
	Type        AsyncJobType   `json:"job_type"`
	Status      AsyncJobStatus `json:"status"`
	Request     map[string]any `json:"request,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// AssetType names one deliverable of a story.
type AssetType string

const (
	AssetContent    AssetType = "content"
	AssetCover      AssetType = "cover"
	AssetScene1     AssetType = "scene_1"
	AssetScene2     AssetType = "scene_2"
	AssetScene3     AssetType = "scene_3"
	AssetScene4     AssetType = "scene_4"
	AssetAudio      AssetType = "audio"
	AssetActivities AssetType = "activities"
	AssetPDF        AssetType = "pdf"
)

// RequiredAssets is the full asset set created for every story, in creation
// order. Content is produced first by the content agent itself.
var RequiredAssets = []AssetType{
	AssetContent, AssetCover,
	AssetScene1, AssetScene2, AssetScene3, AssetScene4,
	AssetAudio, AssetActivities, AssetPDF,
}

// SceneAsset reports whether t is one of the beat/scene image assets.
func SceneAsset(t AssetType) bool {
	switch t {
	case AssetScene1, AssetScene2, AssetScene3, AssetScene4:
		return true
	}
	return false
}

// MaxRetries returns the intra-call retry budget for an asset type. The
// content agent retries internally up to this many times; the row never
// transitions back to queued, and an agent-reported failure is terminal.
func MaxRetries(t AssetType) int {
	switch {
	case t == AssetCover:
		return 2
	case SceneAsset(t):
		return 1
	default:
		return 0
	}
}

// AssetJobStatus is the lifecycle state of one asset job row.
type AssetJobStatus string

const (
	AssetQueued     AssetJobStatus = "queued"
	AssetGenerating AssetJobStatus = "generating"
	AssetReady      AssetJobStatus = "ready"
	AssetFailed     AssetJobStatus = "failed"
)

// JobPriority orders asset jobs in the worker queue. Advisory only.
type JobPriority string

const (
	PriorityNormal JobPriority = "normal"
	PriorityHigh   JobPriority = "high"
	PriorityUrgent JobPriority = "urgent"
)

// PriorityRank orders priorities for queue ordering (higher first).
func PriorityRank(p JobPriority) int {
	switch p {
	case PriorityUrgent:
		return 2
	case PriorityHigh:
		return 1
	default:
		return 0
	}
}

// AssetJob is one asset's job row.
type AssetJob struct {
	ID           string         `json:"id"`
	StoryID      string         `json:"story_id"`
	AssetType    AssetType      `json:"asset_type"`
	Status       AssetJobStatus `json:"status"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	RetryCount   int            `json:"retry_count"`
	Priority     JobPriority    `json:"priority"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// OverallStatus summarizes the whole asset set on a story row.
type OverallStatus string

const (
	OverallGenerating OverallStatus = "generating"
	OverallReady      OverallStatus = "ready"
	OverallFailed     OverallStatus = "failed"
	OverallPartial    OverallStatus = "partial"
)

// AssetEntry is one asset's progressive status inside the story blob.
type AssetEntry struct {
	Status      AssetJobStatus `json:"status"`
	URL         string         `json:"url,omitempty"`
	Data        string         `json:"data,omitempty"`
	Progress    int            `json:"progress"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// AssetGenerationStatus is the JSON blob stored on the story row and
// progressively updated as assets complete.
type AssetGenerationStatus struct {
	Overall OverallStatus            `json:"overall"`
	Assets  map[AssetType]AssetEntry `json:"assets"`
}

// NewAssetGenerationStatus initializes the blob for a fresh story: every
// required asset queued except content, which the content agent drives first.
func NewAssetGenerationStatus() AssetGenerationStatus {
	assets := make(map[AssetType]AssetEntry, len(RequiredAssets))
	for _, t := range RequiredAssets {
		entry := AssetEntry{Status: AssetQueued}
		if t == AssetContent {
			entry.Status = AssetGenerating
		}
		assets[t] = entry
	}
	return AssetGenerationStatus{Overall: OverallGenerating, Assets: assets}
}

// RecomputeOverall re-derives Overall from the per-asset statuses:
// ready iff all ready; failed iff all failed; partial iff at least one ready,
// at least one failed, and none still pending; otherwise generating.
func (s *AssetGenerationStatus) RecomputeOverall() {
	ready, failed, pending := 0, 0, 0
	for _, t := range RequiredAssets {
		switch s.Assets[t].Status {
		case AssetReady:
			ready++
		case AssetFailed:
			failed++
		default:
			pending++
		}
	}
	switch {
	case pending > 0:
		s.Overall = OverallGenerating
	case failed == 0:
		s.Overall = OverallReady
	case ready == 0:
		s.Overall = OverallFailed
	default:
		s.Overall = OverallPartial
	}
}

// SetAsset updates one asset entry and recomputes the overall status.
func (s *AssetGenerationStatus) SetAsset(t AssetType, entry AssetEntry) {
	if s.Assets == nil {
		s.Assets = make(map[AssetType]AssetEntry)
	}
	s.Assets[t] = entry
	s.RecomputeOverall()
}
