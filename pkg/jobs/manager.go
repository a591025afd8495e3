// Package jobs owns the async job pipeline: durable job handles, the asset
// worker that leases queued asset jobs, and the sweeper that times out stuck
// ones.
package jobs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storyweave/storyweave/pkg/agents"
	"github.com/storyweave/storyweave/pkg/events"
	"github.com/storyweave/storyweave/pkg/faults"
	"github.com/storyweave/storyweave/pkg/models"
	"github.com/storyweave/storyweave/pkg/store"
)

// Manager creates and tracks async jobs.
type Manager struct {
	store      *store.Store
	publisher  *events.Publisher
	dispatcher *agents.Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager builds the job manager.
func NewManager(st *store.Store, publisher *events.Publisher, dispatcher *agents.Dispatcher, logger *slog.Logger) *Manager {
	return &Manager{
		store:      st,
		publisher:  publisher,
		dispatcher: dispatcher,
		logger:     logger.With("component", "jobs"),
		now:        time.Now,
	}
}

// Handle is the 202-style payload returned for a long-running request.
type Handle struct {
	JobID            string                   `json:"jobId"`
	StoryID          string                   `json:"storyId,omitempty"`
	Status           string                   `json:"status"`
	RealtimeChannel  string                   `json:"realtimeChannel,omitempty"`
	SubscribePattern *events.SubscribePattern `json:"subscribePattern,omitempty"`
}

// newJobID allocates a job id of the form job_<unix_ms>_<random>.
func (m *Manager) newJobID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate job id: %w", err)
	}
	return fmt.Sprintf("job_%d_%s", m.now().UnixMilli(), hex.EncodeToString(buf)), nil
}

// CreateJob creates the durable job handle. Story-generation jobs also get a
// story row, the full asset job set, and a best-effort kickoff dispatch to
// the content agent; the worker is the authoritative producer if the
// dispatch is lost.
func (m *Manager) CreateJob(ctx context.Context, userID, sessionID string, jobType models.AsyncJobType, request map[string]any) (*Handle, error) {
	jobID, err := m.newJobID()
	if err != nil {
		return nil, err
	}

	job := &models.AsyncJob{
		JobID:     jobID,
		UserID:    userID,
		SessionID: sessionID,
		Type:      jobType,
		Status:    models.AsyncJobPending,
		Request:   request,
	}

	var story *models.Story
	err = m.store.BeginFunc(ctx, func(tx pgx.Tx) error {
		if jobType == models.JobStoryGeneration {
			now := m.now().UTC()
			story = &models.Story{
				CreatorUserID:  userID,
				Status:         models.StoryGenerating,
				AssetStatus:    models.NewAssetGenerationStatus(),
				AssetStartedAt: &now,
			}
			if libraryID, ok := request["libraryId"].(string); ok {
				story.LibraryID = libraryID
			}
			if err := m.store.Stories.Insert(ctx, tx, story); err != nil {
				return err
			}

			// Stamp the story onto the job request so status lookups can
			// resolve the asset breakdown from the job id alone.
			if job.Request == nil {
				job.Request = map[string]any{}
			}
			job.Request["storyId"] = story.ID

			if err := m.store.AssetJobs.InsertBatch(ctx, tx, story.ID, models.PriorityNormal); err != nil {
				return err
			}
			if err := m.store.Users.IncrementStoryCount(ctx, tx, userID); err != nil {
				return err
			}
		}

		if err := m.store.AsyncJobs.Insert(ctx, tx, job); err != nil {
			return err
		}
		if story == nil {
			return nil
		}
		return m.publisher.NotifyStoryUpdate(ctx, tx, story.ID, map[string]any{
			"job_id": jobID,
			"event":  "generation_started",
		})
	})
	if err != nil {
		return nil, faults.Wrap(faults.KindPersistence, "failed to create job", err)
	}

	handle := &Handle{JobID: jobID, Status: string(models.AsyncJobPending)}
	if story != nil {
		pattern := events.StorySubscribePattern(story.ID)
		handle.StoryID = story.ID
		handle.Status = "generating"
		handle.RealtimeChannel = events.StoryTopic(story.ID)
		handle.SubscribePattern = &pattern

		payload := map[string]any{
			"jobId":     jobID,
			"storyId":   story.ID,
			"userId":    userID,
			"sessionId": sessionID,
		}
		for k, v := range request {
			payload[k] = v
		}
		m.dispatcher.Event(models.AgentContent, "generate_story", payload)
	}

	m.logger.Info("async job created",
		"job_id", jobID, "job_type", jobType, "user_id", userID)
	return handle, nil
}

// GetJobStatus fetches the current state of a job for its owner. Requests
// for another user's job fail closed as not found.
func (m *Manager) GetJobStatus(ctx context.Context, jobID, userID string) (*models.AsyncJob, error) {
	job, err := m.store.AsyncJobs.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, faults.New(faults.KindPersistence, fmt.Sprintf("job %s not found", jobID))
	}
	if err != nil {
		return nil, faults.Wrap(faults.KindPersistence, "job lookup failed", err)
	}
	if job.UserID != userID {
		return nil, faults.New(faults.KindUnauthorized, fmt.Sprintf("job %s not found", jobID))
	}
	return job, nil
}

// CompleteAssetJob records an asset outcome reported by the content agent:
// the job row, the story blob, and the change-stream notification move in
// one transaction. The pre-read is a fast path for replayed callbacks; the
// status predicate inside Complete is the authoritative guard, so a callback
// racing the sweeper can never rewrite a terminal row.
func (m *Manager) CompleteAssetJob(ctx context.Context, assetJobID string, status models.AssetJobStatus, url string, errMsg string) error {
	job, err := m.store.AssetJobs.Get(ctx, assetJobID)
	if errors.Is(err, store.ErrNotFound) {
		return faults.New(faults.KindPersistence, fmt.Sprintf("asset job %s not found", assetJobID))
	}
	if err != nil {
		return faults.Wrap(faults.KindPersistence, "asset job lookup failed", err)
	}
	if job.Status == models.AssetReady || job.Status == models.AssetFailed {
		m.logger.Info("ignoring replayed asset callback",
			"asset_job_id", assetJobID, "status", job.Status)
		return nil
	}

	err = m.store.BeginFunc(ctx, func(tx pgx.Tx) error {
		if err := m.store.AssetJobs.Complete(ctx, tx, assetJobID, status, errMsg); err != nil {
			return err
		}
		return ApplyAssetResult(ctx, tx, m.store, m.publisher, job.StoryID, job.AssetType, models.AssetEntry{
			Status: status,
			URL:    url,
		})
	})
	if errors.Is(err, store.ErrTerminal) {
		m.logger.Info("asset job reached terminal state concurrently, ignoring callback",
			"asset_job_id", assetJobID, "status", status)
		return nil
	}
	if err != nil {
		return faults.Wrap(faults.KindPersistence, "failed to record asset result", err)
	}
	return nil
}

// ListJobs returns the caller's recent jobs, newest first.
func (m *Manager) ListJobs(ctx context.Context, userID string, limit int) ([]models.AsyncJob, error) {
	jobs, err := m.store.AsyncJobs.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, faults.Wrap(faults.KindPersistence, "job list failed", err)
	}
	return jobs, nil
}

// StoryAssets returns the per-asset job rows behind a story's generation.
func (m *Manager) StoryAssets(ctx context.Context, storyID string) ([]models.AssetJob, error) {
	assetJobs, err := m.store.AssetJobs.ListByStory(ctx, storyID)
	if err != nil {
		return nil, faults.Wrap(faults.KindPersistence, "asset job list failed", err)
	}
	return assetJobs, nil
}

// UpdateJobStatus transitions a job. Terminal rows are never rewritten, so
// replayed agent callbacks are harmless.
func (m *Manager) UpdateJobStatus(ctx context.Context, jobID string, status models.AsyncJobStatus, result map[string]any, errMsg string) error {
	err := m.store.AsyncJobs.UpdateStatus(ctx, jobID, status, result, errMsg)
	if errors.Is(err, store.ErrNotFound) {
		return faults.New(faults.KindPersistence, fmt.Sprintf("job %s not found", jobID))
	}
	if err != nil {
		return faults.Wrap(faults.KindPersistence, "job update failed", err)
	}
	return nil
}
