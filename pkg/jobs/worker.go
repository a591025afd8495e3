package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storyweave/storyweave/pkg/agents"
	"github.com/storyweave/storyweave/pkg/config"
	"github.com/storyweave/storyweave/pkg/events"
	"github.com/storyweave/storyweave/pkg/models"
	"github.com/storyweave/storyweave/pkg/store"
)

// Worker drains the asset job queue on a fixed tick. Claims are atomic
// leases, so any number of workers can run concurrently.
type Worker struct {
	store      *store.Store
	publisher  *events.Publisher
	dispatcher *agents.Dispatcher
	cfg        config.PipelineConfig
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker builds the asset worker.
func NewWorker(st *store.Store, publisher *events.Publisher, dispatcher *agents.Dispatcher, cfg config.PipelineConfig, logger *slog.Logger) *Worker {
	return &Worker{
		store:      st,
		publisher:  publisher,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.With("component", "jobs.worker"),
	}
}

// Start launches the tick loop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.logger.Info("asset worker started",
		"interval", w.cfg.WorkerInterval, "batch_size", w.cfg.WorkerBatchSize)

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.cfg.WorkerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				w.Tick(runCtx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight tick.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("asset worker stopped")
}

// Tick leases one batch and dispatches each job to the content agent. The
// agent owns production, upload, retries, and the ready/failed transition;
// the worker only fails jobs whose dispatch cannot be delivered at all.
func (w *Worker) Tick(ctx context.Context) {
	claimed, err := w.store.AssetJobs.ClaimQueued(ctx, w.cfg.WorkerBatchSize)
	if err != nil {
		w.logger.Error("asset claim failed", "error", err)
		return
	}
	if len(claimed) == 0 {
		return
	}
	w.logger.Info("asset jobs claimed", "count", len(claimed))

	for _, job := range claimed {
		if err := w.dispatch(ctx, job); err != nil {
			w.logger.Error("asset dispatch failed",
				"job_id", job.ID, "asset_type", job.AssetType, "error", err)
			w.failJob(ctx, job, "dispatch failed: "+err.Error())
		}
	}
}

// dispatch invokes the content agent for one claimed job. Scene images
// reference only the cover image for visual consistency; beats never carry
// other scene references.
func (w *Worker) dispatch(ctx context.Context, job models.AssetJob) error {
	payload := map[string]any{
		"jobId":      job.ID,
		"storyId":    job.StoryID,
		"assetType":  string(job.AssetType),
		"maxRetries": models.MaxRetries(job.AssetType),
	}
	if models.SceneAsset(job.AssetType) {
		payload["referenceAsset"] = string(models.AssetCover)
	}

	_, err := w.dispatcher.RequestResponse(ctx, models.AgentContent, "generate_asset", payload)
	return err
}

// failJob marks a job failed and folds the failure into the story blob, in
// one transaction with the change-stream notification. A job that reached a
// terminal state concurrently is left alone.
func (w *Worker) failJob(ctx context.Context, job models.AssetJob, reason string) {
	err := w.store.BeginFunc(ctx, func(tx pgx.Tx) error {
		if err := w.store.AssetJobs.Complete(ctx, tx, job.ID, models.AssetFailed, reason); err != nil {
			return err
		}
		return ApplyAssetResult(ctx, tx, w.store, w.publisher, job.StoryID, job.AssetType, models.AssetEntry{
			Status: models.AssetFailed,
		})
	})
	if errors.Is(err, store.ErrTerminal) {
		w.logger.Info("asset job already terminal, skipping failure record", "job_id", job.ID)
		return
	}
	if err != nil {
		w.logger.Error("failed to record asset failure",
			"job_id", job.ID, "story_id", job.StoryID, "error", err)
	}
}

// ApplyAssetResult updates one asset entry on the story blob inside tx,
// recomputes the overall status, and emits the story's change-stream event.
func ApplyAssetResult(ctx context.Context, tx pgx.Tx, st *store.Store, publisher *events.Publisher, storyID string, assetType models.AssetType, entry models.AssetEntry) error {
	story, err := st.Stories.GetForUpdate(ctx, tx, storyID)
	if err != nil {
		return err
	}
	if entry.Status == models.AssetReady || entry.Status == models.AssetFailed {
		now := time.Now().UTC()
		entry.CompletedAt = &now
		entry.Progress = 100
	}
	story.AssetStatus.SetAsset(assetType, entry)

	if err := st.Stories.UpdateAssetStatus(ctx, tx, storyID, story.AssetStatus); err != nil {
		return err
	}

	// Flip the story lifecycle once the asset set settles. Partial counts as
	// ready: the story is servable with whatever assets made it.
	switch story.AssetStatus.Overall {
	case models.OverallReady, models.OverallPartial:
		if story.Status == models.StoryGenerating {
			if err := st.Stories.SetStatus(ctx, tx, storyID, models.StoryReady); err != nil {
				return err
			}
		}
	case models.OverallFailed:
		if story.Status == models.StoryGenerating {
			if err := st.Stories.SetStatus(ctx, tx, storyID, models.StoryDraft); err != nil {
				return err
			}
		}
	}

	return publisher.NotifyStoryUpdate(ctx, tx, storyID, map[string]any{
		"event":      "asset_update",
		"asset_type": string(assetType),
		"status":     string(entry.Status),
		"overall":    string(story.AssetStatus.Overall),
	})
}
