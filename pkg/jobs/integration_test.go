package jobs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyweave/storyweave/pkg/agents"
	"github.com/storyweave/storyweave/pkg/config"
	"github.com/storyweave/storyweave/pkg/events"
	"github.com/storyweave/storyweave/pkg/models"
	"github.com/storyweave/storyweave/pkg/store"
	"github.com/storyweave/storyweave/test/util"
)

// pipelineEnv wires the real pipeline components against a real PostgreSQL
// database (testcontainers locally, service container in CI).
type pipelineEnv struct {
	store     *store.Store
	publisher *events.Publisher
	manager   *Manager
	worker    *Worker
	sweeper   *Sweeper
	cfg       config.PipelineConfig
}

func setupPipeline(t *testing.T, endpoints map[string]string) *pipelineEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool := util.SetupTestDatabase(t)
	st := store.New(pool)
	logger := slog.Default()
	publisher := events.NewPublisher(logger)
	dispatcher := agents.NewDispatcher(config.AgentsConfig{Endpoints: endpoints}, time.Second, logger)
	cfg := config.PipelineConfig{
		WorkerInterval:  time.Minute,
		WorkerBatchSize: 10,
		SweeperInterval: time.Minute,
		StuckThreshold:  10 * time.Minute,
	}

	_, err := pool.Exec(context.Background(), `
		INSERT INTO users (id, age, subscription_tier) VALUES ('u-1', 30, 'premium')`)
	require.NoError(t, err)

	return &pipelineEnv{
		store:     st,
		publisher: publisher,
		manager:   NewManager(st, publisher, dispatcher, logger),
		worker:    NewWorker(st, publisher, dispatcher, cfg, logger),
		sweeper:   NewSweeper(st, publisher, cfg, logger),
		cfg:       cfg,
	}
}

func (e *pipelineEnv) createStoryJob(t *testing.T) *Handle {
	t.Helper()
	handle, err := e.manager.CreateJob(context.Background(), "u-1", "s-1",
		models.JobStoryGeneration, map[string]any{"storyType": "adventure"})
	require.NoError(t, err)
	return handle
}

func (e *pipelineEnv) assetJob(t *testing.T, storyID string, assetType models.AssetType) models.AssetJob {
	t.Helper()
	assetJobs, err := e.store.AssetJobs.ListByStory(context.Background(), storyID)
	require.NoError(t, err)
	for _, job := range assetJobs {
		if job.AssetType == assetType {
			return job
		}
	}
	t.Fatalf("no %s asset job for story %s", assetType, storyID)
	return models.AssetJob{}
}

func TestCreateStoryJob(t *testing.T) {
	env := setupPipeline(t, nil)
	ctx := context.Background()

	handle := env.createStoryJob(t)
	require.NotEmpty(t, handle.StoryID)
	assert.Equal(t, "generating", handle.Status)
	assert.Equal(t, events.StoryTopic(handle.StoryID), handle.RealtimeChannel)
	require.NotNil(t, handle.SubscribePattern)
	assert.Equal(t, "stories", handle.SubscribePattern.Table)
	assert.Equal(t, "id=eq."+handle.StoryID, handle.SubscribePattern.Filter)

	// Durable job handle carries the story id for status lookups.
	job, err := env.store.AsyncJobs.Get(ctx, handle.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.AsyncJobPending, job.Status)
	assert.Equal(t, handle.StoryID, job.Request["storyId"])

	story, err := env.store.Stories.Get(ctx, handle.StoryID)
	require.NoError(t, err)
	assert.Equal(t, models.StoryGenerating, story.Status)
	assert.Equal(t, models.OverallGenerating, story.AssetStatus.Overall)

	// One asset job per required asset: content already generating, the
	// rest queued for the worker.
	assetJobs, err := env.store.AssetJobs.ListByStory(ctx, handle.StoryID)
	require.NoError(t, err)
	require.Len(t, assetJobs, len(models.RequiredAssets))
	for _, aj := range assetJobs {
		if aj.AssetType == models.AssetContent {
			assert.Equal(t, models.AssetGenerating, aj.Status)
			assert.NotNil(t, aj.StartedAt)
		} else {
			assert.Equal(t, models.AssetQueued, aj.Status)
		}
	}

	// The monthly quota counter moved in the same transaction.
	var count int
	require.NoError(t, env.store.Pool().QueryRow(ctx,
		`SELECT stories_this_month FROM users WHERE id = 'u-1'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestClaimQueuedLeasesExclusively(t *testing.T) {
	env := setupPipeline(t, nil)
	ctx := context.Background()
	env.createStoryJob(t)

	seen := map[string]bool{}
	first, err := env.store.AssetJobs.ClaimQueued(ctx, 5)
	require.NoError(t, err)
	require.Len(t, first, 5)
	for _, job := range first {
		assert.Equal(t, models.AssetGenerating, job.Status)
		require.NotNil(t, job.StartedAt)
		assert.False(t, seen[job.ID])
		seen[job.ID] = true
	}

	second, err := env.store.AssetJobs.ClaimQueued(ctx, 5)
	require.NoError(t, err)
	require.Len(t, second, 3)
	for _, job := range second {
		assert.False(t, seen[job.ID])
		seen[job.ID] = true
	}

	third, err := env.store.AssetJobs.ClaimQueued(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestCompleteAssetJobUpdatesStoryBlob(t *testing.T) {
	env := setupPipeline(t, nil)
	ctx := context.Background()
	handle := env.createStoryJob(t)
	content := env.assetJob(t, handle.StoryID, models.AssetContent)

	err := env.manager.CompleteAssetJob(ctx, content.ID, models.AssetReady,
		"https://cdn.example.com/content.json", "")
	require.NoError(t, err)

	job, err := env.store.AssetJobs.Get(ctx, content.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetReady, job.Status)
	assert.NotNil(t, job.CompletedAt)

	story, err := env.store.Stories.Get(ctx, handle.StoryID)
	require.NoError(t, err)
	entry := story.AssetStatus.Assets[models.AssetContent]
	assert.Equal(t, models.AssetReady, entry.Status)
	assert.Equal(t, "https://cdn.example.com/content.json", entry.URL)
	assert.Equal(t, 100, entry.Progress)
	assert.Equal(t, models.OverallGenerating, story.AssetStatus.Overall)

	// A replayed callback is a no-op.
	err = env.manager.CompleteAssetJob(ctx, content.ID, models.AssetFailed, "", "boom")
	require.NoError(t, err)
	job, err = env.store.AssetJobs.Get(ctx, content.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetReady, job.Status)
	assert.Empty(t, job.ErrorMessage)
}

func TestCompleteGuardsTerminalRows(t *testing.T) {
	env := setupPipeline(t, nil)
	ctx := context.Background()
	handle := env.createStoryJob(t)
	content := env.assetJob(t, handle.StoryID, models.AssetContent)

	require.NoError(t, env.store.AssetJobs.Complete(ctx, env.store.Pool(),
		content.ID, models.AssetReady, ""))

	// A concurrent transition can no longer rewrite the row.
	err := env.store.AssetJobs.Complete(ctx, env.store.Pool(),
		content.ID, models.AssetFailed, "timeout")
	require.ErrorIs(t, err, store.ErrTerminal)

	job, err := env.store.AssetJobs.Get(ctx, content.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetReady, job.Status)
	assert.Empty(t, job.ErrorMessage)

	err = env.store.AssetJobs.Complete(ctx, env.store.Pool(),
		uuid.NewString(), models.AssetReady, "")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweepTimesOutStuckJobs(t *testing.T) {
	env := setupPipeline(t, nil)
	ctx := context.Background()
	handle := env.createStoryJob(t)

	// Shift the sweeper's clock past the stuck threshold; only the content
	// job has been generating that long.
	env.sweeper.now = func() time.Time { return time.Now().Add(env.cfg.StuckThreshold + time.Minute) }
	env.sweeper.Sweep(ctx)

	content := env.assetJob(t, handle.StoryID, models.AssetContent)
	assert.Equal(t, models.AssetFailed, content.Status)
	assert.Equal(t, "timeout", content.ErrorMessage)

	// Queued jobs are untouched and the story keeps generating.
	cover := env.assetJob(t, handle.StoryID, models.AssetCover)
	assert.Equal(t, models.AssetQueued, cover.Status)
	story, err := env.store.Stories.Get(ctx, handle.StoryID)
	require.NoError(t, err)
	assert.Equal(t, models.OverallGenerating, story.AssetStatus.Overall)
}

func TestSweepLosesRaceToDeliveredResult(t *testing.T) {
	env := setupPipeline(t, nil)
	ctx := context.Background()
	handle := env.createStoryJob(t)
	content := env.assetJob(t, handle.StoryID, models.AssetContent)

	// The agent's result lands first; a late timeout must not erase it.
	require.NoError(t, env.manager.CompleteAssetJob(ctx, content.ID,
		models.AssetReady, "https://cdn.example.com/content.json", ""))

	env.sweeper.now = func() time.Time { return time.Now().Add(env.cfg.StuckThreshold + time.Minute) }
	env.sweeper.Sweep(ctx)

	job, err := env.store.AssetJobs.Get(ctx, content.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetReady, job.Status)
	assert.Empty(t, job.ErrorMessage)
}

func TestWorkerFailsUndeliverableDispatch(t *testing.T) {
	// No content endpoint configured: every claimed job's dispatch fails and
	// the row goes terminal. Nothing ever transitions back to queued.
	env := setupPipeline(t, nil)
	ctx := context.Background()
	handle := env.createStoryJob(t)

	env.worker.Tick(ctx)

	assetJobs, err := env.store.AssetJobs.ListByStory(ctx, handle.StoryID)
	require.NoError(t, err)
	for _, job := range assetJobs {
		switch job.AssetType {
		case models.AssetContent:
			assert.Equal(t, models.AssetGenerating, job.Status)
		default:
			assert.Equal(t, models.AssetFailed, job.Status)
			assert.Contains(t, job.ErrorMessage, "dispatch failed")
		}
	}

	// Once the content job times out too, the set is fully failed and the
	// story falls back to draft.
	env.sweeper.now = func() time.Time { return time.Now().Add(env.cfg.StuckThreshold + time.Minute) }
	env.sweeper.Sweep(ctx)

	story, err := env.store.Stories.Get(ctx, handle.StoryID)
	require.NoError(t, err)
	assert.Equal(t, models.OverallFailed, story.AssetStatus.Overall)
	assert.Equal(t, models.StoryDraft, story.Status)
}

func TestWorkerDispatchPayloads(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []map[string]any
	)
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var msg map[string]any
		_ = json.Unmarshal(body, &msg)
		mu.Lock()
		payloads = append(payloads, msg)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted": true}`))
	}))
	defer agent.Close()

	env := setupPipeline(t, map[string]string{"content": agent.URL})
	ctx := context.Background()
	handle := env.createStoryJob(t)

	env.worker.Tick(ctx)

	// The create-time kickoff event may also land here; only the worker's
	// per-asset dispatches are under test.
	mu.Lock()
	defer mu.Unlock()
	var dispatched []map[string]any
	for _, msg := range payloads {
		if msg["action"] == "generate_asset" {
			dispatched = append(dispatched, msg)
		}
	}
	require.Len(t, dispatched, len(models.RequiredAssets)-1)
	for _, msg := range dispatched {
		assert.Equal(t, handle.StoryID, msg["storyId"])
		assetType := models.AssetType(msg["assetType"].(string))
		assert.EqualValues(t, models.MaxRetries(assetType), msg["maxRetries"])
		if models.SceneAsset(assetType) {
			// Scenes reference only the cover for visual consistency.
			assert.Equal(t, string(models.AssetCover), msg["referenceAsset"])
		} else {
			assert.NotContains(t, msg, "referenceAsset")
		}
	}

	// The agent owns the terminal transition; dispatched rows stay leased.
	assetJobs, err := env.store.AssetJobs.ListByStory(ctx, handle.StoryID)
	require.NoError(t, err)
	for _, job := range assetJobs {
		assert.Equal(t, models.AssetGenerating, job.Status)
	}
}

func TestStoryFlipsReadyOnSettledAssets(t *testing.T) {
	env := setupPipeline(t, nil)
	ctx := context.Background()
	handle := env.createStoryJob(t)

	assetJobs, err := env.store.AssetJobs.ListByStory(ctx, handle.StoryID)
	require.NoError(t, err)
	_, err = env.store.AssetJobs.ClaimQueued(ctx, len(assetJobs))
	require.NoError(t, err)

	// Everything succeeds except the PDF: the set settles partial and the
	// story is servable.
	for _, job := range assetJobs {
		if job.AssetType == models.AssetPDF {
			require.NoError(t, env.manager.CompleteAssetJob(ctx, job.ID,
				models.AssetFailed, "", "render failed"))
			continue
		}
		require.NoError(t, env.manager.CompleteAssetJob(ctx, job.ID,
			models.AssetReady, "https://cdn.example.com/"+string(job.AssetType), ""))
	}

	story, err := env.store.Stories.Get(ctx, handle.StoryID)
	require.NoError(t, err)
	assert.Equal(t, models.OverallPartial, story.AssetStatus.Overall)
	assert.Equal(t, models.StoryReady, story.Status)
	assert.NotNil(t, story.AssetCompletedAt)
}

func TestListJobsAndStoryAssets(t *testing.T) {
	env := setupPipeline(t, nil)
	ctx := context.Background()

	first := env.createStoryJob(t)
	second := env.createStoryJob(t)

	listed, err := env.manager.ListJobs(ctx, "u-1", 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, second.JobID, listed[0].JobID)
	assert.Equal(t, first.JobID, listed[1].JobID)

	assets, err := env.manager.StoryAssets(ctx, first.StoryID)
	require.NoError(t, err)
	assert.Len(t, assets, len(models.RequiredAssets))

	// Other users never see the job.
	_, err = env.manager.GetJobStatus(ctx, first.JobID, "u-2")
	require.Error(t, err)
}
