package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storyweave/storyweave/pkg/config"
	"github.com/storyweave/storyweave/pkg/events"
	"github.com/storyweave/storyweave/pkg/models"
	"github.com/storyweave/storyweave/pkg/store"
)

// Sweeper times out asset jobs stuck in generating. Each stuck job is failed
// with a timeout message and its story blob recomputed, one transaction per
// job so a single bad row never blocks the rest.
type Sweeper struct {
	store     *store.Store
	publisher *events.Publisher
	cfg       config.PipelineConfig
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper builds the timeout sweeper.
func NewSweeper(st *store.Store, publisher *events.Publisher, cfg config.PipelineConfig, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:     st,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("component", "jobs.sweeper"),
		now:       time.Now,
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.logger.Info("timeout sweeper started",
		"interval", s.cfg.SweeperInterval, "stuck_threshold", s.cfg.StuckThreshold)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.SweeperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.Sweep(runCtx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("timeout sweeper stopped")
}

// Sweep fails every job stuck past the threshold.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.StuckThreshold)
	stuck, err := s.store.AssetJobs.FindStuck(ctx, s.store.Pool(), cutoff)
	if err != nil {
		s.logger.Error("stuck job scan failed", "error", err)
		return
	}
	if len(stuck) == 0 {
		return
	}
	s.logger.Warn("stuck asset jobs found", "count", len(stuck), "cutoff", cutoff)

	var failed int
	for _, job := range stuck {
		err := s.store.BeginFunc(ctx, func(tx pgx.Tx) error {
			if err := s.store.AssetJobs.Complete(ctx, tx, job.ID, models.AssetFailed, "timeout"); err != nil {
				return err
			}
			return ApplyAssetResult(ctx, tx, s.store, s.publisher, job.StoryID, job.AssetType, models.AssetEntry{
				Status: models.AssetFailed,
			})
		})
		// An agent callback that landed between the scan and this transaction
		// wins; the delivered result stands.
		if errors.Is(err, store.ErrTerminal) {
			s.logger.Info("asset job completed before sweep", "job_id", job.ID)
			continue
		}
		if err != nil {
			s.logger.Error("failed to time out asset job",
				"job_id", job.ID, "story_id", job.StoryID, "error", err)
			continue
		}
		failed++
		s.logger.Info("asset job timed out",
			"job_id", job.ID, "story_id", job.StoryID, "asset_type", job.AssetType)
	}
	s.logger.Info("sweep complete", "stuck", len(stuck), "failed", failed)
}
