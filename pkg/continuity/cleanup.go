package continuity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/storyweave/storyweave/pkg/cache"
)

// CleanupService sweeps context keys whose TTL has run out. The sweep is
// bounded and runs off the request path.
type CleanupService struct {
	manager *Manager
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCleanupService builds the sweeper over a Manager.
func NewCleanupService(manager *Manager, logger *slog.Logger) *CleanupService {
	return &CleanupService{
		manager: manager,
		logger:  logger.With("component", "continuity.cleanup"),
	}
}

// Start launches the periodic sweep. Safe to call once.
func (s *CleanupService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	interval := s.manager.cfg.CleanupInterval
	s.logger.Info("context cleanup started", "interval", interval)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.sweep(runCtx)
			}
		}
	}()
}

// Stop halts the sweep and waits for an in-flight tick to finish.
func (s *CleanupService) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("context cleanup stopped")
}

// sweep scans up to the configured limit of context keys and deletes any
// whose TTL reports expired or gone.
func (s *CleanupService) sweep(ctx context.Context) {
	keys, err := s.manager.kv.ScanByPrefix(ctx, s.manager.keys.ContextPrefix(), s.manager.cfg.CleanupScanLimit)
	if err != nil {
		s.logger.Warn("context sweep scan failed", "error", err)
		return
	}

	var removed int
	for _, key := range keys {
		ttl, err := s.manager.kv.TTL(ctx, key)
		if err != nil {
			s.logger.Warn("context sweep ttl check failed", "key", key, "error", err)
			continue
		}
		// 0 means expired this instant; TTLMissing means already gone
		// server-side.
		if ttl == 0 || ttl == cache.TTLMissing {
			if err := s.manager.kv.Del(ctx, key); err != nil {
				s.logger.Warn("context sweep delete failed", "key", key, "error", err)
				continue
			}
			removed++
		}
	}
	var rows int64
	if s.manager.sessions != nil {
		rows, err = s.manager.sessions.DeleteExpired(ctx, s.manager.now(), s.manager.cfg.CleanupScanLimit)
		if err != nil {
			s.logger.Warn("durable session sweep failed", "error", err)
		}
	}
	s.logger.Info("context sweep complete",
		"scanned", len(keys), "removed", removed, "durable_removed", rows)
}
