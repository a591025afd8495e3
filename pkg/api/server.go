// Package api exposes the HTTP surface: the turn endpoint, job status, agent
// callbacks, platform webhooks, and health.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storyweave/storyweave/pkg/config"
	"github.com/storyweave/storyweave/pkg/database"
	"github.com/storyweave/storyweave/pkg/jobs"
	"github.com/storyweave/storyweave/pkg/orchestrator"
	"github.com/storyweave/storyweave/pkg/store"
)

// Server is the HTTP front of the core.
type Server struct {
	cfg      config.ServerConfig
	webhooks config.WebhooksConfig

	orch   *orchestrator.Orchestrator
	jobs   *jobs.Manager
	db     *database.Client
	store  *store.Store
	tokens TokenValidator
	logger *slog.Logger

	httpServer *http.Server
}

// NewServer wires the router.
func NewServer(
	cfg config.ServerConfig,
	webhooks config.WebhooksConfig,
	orch *orchestrator.Orchestrator,
	jobManager *jobs.Manager,
	db *database.Client,
	st *store.Store,
	tokens TokenValidator,
	logger *slog.Logger,
) *Server {
	s := &Server{
		cfg:      cfg,
		webhooks: webhooks,
		orch:     orch,
		jobs:     jobManager,
		db:       db,
		store:    st,
		tokens:   tokens,
		logger:   logger.With("component", "api"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.corsMiddleware())

	router.GET("/health", s.handleHealth)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/webhooks/:platform", s.handleWebhook)

		authed := v1.Group("", s.authMiddleware())
		{
			authed.POST("/turns", s.handleTurn)
			authed.GET("/jobs", s.handleJobList)
			authed.GET("/jobs/:id", s.handleJobStatus)
			authed.POST("/jobs/:id/status", s.handleJobUpdate)
			authed.POST("/assets/:id/complete", s.handleAssetComplete)
		}
	}

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports process and database health.
func (s *Server) handleHealth(c *gin.Context) {
	dbHealth := s.db.Health(c.Request.Context())
	status := http.StatusOK
	if !dbHealth.Reachable {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":   map[bool]string{true: "ok", false: "degraded"}[dbHealth.Reachable],
		"database": dbHealth,
	})
}
