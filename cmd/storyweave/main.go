// Command storyweave runs the storytelling orchestration core: the HTTP API,
// the asset worker, the timeout sweeper, and the context cleanup loop.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/storyweave/storyweave/pkg/agents"
	"github.com/storyweave/storyweave/pkg/api"
	"github.com/storyweave/storyweave/pkg/cache"
	"github.com/storyweave/storyweave/pkg/config"
	"github.com/storyweave/storyweave/pkg/continuity"
	"github.com/storyweave/storyweave/pkg/database"
	"github.com/storyweave/storyweave/pkg/events"
	"github.com/storyweave/storyweave/pkg/intent"
	"github.com/storyweave/storyweave/pkg/jobs"
	"github.com/storyweave/storyweave/pkg/llm"
	"github.com/storyweave/storyweave/pkg/orchestrator"
	"github.com/storyweave/storyweave/pkg/quota"
	"github.com/storyweave/storyweave/pkg/safety"
	"github.com/storyweave/storyweave/pkg/sms"
	"github.com/storyweave/storyweave/pkg/store"
)

func main() {
	configDir := flag.String("config-dir", "config", "directory holding storyweave.yaml")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using process environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(logger, *configDir); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(logger *slog.Logger, configDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(configDir)
	if err != nil {
		return err
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	db, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	kv, err := cache.NewClient(ctx, os.Getenv("CACHE_URL"))
	if err != nil {
		return err
	}
	defer func() { _ = kv.Close() }()

	st := store.New(db.Pool())
	publisher := events.NewPublisher(logger)
	dispatcher := agents.NewDispatcher(*cfg.Agents, cfg.Budgets.AgentSync, logger)

	llmClient, err := llm.NewOpenAIClient(*cfg.LLM, logger)
	if err != nil {
		return err
	}

	continuityMgr := continuity.NewManager(kv, st.Sessions, *cfg.Continuity, cfg.Encryption, logger)
	cleanup := continuity.NewCleanupService(continuityMgr, logger)

	classifier := intent.NewClassifier(llmClient, logger)
	moderator := safety.NewModerator(llmClient, logger)
	gate := quota.NewGate(kv, cache.Keys{Prefix: cfg.Continuity.KeyPrefix}, sms.NewHTTPSender(*cfg.SMS, logger), logger)

	jobManager := jobs.NewManager(st, publisher, dispatcher, logger)
	worker := jobs.NewWorker(st, publisher, dispatcher, *cfg.Pipeline, logger)
	sweeper := jobs.NewSweeper(st, publisher, *cfg.Pipeline, logger)

	orch := orchestrator.New(
		continuityMgr, classifier, moderator, gate,
		jobManager, dispatcher, st.Users, st.Platform, *cfg.Budgets, logger,
	)

	server := api.NewServer(
		*cfg.Server, *cfg.Webhooks,
		orch, jobManager, db, st,
		agents.NewTokenValidator(dispatcher), logger,
	)

	cleanup.Start(ctx)
	worker.Start(ctx)
	sweeper.Start(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx := context.Background()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	sweeper.Stop()
	worker.Stop()
	cleanup.Stop()

	logger.Info("shutdown complete")
	return nil
}
