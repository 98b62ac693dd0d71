package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lenslabs/webset-engine/pkg/config"
	"github.com/lenslabs/webset-engine/pkg/handlers"
	"github.com/lenslabs/webset-engine/pkg/mcp"
	"github.com/lenslabs/webset-engine/pkg/mcp/tools"
	"github.com/lenslabs/webset-engine/pkg/taskstore"
	"github.com/lenslabs/webset-engine/pkg/upstream"
	"github.com/lenslabs/webset-engine/pkg/workflows"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("upstream_base_url", cfg.Upstream.BaseURL),
		zap.Int("task_max_concurrent", cfg.Tasks.MaxConcurrent),
		zap.Int("poll_interval_seconds", cfg.Workflows.PollIntervalSeconds))

	client := upstream.NewHTTPClient(
		cfg.Upstream.BaseURL,
		cfg.Upstream.APIKey,
		cfg.Upstream.RequestTimeout(),
		logger,
	)

	store := taskstore.New(logger, cfg.Tasks.SweepInterval(),
		taskstore.WithTTL(cfg.Tasks.TaskTTL()),
		taskstore.WithMaxConcurrent(cfg.Tasks.MaxConcurrent),
	)
	defer store.Close()

	runner := workflows.NewRunner(client, store, logger, func(rt *workflows.Runtime) {
		rt.PollInterval = cfg.Workflows.PollInterval()
		rt.StepTimeout = cfg.Workflows.StepTimeout()
		rt.ResearchConcurrency = int64(cfg.Workflows.ResearchConcurrency)
	})
	workflows.Seal()

	mcpServer := mcp.NewServer("webset-engine", cfg.Version)
	tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version)
	tools.RegisterTaskTools(mcpServer.MCP(), &tools.TaskToolDeps{
		Runner: runner,
		Store:  store,
		Logger: logger.Named("tools"),
	})
	tools.RegisterWebsetTools(mcpServer.MCP(), &tools.WebsetToolDeps{
		Client: client,
		Logger: logger.Named("tools"),
	})

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewMCPHandler(mcpServer, logger.Named("mcp")).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		logger.Info("starting webset-engine",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

// buildLogger picks the logger configuration by environment: human-readable
// console output locally, structured JSON elsewhere.
func buildLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
