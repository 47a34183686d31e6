// Forge orchestrator server — provides the HTTP API, manages queue workers,
// and runs the code generation pipeline.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/forge/pkg/api"
	"github.com/codeready-toolchain/forge/pkg/cleanup"
	"github.com/codeready-toolchain/forge/pkg/config"
	"github.com/codeready-toolchain/forge/pkg/database"
	"github.com/codeready-toolchain/forge/pkg/events"
	"github.com/codeready-toolchain/forge/pkg/pipeline"
	"github.com/codeready-toolchain/forge/pkg/provider"
	"github.com/codeready-toolchain/forge/pkg/queue"
	"github.com/codeready-toolchain/forge/pkg/repository"
	"github.com/codeready-toolchain/forge/pkg/services"
	"github.com/codeready-toolchain/forge/pkg/storage"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	podID := resolvePodID()

	slog.Info("Starting forge",
		"http_port", httpPort,
		"pod_id", podID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database (runs embedded migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	generationRepo := repository.NewGenerationRepository(dbClient.DB())
	projectRepo := repository.NewProjectRepository(dbClient.DB())

	// 3. One-time startup orphan cleanup: generations this pod claimed in a
	// previous life are failed before new workers start.
	if count, err := generationRepo.FailStartupOrphans(ctx, podID); err != nil {
		slog.Error("Failed to cleanup startup orphans", "error", err)
		// Non-fatal — continue
	} else if count > 0 {
		slog.Info("Failed startup orphans", "count", count)
	}

	// 4. Event bus and provider registry
	bus := events.NewBus()
	registry := provider.NewRegistry(cfg.Providers.RegistryConfig(), slog.Default())

	// 5. Artifact store
	store, err := storage.NewStore(cfg.Storage.Root)
	if err != nil {
		slog.Error("Failed to initialize artifact store", "root", cfg.Storage.Root, "error", err)
		os.Exit(1)
	}
	slog.Info("Artifact store initialized", "root", store.Root())

	// 6. Domain services
	autoProjectService := services.NewAutoProjectService(projectRepo, cfg.AutoProject.DedupWindow, nil)
	generationService := services.NewGenerationService(generationRepo, projectRepo, autoProjectService, nil)
	slog.Info("Services initialized")

	// 7. Pipeline orchestrator and worker pool
	orchestrator := pipeline.NewOrchestrator(registry, store, generationRepo, projectRepo, bus, cfg.Pipeline, nil)

	workerPool := queue.NewWorkerPool(podID, generationRepo, cfg.Queue, orchestrator, bus)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}
	generationService.SetCanceller(workerPool)

	// 8. Retention service
	retention := cleanup.NewService(cfg.Retention, store)
	retention.Start(ctx)

	// 9. HTTP server (non-blocking)
	httpServer := api.NewServer(cfg, dbClient, generationService, workerPool, bus, registry)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Forge started successfully",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount)

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: retention first, then workers (bounded), then
	// the HTTP server with its own budget.
	retention.Stop()

	workerShutdownCtx, workerCancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer workerCancel()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-workerShutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded — incomplete generations will be orphan-recovered")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
