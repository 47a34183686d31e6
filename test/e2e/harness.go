// Package e2e provides end-to-end test infrastructure for the forge
// pipeline: a full in-process instance over a real PostgreSQL schema, the
// offline local provider, and a real HTTP server.
package e2e

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/forge/pkg/api"
	"github.com/codeready-toolchain/forge/pkg/config"
	"github.com/codeready-toolchain/forge/pkg/database"
	"github.com/codeready-toolchain/forge/pkg/events"
	"github.com/codeready-toolchain/forge/pkg/pipeline"
	"github.com/codeready-toolchain/forge/pkg/provider"
	"github.com/codeready-toolchain/forge/pkg/queue"
	"github.com/codeready-toolchain/forge/pkg/repository"
	"github.com/codeready-toolchain/forge/pkg/services"
	"github.com/codeready-toolchain/forge/pkg/storage"
	"github.com/codeready-toolchain/forge/test/util"
)

// TestApp boots a complete forge instance for e2e testing.
type TestApp struct {
	Config   *config.Config
	DBClient *database.Client

	Generations *repository.GenerationRepository
	Projects    *repository.ProjectRepository
	Bus         *events.Bus
	Registry    *provider.Registry
	Store       *storage.Store
	WorkerPool  *queue.WorkerPool
	Server      *api.Server

	// BaseURL of the running HTTP server, e.g. "http://127.0.0.1:54321".
	BaseURL string

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	cfg               *config.Config
	workerCount       int
	pollInterval      time.Duration
	generationTimeout time.Duration
	podID             string
	dbClient          *database.Client
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithWorkerCount sets the number of worker pool goroutines.
func WithWorkerCount(n int) TestAppOption {
	return func(c *testAppConfig) { c.workerCount = n }
}

// WithPollInterval overrides the worker poll interval. A long interval
// keeps submitted generations pending, which cancellation tests rely on.
func WithPollInterval(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.pollInterval = d }
}

// WithGenerationTimeout sets the per-generation execution timeout.
func WithGenerationTimeout(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.generationTimeout = d }
}

// WithPodID overrides the auto-generated pod ID. Multi-replica tests need
// distinct identities for claiming and orphan detection.
func WithPodID(id string) TestAppOption {
	return func(c *testAppConfig) { c.podID = id }
}

// WithDBClient injects a pre-created database client, skipping the default
// per-test schema creation. Used when multiple TestApp instances must share
// one schema.
func WithDBClient(client *database.Client) TestAppOption {
	return func(c *testAppConfig) { c.dbClient = client }
}

// NewTestApp creates and starts a full forge test instance. Shutdown is
// registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{
		workerCount:       1,
		pollInterval:      50 * time.Millisecond,
		generationTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(tc)
	}

	if tc.cfg == nil {
		tc.cfg = config.DefaultConfig()
	}
	cfg := tc.cfg
	cfg.Storage.Root = t.TempDir()
	cfg.Queue.WorkerCount = tc.workerCount
	cfg.Queue.MaxConcurrentGenerations = tc.workerCount
	cfg.Queue.PollInterval = tc.pollInterval
	cfg.Queue.PollIntervalJitter = 0
	cfg.Queue.GenerationTimeout = tc.generationTimeout
	cfg.Queue.HeartbeatInterval = 1 * time.Second
	cfg.Queue.GracefulShutdownTimeout = 10 * time.Second
	cfg.Queue.OrphanDetectionInterval = 1 * time.Minute
	cfg.Queue.OrphanThreshold = 1 * time.Minute
	cfg.Stream.HeartbeatInterval = 100 * time.Millisecond
	cfg.Stream.IdleTimeout = 10 * time.Second

	// 1. Database — isolated per-test schema with migrations applied.
	dbClient := tc.dbClient
	if dbClient == nil {
		dbClient = util.NewTestClient(t)
	}
	generationRepo := repository.NewGenerationRepository(dbClient.DB())
	projectRepo := repository.NewProjectRepository(dbClient.DB())

	// 2. Event bus and the offline provider registry. The default routing
	// sends every task to the local template provider, so e2e runs are
	// deterministic and need no credentials.
	bus := events.NewBus()
	registry := provider.NewRegistry(cfg.Providers.RegistryConfig(), slog.Default())

	// 3. Artifact store under the test's temp dir.
	store, err := storage.NewStore(cfg.Storage.Root)
	require.NoError(t, err)

	// 4. Domain services.
	autoProjectService := services.NewAutoProjectService(projectRepo, cfg.AutoProject.DedupWindow, nil)
	generationService := services.NewGenerationService(generationRepo, projectRepo, autoProjectService, nil)

	// 5. Pipeline orchestrator and worker pool.
	orchestrator := pipeline.NewOrchestrator(registry, store, generationRepo, projectRepo, bus, cfg.Pipeline, nil)

	podID := tc.podID
	if podID == "" {
		podID = fmt.Sprintf("e2e-%s", t.Name())
	}
	workerPool := queue.NewWorkerPool(podID, generationRepo, cfg.Queue, orchestrator, bus)
	require.NoError(t, workerPool.Start(context.Background()))
	generationService.SetCanceller(workerPool)

	// 6. HTTP server on a random port. api.Server implements http.Handler,
	// so httptest gives us a real network listener for streaming tests.
	server := api.NewServer(cfg, dbClient, generationService, workerPool, bus, registry)
	httpServer := httptest.NewServer(server)

	app := &TestApp{
		Config:      cfg,
		DBClient:    dbClient,
		Generations: generationRepo,
		Projects:    projectRepo,
		Bus:         bus,
		Registry:    registry,
		Store:       store,
		WorkerPool:  workerPool,
		Server:      server,
		BaseURL:     httpServer.URL,
		t:           t,
	}

	t.Cleanup(func() {
		httpServer.Close()
		workerPool.Stop()
	})

	return app
}
