// Package queue provides the worker pool that claims pending generations
// from the database and runs them through the pipeline.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/codeready-toolchain/forge/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoGenerationsAvailable indicates no pending generations are in
	// the queue.
	ErrNoGenerationsAvailable = errors.New("no generations available")

	// ErrAtCapacity indicates the global concurrent generation limit has
	// been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// GenerationExecutor runs one claimed generation to a terminal state. The
// executor owns the terminal repository writes and the terminal event; the
// worker only handles claiming, heartbeat, timeout, and cancellation
// plumbing. The returned error is the failure cause, already persisted.
type GenerationExecutor interface {
	Execute(ctx context.Context, gen *models.Generation) error
}

// GenerationQueue is the slice of the generation repository the pool needs.
type GenerationQueue interface {
	ClaimNextPending(ctx context.Context, podID string) (*models.Generation, error)
	Heartbeat(ctx context.Context, id string) error
	CountProcessing(ctx context.Context) (int, error)
	CountPending(ctx context.Context) (int, error)
	CountProcessingByPod(ctx context.Context, podID string) (int, error)
	FailStaleProcessing(ctx context.Context, threshold time.Duration) ([]string, error)
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy         bool           `json:"is_healthy"`
	DBReachable       bool           `json:"db_reachable"`
	DBError           string         `json:"db_error,omitempty"`
	PodID             string         `json:"pod_id"`
	ActiveWorkers     int            `json:"active_workers"`
	TotalWorkers      int            `json:"total_workers"`
	ActiveGenerations int            `json:"active_generations"`
	MaxConcurrent     int            `json:"max_concurrent"`
	QueueDepth        int            `json:"queue_depth"`
	WorkerStats       []WorkerHealth `json:"worker_stats"`
	LastOrphanScan    time.Time      `json:"last_orphan_scan"`
	OrphansRecovered  int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID                   string    `json:"id"`
	Status               string    `json:"status"` // "idle" or "working"
	CurrentGenerationID  string    `json:"current_generation_id,omitempty"`
	GenerationsProcessed int       `json:"generations_processed"`
	LastActivity         time.Time `json:"last_activity"`
}
