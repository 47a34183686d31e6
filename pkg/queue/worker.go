package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/codeready-toolchain/forge/pkg/config"
	"github.com/codeready-toolchain/forge/pkg/repository"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and processes generations.
type Worker struct {
	id       string
	podID    string
	repo     GenerationQueue
	config   *config.QueueConfig
	executor GenerationExecutor
	pool     GenerationRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu                   sync.RWMutex
	status               WorkerStatus
	currentGenerationID  string
	generationsProcessed int
	lastActivity         time.Time
}

// GenerationRegistry is the subset of WorkerPool used by Worker for cancel
// registration.
type GenerationRegistry interface {
	RegisterGeneration(generationID string, cancel context.CancelFunc)
	UnregisterGeneration(generationID string)
}

// NewWorker creates a new queue worker.
func NewWorker(id, podID string, repo GenerationQueue, cfg *config.QueueConfig, executor GenerationExecutor, pool GenerationRegistry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		repo:         repo,
		config:       cfg,
		executor:     executor,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish. It is safe to
// call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                   w.id,
		Status:               string(w.status),
		CurrentGenerationID:  w.currentGenerationID,
		GenerationsProcessed: w.generationsProcessed,
		LastActivity:         w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoGenerationsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing generation", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a generation, and processes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// 1. Check global capacity (best-effort; racy with concurrent workers
	//    but bounded by WorkerCount and mitigated by poll jitter).
	activeCount, err := w.repo.CountProcessing(ctx)
	if err != nil {
		return fmt.Errorf("checking active generations: %w", err)
	}
	if activeCount >= w.config.MaxConcurrentGenerations {
		return ErrAtCapacity
	}

	// 2. Claim next generation (pending → processing, SKIP LOCKED FIFO)
	gen, err := w.repo.ClaimNextPending(ctx, w.podID)
	if errors.Is(err, repository.ErrNoPending) {
		return ErrNoGenerationsAvailable
	}
	if err != nil {
		return fmt.Errorf("claiming generation: %w", err)
	}

	log := slog.With("generation_id", gen.ID, "worker_id", w.id, "version", gen.Version)
	log.Info("Generation claimed")

	w.setStatus(WorkerStatusWorking, gen.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	// 3. Create generation context with timeout
	genCtx, cancelGen := context.WithTimeout(ctx, w.config.GenerationTimeout)
	defer cancelGen()

	// 4. Register cancel function for API-triggered cancellation
	w.pool.RegisterGeneration(gen.ID, cancelGen)
	defer w.pool.UnregisterGeneration(gen.ID)

	// 5. Start heartbeat
	heartbeatCtx, cancelHeartbeat := context.WithCancel(genCtx)
	go w.runHeartbeat(heartbeatCtx, gen.ID)

	// 6. Execute. The orchestrator owns terminal status and events; an
	// error here is already persisted and only needs logging.
	execErr := w.executor.Execute(genCtx, gen)
	cancelHeartbeat()

	w.mu.Lock()
	w.generationsProcessed++
	w.mu.Unlock()

	if execErr != nil {
		log.Warn("Generation finished with failure", "error", execErr)
	} else {
		log.Info("Generation processing complete")
	}
	return nil
}

// runHeartbeat periodically refreshes last_heartbeat for orphan detection.
func (w *Worker) runHeartbeat(ctx context.Context, generationID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.repo.Heartbeat(ctx, generationID); err != nil {
				slog.Warn("Heartbeat update failed", "generation_id", generationID, "error", err)
			}
		}
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, generationID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentGenerationID = generationID
	w.lastActivity = time.Now()
}
