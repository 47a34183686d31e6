package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/forge/pkg/config"
	"github.com/codeready-toolchain/forge/pkg/events"
)

// WorkerPool manages a pool of queue workers.
type WorkerPool struct {
	podID    string
	repo     GenerationQueue
	config   *config.QueueConfig
	executor GenerationExecutor
	bus      events.Publisher
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Generation cancel registry: generation_id → cancel function
	activeGenerations map[string]context.CancelFunc
	mu                sync.RWMutex
	started           bool

	// Orphan detection state
	orphans orphanState
}

// NewWorkerPool creates a new worker pool. bus may be nil (no terminal
// events published for orphan recoveries).
func NewWorkerPool(podID string, repo GenerationQueue, cfg *config.QueueConfig, executor GenerationExecutor, bus events.Publisher) *WorkerPool {
	return &WorkerPool{
		podID:             podID,
		repo:              repo,
		config:            cfg,
		executor:          executor,
		bus:               bus,
		workers:           make([]*Worker, 0, cfg.WorkerCount),
		stopCh:            make(chan struct{}),
		activeGenerations: make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines and the orphan detection background task.
// It is safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.repo, p.config, p.executor, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish. Workers
// finish their current generations before exiting (graceful shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.getActiveGenerationIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active generations to complete",
			"count", len(active),
			"generation_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// RegisterGeneration stores a cancel function for API-triggered
// cancellation.
func (p *WorkerPool) RegisterGeneration(generationID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeGenerations[generationID] = cancel
}

// UnregisterGeneration removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterGeneration(generationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeGenerations, generationID)
}

// CancelGeneration triggers context cancellation for a generation on this
// pod. Returns true if the generation was found and cancelled here.
func (p *WorkerPool) CancelGeneration(generationID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeGenerations[generationID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, errQ := p.repo.CountPending(ctx)
	if errQ != nil {
		slog.Error("Failed to query queue depth for health check",
			"pod_id", p.podID, "error", errQ)
	}

	activeGenerations, errA := p.repo.CountProcessingByPod(ctx, p.podID)
	if errA != nil {
		slog.Error("Failed to query active generations for health check",
			"pod_id", p.podID, "error", errA)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	// DB errors affect health status: if the DB is unreachable the pool
	// cannot make progress.
	dbHealthy := errQ == nil && errA == nil
	isHealthy := len(p.workers) > 0 && activeGenerations <= p.config.MaxConcurrentGenerations && dbHealthy

	p.orphans.mu.Lock()
	lastOrphanScan := p.orphans.lastOrphanScan
	orphansRecovered := p.orphans.orphansRecovered
	p.orphans.mu.Unlock()

	var dbError string
	if !dbHealthy {
		if errQ != nil {
			dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
		} else if errA != nil {
			dbError = fmt.Sprintf("active generations query failed: %v", errA)
		}
	}

	return &PoolHealth{
		IsHealthy:         isHealthy,
		DBReachable:       dbHealthy,
		DBError:           dbError,
		PodID:             p.podID,
		ActiveWorkers:     activeWorkers,
		TotalWorkers:      len(p.workers),
		ActiveGenerations: activeGenerations,
		MaxConcurrent:     p.config.MaxConcurrentGenerations,
		QueueDepth:        queueDepth,
		WorkerStats:       workerStats,
		LastOrphanScan:    lastOrphanScan,
		OrphansRecovered:  orphansRecovered,
	}
}

// getActiveGenerationIDs returns ids of currently processing generations
// (for logging).
func (p *WorkerPool) getActiveGenerationIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeGenerations))
	for id := range p.activeGenerations {
		ids = append(ids, id)
	}
	return ids
}
