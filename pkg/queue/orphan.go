package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/forge/pkg/events"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans for orphaned generations. All pods
// run this independently — the repository update is idempotent.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("Orphan detection failed", "error", err)
			}
		}
	}
}

// detectAndRecoverOrphans fails processing generations whose heartbeat went
// stale and publishes a terminal event for each, so any connected stream
// ends instead of hanging. Failed is terminal: orphans are never resumed.
func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) error {
	ids, err := p.repo.FailStaleProcessing(ctx, p.config.OrphanThreshold)

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += len(ids)
	p.orphans.mu.Unlock()

	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	slog.Warn("Recovered orphaned generations", "count", len(ids), "generation_ids", ids)

	if p.bus != nil {
		for _, id := range ids {
			p.bus.Publish(id, events.Failed(id,
				"Generation was abandoned by its worker", "orphaned"))
		}
	}
	return nil
}
