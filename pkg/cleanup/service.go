// Package cleanup provides the artifact retention service.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/forge/pkg/config"
)

// ArtifactCleaner is the slice of the artifact store the retention loop
// needs.
type ArtifactCleaner interface {
	ProjectIDs() ([]string, error)
	Cleanup(projectID string, keepLatest int, archiveAge time.Duration) ([]string, error)
}

// Service periodically enforces the retention policy: generation versions
// outside the latest N and older than the archive age are moved into each
// project's archive/ directory. Archive-only — nothing is ever deleted.
//
// The operation is idempotent and safe to run from multiple pods; they all
// converge on the same archive layout.
type Service struct {
	config *config.RetentionConfig
	store  ArtifactCleaner

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new retention service.
func NewService(cfg *config.RetentionConfig, store ArtifactCleaner) *Service {
	return &Service{
		config: cfg,
		store:  store,
	}
}

// Start launches the background retention loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention service started",
		"keep_latest", s.config.KeepLatest,
		"archive_age_days", s.config.ArchiveAgeDays,
		"interval", s.config.Interval)
}

// Stop signals the retention loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce applies the retention policy to every project in the store.
func (s *Service) runOnce(ctx context.Context) {
	projectIDs, err := s.store.ProjectIDs()
	if err != nil {
		slog.Error("Retention: listing projects failed", "error", err)
		return
	}

	archived := 0
	for _, projectID := range projectIDs {
		if ctx.Err() != nil {
			return
		}
		moved, err := s.store.Cleanup(projectID, s.config.KeepLatest, s.config.ArchiveAge())
		if err != nil {
			slog.Error("Retention: cleanup failed", "project_id", projectID, "error", err)
			continue
		}
		archived += len(moved)
	}

	if archived > 0 {
		slog.Info("Retention: archived generation versions",
			"projects", len(projectIDs), "archived", archived)
	}
}
