package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/forge/pkg/classifier"
	"github.com/codeready-toolchain/forge/pkg/models"
	"github.com/codeready-toolchain/forge/pkg/repository"
)

// CreationSourceAutoGeneration marks projects created implicitly for a
// generation submitted without a project.
const CreationSourceAutoGeneration = "auto_generation"

// ProjectRepo is the slice of the project repository the services need.
type ProjectRepo interface {
	Create(ctx context.Context, p *models.Project) error
	GetByID(ctx context.Context, id string) (*models.Project, error)
	FindRecentAutoProject(ctx context.Context, userID, name string, window time.Duration) (*models.Project, error)
}

// AutoProjectService resolves the project for a generation submitted
// without one: it classifies the prompt and either reuses a recent
// auto-created project with the same suggested name or creates a new one.
type AutoProjectService struct {
	projects    ProjectRepo
	dedupWindow time.Duration
	logger      *slog.Logger
}

// NewAutoProjectService creates the service. dedupWindow bounds how far
// back reuse looks; zero disables deduplication.
func NewAutoProjectService(projects ProjectRepo, dedupWindow time.Duration, logger *slog.Logger) *AutoProjectService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoProjectService{
		projects:    projects,
		dedupWindow: dedupWindow,
		logger:      logger.With("component", "auto_project_service"),
	}
}

// Resolve returns the project to attach the generation to and whether it
// was created by this call. Dedup lookup failures log a warning and fall
// through to creation, so a degraded index never blocks submissions.
func (s *AutoProjectService) Resolve(ctx context.Context, userID, prompt, techStackHint string) (*models.Project, bool, error) {
	c := classifier.Classify(prompt, techStackHint)

	if s.dedupWindow > 0 {
		existing, err := s.projects.FindRecentAutoProject(ctx, userID, c.SuggestedName, s.dedupWindow)
		switch {
		case err == nil:
			s.logger.Info("Reusing recent auto-created project",
				"user_id", userID, "project_id", existing.ID, "name", existing.Name)
			return existing, false, nil
		case errors.Is(err, repository.ErrNotFound):
			// No candidate, create below.
		default:
			s.logger.Warn("Auto-project dedup lookup failed, creating a new project",
				"user_id", userID, "error", err)
		}
	}

	project := &models.Project{
		ID:             uuid.NewString(),
		UserID:         userID,
		Name:           c.SuggestedName,
		Domain:         c.Domain,
		TechStack:      c.TechStack,
		Status:         models.ProjectStatusDraft,
		AutoCreated:    true,
		CreationSource: CreationSourceAutoGeneration,
		OriginalPrompt: models.TruncatePrompt(prompt),
	}
	if err := s.projects.Create(ctx, project); err != nil {
		return nil, false, fmt.Errorf("failed to create auto project: %w", err)
	}

	s.logger.Info("Created auto project",
		"user_id", userID, "project_id", project.ID,
		"name", project.Name, "domain", project.Domain)
	return project, true, nil
}
