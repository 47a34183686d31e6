package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/forge/pkg/models"
	"github.com/codeready-toolchain/forge/pkg/repository"
)

// GenerationRepo is the slice of the generation repository the service
// needs.
type GenerationRepo interface {
	Create(ctx context.Context, gen *models.Generation) error
	GetByID(ctx context.Context, id string) (*models.Generation, error)
	ListByProject(ctx context.Context, projectID string) ([]*models.Generation, error)
	NextVersion(ctx context.Context, projectID string) (int, error)
	UpdateStatus(ctx context.Context, id string, status models.GenerationStatus, errorMessage string) error
}

// Canceller asks the worker pool to stop an in-flight generation.
// Registered after the pool starts; nil means only pending generations can
// be cancelled.
type Canceller interface {
	CancelGeneration(generationID string) bool
}

// SubmitRequest is a fresh generation submission.
type SubmitRequest struct {
	UserID    string
	Prompt    string
	ProjectID string // empty: resolve via AutoProjectService
	TechStack string
	Context   map[string]any
}

// IterateRequest derives a new generation from a completed parent.
type IterateRequest struct {
	UserID             string
	ParentGenerationID string
	Prompt             string
	TechStack          string // empty: inherit the project's stack
	Context            map[string]any
}

// SubmissionResult is what the API layer returns for submit and iterate.
type SubmissionResult struct {
	Generation     *models.Generation
	Project        *models.Project
	ProjectCreated bool
}

// GenerationService validates submissions, assigns versions, and enqueues
// generations as pending rows for the worker pool to claim.
type GenerationService struct {
	generations GenerationRepo
	projects    ProjectRepo
	autoProject *AutoProjectService
	canceller   Canceller
	logger      *slog.Logger
}

// NewGenerationService wires the service over its repositories.
func NewGenerationService(generations GenerationRepo, projects ProjectRepo, autoProject *AutoProjectService, logger *slog.Logger) *GenerationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationService{
		generations: generations,
		projects:    projects,
		autoProject: autoProject,
		logger:      logger.With("component", "generation_service"),
	}
}

// SetCanceller attaches the worker pool's cancel hook once the pool exists.
func (s *GenerationService) SetCanceller(c Canceller) {
	s.canceller = c
}

// Submit validates a fresh generation request, resolves its project, and
// creates the pending generation row.
func (s *GenerationService) Submit(ctx context.Context, req SubmitRequest) (*SubmissionResult, error) {
	if req.Prompt == "" {
		return nil, NewValidationError("prompt", "required")
	}
	if req.UserID == "" {
		return nil, NewValidationError("user_id", "required")
	}

	var (
		project *models.Project
		created bool
		err     error
	)
	if req.ProjectID != "" {
		project, err = s.projects.GetByID(ctx, req.ProjectID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("project %s: %w", req.ProjectID, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load project: %w", err)
		}
		if project.UserID != req.UserID {
			return nil, fmt.Errorf("project %s: %w", req.ProjectID, ErrNotFound)
		}
	} else {
		project, created, err = s.autoProject.Resolve(ctx, req.UserID, req.Prompt, req.TechStack)
		if err != nil {
			return nil, err
		}
	}

	gen, err := s.createGeneration(ctx, project, req.UserID, req.Prompt, req.Context, nil)
	if err != nil {
		return nil, err
	}
	return &SubmissionResult{Generation: gen, Project: project, ProjectCreated: created}, nil
}

// Iterate validates an iteration request against its parent and creates the
// pending generation row. The parent must be completed and the caller's own.
func (s *GenerationService) Iterate(ctx context.Context, req IterateRequest) (*SubmissionResult, error) {
	if req.Prompt == "" {
		return nil, NewValidationError("prompt", "required")
	}
	if req.ParentGenerationID == "" {
		return nil, NewValidationError("parent_generation_id", "required")
	}

	parent, err := s.generations.GetByID(ctx, req.ParentGenerationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("generation %s: %w", req.ParentGenerationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load parent generation: %w", err)
	}
	if parent.UserID != "" && parent.UserID != req.UserID {
		return nil, fmt.Errorf("generation %s: %w", req.ParentGenerationID, ErrNotFound)
	}
	if parent.Status != models.GenerationStatusCompleted {
		return nil, NewValidationError("parent_generation_id", "parent generation is not completed")
	}

	project, err := s.projects.GetByID(ctx, parent.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent project: %w", err)
	}

	contextMap := req.Context
	if req.TechStack != "" {
		// Copy before overlaying so the caller's map is left alone.
		contextMap = make(map[string]any, len(req.Context)+1)
		for k, v := range req.Context {
			contextMap[k] = v
		}
		contextMap["tech_stack"] = req.TechStack
	}

	gen, err := s.createGeneration(ctx, project, req.UserID, req.Prompt, contextMap, &parent.ID)
	if err != nil {
		return nil, err
	}
	return &SubmissionResult{Generation: gen, Project: project}, nil
}

func (s *GenerationService) createGeneration(ctx context.Context, project *models.Project, userID, prompt string, contextMap map[string]any, parentID *string) (*models.Generation, error) {
	version, err := s.generations.NextVersion(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to assign version: %w", err)
	}

	gen := &models.Generation{
		ID:                 uuid.NewString(),
		ProjectID:          project.ID,
		UserID:             userID,
		Version:            version,
		Prompt:             prompt,
		Context:            contextMap,
		Status:             models.GenerationStatusPending,
		IsIteration:        parentID != nil,
		ParentGenerationID: parentID,
	}
	if err := s.generations.Create(ctx, gen); err != nil {
		return nil, fmt.Errorf("failed to create generation: %w", err)
	}

	s.logger.Info("Generation enqueued",
		"generation_id", gen.ID, "project_id", project.ID,
		"version", version, "is_iteration", gen.IsIteration)
	return gen, nil
}

// Get loads one generation.
func (s *GenerationService) Get(ctx context.Context, id string) (*models.Generation, error) {
	gen, err := s.generations.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("generation %s: %w", id, ErrNotFound)
	}
	return gen, err
}

// ListByProject returns a project's generations, newest version first.
func (s *GenerationService) ListByProject(ctx context.Context, projectID string) ([]*models.Generation, error) {
	return s.generations.ListByProject(ctx, projectID)
}

// GetProject loads one project.
func (s *GenerationService) GetProject(ctx context.Context, id string) (*models.Project, error) {
	project, err := s.projects.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return project, err
}

// Cancel stops a generation. Pending generations fail immediately;
// processing ones are cancelled cooperatively through the worker pool.
// Terminal generations return ErrNotCancellable.
func (s *GenerationService) Cancel(ctx context.Context, id string) error {
	gen, err := s.generations.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("generation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load generation: %w", err)
	}

	switch gen.Status {
	case models.GenerationStatusPending:
		if err := s.generations.UpdateStatus(ctx, id, models.GenerationStatusFailed, "cancelled by user"); err != nil {
			return fmt.Errorf("failed to cancel pending generation: %w", err)
		}
		s.logger.Info("Cancelled pending generation", "generation_id", id)
		return nil
	case models.GenerationStatusProcessing:
		if s.canceller != nil && s.canceller.CancelGeneration(id) {
			s.logger.Info("Requested cancellation of running generation", "generation_id", id)
			return nil
		}
		// Claimed by another pod; this replica cannot reach its context.
		return ErrNotCancellable
	default:
		return ErrNotCancellable
	}
}
