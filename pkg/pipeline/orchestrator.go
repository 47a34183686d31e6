package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/forge/pkg/classifier"
	"github.com/codeready-toolchain/forge/pkg/config"
	"github.com/codeready-toolchain/forge/pkg/events"
	"github.com/codeready-toolchain/forge/pkg/models"
	"github.com/codeready-toolchain/forge/pkg/provider"
	"github.com/codeready-toolchain/forge/pkg/storage"
)

// GenerationStore is the slice of the generation repository the pipeline
// needs.
type GenerationStore interface {
	GetByID(ctx context.Context, id string) (*models.Generation, error)
	UpdateStatus(ctx context.Context, id string, status models.GenerationStatus, errorMessage string) error
	RecordOutputs(ctx context.Context, id string, out models.GenerationOutputs) error
}

// ProjectStore is the slice of the project repository the pipeline needs.
type ProjectStore interface {
	GetByID(ctx context.Context, id string) (*models.Project, error)
	SetActiveGeneration(ctx context.Context, projectID, generationID string) error
}

// terminalWriteTimeout bounds the repository writes that finalize a
// generation. These run on a fresh context so a cancelled generation still
// gets its terminal status persisted.
const terminalWriteTimeout = 10 * time.Second

// maxInlineOutputFiles bounds the encoded file map stored on the generation
// row itself; anything larger lives only in the artifact store.
const maxInlineOutputFiles = 512 << 10

// Orchestrator drives one claimed generation through the pipeline to a
// terminal state. It owns the terminal repository writes and the terminal
// event; subsidiary components only emit progress.
type Orchestrator struct {
	registry    *provider.Registry
	store       *storage.Store
	generations GenerationStore
	projects    ProjectStore
	bus         events.Publisher
	cfg         *config.PipelineConfig
	retry       provider.RetryConfig
	iterations  *IterationEngine
	logger      *slog.Logger
}

// NewOrchestrator wires the pipeline over its collaborators.
func NewOrchestrator(
	registry *provider.Registry,
	store *storage.Store,
	generations GenerationStore,
	projects ProjectStore,
	bus events.Publisher,
	cfg *config.PipelineConfig,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry:    registry,
		store:       store,
		generations: generations,
		projects:    projects,
		bus:         bus,
		cfg:         cfg,
		retry:       provider.DefaultRetryConfig(),
		iterations:  NewIterationEngine(cfg.IterationDataLossThreshold, cfg.DataLossWarnOnly, logger),
		logger:      logger.With("component", "orchestrator"),
	}
}

// Execute runs the pipeline for a generation already claimed into
// processing state. It returns the error that failed the generation, after
// the failure has been persisted and published.
func (o *Orchestrator) Execute(ctx context.Context, gen *models.Generation) error {
	logger := o.logger.With(
		"generation_id", gen.ID,
		"project_id", gen.ProjectID,
		"version", gen.Version,
		"is_iteration", gen.IsIteration,
	)
	sink := events.Sink(func(ev events.GenerationEvent) {
		o.bus.Publish(gen.ID, ev)
	})

	logger.Info("Starting generation pipeline")
	sink.Emit(events.Progress(gen.ID, events.StageInitialization, 0.02,
		"Starting code generation pipeline..."))

	project, err := o.projects.GetByID(ctx, gen.ProjectID)
	if err != nil {
		return o.fail(ctx, gen, sink, logger, fmt.Errorf("failed to load project: %w", err))
	}
	contextMap := o.buildContextMap(gen, project, sink)

	var (
		files   models.FileMap
		summary *models.ChangesSummary
		schema  models.Schema
	)
	if gen.IsIteration {
		files, summary, err = o.runIteration(ctx, gen, contextMap, sink, logger)
		if err == nil {
			schema = SchemaFromFiles(files)
		}
	} else {
		files, schema, err = o.runFresh(ctx, gen, contextMap, sink, logger)
	}
	if err != nil {
		return o.fail(ctx, gen, sink, logger, err)
	}
	if err := ctx.Err(); err != nil {
		return o.fail(ctx, gen, sink, logger, err)
	}

	report, err := o.reviewFiles(ctx, gen, files, sink, logger)
	if err != nil {
		return o.fail(ctx, gen, sink, logger, err)
	}
	if err := ctx.Err(); err != nil {
		return o.fail(ctx, gen, sink, logger, err)
	}

	files, err = o.documentFiles(ctx, gen, files, schema, contextMap, sink)
	if err != nil {
		return o.fail(ctx, gen, sink, logger, err)
	}
	if err := ctx.Err(); err != nil {
		return o.fail(ctx, gen, sink, logger, err)
	}

	outputs, err := o.save(ctx, gen, files, schema, report, summary, sink, logger)
	if err != nil {
		return o.fail(ctx, gen, sink, logger, err)
	}

	if err := o.finalizeSuccess(gen, outputs, logger); err != nil {
		return o.fail(ctx, gen, sink, logger, err)
	}

	sink.Emit(events.Completed(gen.ID, "Generation complete!"))
	logger.Info("Generation pipeline completed", "file_count", outputs.FileCount)
	return nil
}

// buildContextMap merges the generation's submitted context with project
// metadata and, in enhanced mode, classifier hints.
func (o *Orchestrator) buildContextMap(gen *models.Generation, project *models.Project, sink events.Sink) map[string]any {
	contextMap := make(map[string]any, len(gen.Context)+4)
	for k, v := range gen.Context {
		contextMap[k] = v
	}
	contextMap["project_name"] = project.Name
	// A stack supplied on the request wins over the project's.
	if _, ok := contextMap["tech_stack"]; !ok && project.TechStack != "" {
		contextMap["tech_stack"] = project.TechStack
	}
	if project.Domain != "" {
		contextMap["domain"] = project.Domain
	}

	if o.cfg.EnhancedContext && !gen.IsIteration {
		sink.Emit(events.Progress(gen.ID, events.StageContextAnalysis, 0.05,
			"Analyzing project context..."))
		cls := classifier.Classify(gen.Prompt, project.TechStack)
		if _, ok := contextMap["domain"]; !ok && cls.Domain != "" {
			contextMap["domain"] = cls.Domain
		}
		if len(cls.Entities) > 0 {
			contextMap["entity_hints"] = cls.Entities
		}
	}
	return contextMap
}

// runFresh executes the schema extraction and phased code generation stages.
func (o *Orchestrator) runFresh(ctx context.Context, gen *models.Generation, contextMap map[string]any, sink events.Sink, logger *slog.Logger) (models.FileMap, models.Schema, error) {
	sink.Emit(events.Progress(gen.ID, events.StageSchemaExtraction, 0.10,
		"Extracting project schema..."))

	schemaProv, err := o.registry.Get(provider.TaskSchemaExtraction)
	if err != nil {
		return nil, models.Schema{}, err
	}

	var schema models.Schema
	err = o.withTimeout(ctx, o.cfg.StageTimeout, func(sctx context.Context) error {
		return o.retry.Do(sctx, logger, func(rctx context.Context) error {
			var exErr error
			schema, exErr = schemaProv.ExtractSchema(rctx, gen.Prompt, contextMap)
			return exErr
		})
	})
	if err != nil {
		return nil, models.Schema{}, fmt.Errorf("schema extraction: %w", err)
	}
	logger.Info("Schema extracted", "entities", len(schema.Entities))

	sink.Emit(events.Progress(gen.ID, events.StageCodeGenerationStart, 0.15,
		"Starting code generation..."))

	genProv, err := o.registry.Get(provider.TaskCodeGeneration)
	if err != nil {
		return nil, models.Schema{}, err
	}

	generator := NewPhasedGenerator(genProv, o.store, o.cfg.PhaseTimeout, logger)
	var files models.FileMap
	err = o.withTimeout(ctx, o.cfg.CodeGenTimeout, func(gctx context.Context) error {
		var genErr error
		files, genErr = generator.Generate(gctx, gen, schema, contextMap, sink)
		return genErr
	})
	if err != nil {
		return nil, models.Schema{}, fmt.Errorf("code generation: %w", err)
	}

	sink.Emit(events.Progress(gen.ID, events.StageCodeGenerationComplete, 0.85,
		fmt.Sprintf("Generated %d files", len(files))))
	return files, schema, nil
}

// runIteration loads the parent generation's outputs and hands off to the
// iteration engine. The schema stage is skipped on this path.
func (o *Orchestrator) runIteration(ctx context.Context, gen *models.Generation, contextMap map[string]any, sink events.Sink, logger *slog.Logger) (models.FileMap, *models.ChangesSummary, error) {
	if gen.ParentGenerationID == nil {
		return nil, nil, fmt.Errorf("iteration %s has no parent generation", gen.ID)
	}
	parent, err := o.generations.GetByID(ctx, *gen.ParentGenerationID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load parent generation: %w", err)
	}
	if parent.Status != models.GenerationStatusCompleted || parent.ProjectID != gen.ProjectID {
		return nil, nil, ErrParentNotCompleted
	}

	existing, err := o.loadParentFiles(parent)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Loaded parent outputs", "parent_version", parent.Version, "file_count", len(existing))

	prov, err := o.registry.Get(provider.TaskCodeGeneration)
	if err != nil {
		return nil, nil, err
	}

	iterGen := *gen
	iterGen.Context = contextMap

	var result *IterationResult
	err = o.withTimeout(ctx, o.cfg.CodeGenTimeout, func(ictx context.Context) error {
		var runErr error
		result, runErr = o.iterations.Run(ictx, prov, &iterGen, existing, sink)
		return runErr
	})
	if err != nil {
		return nil, nil, fmt.Errorf("iteration: %w", err)
	}
	return result.Files, result.Summary, nil
}

// loadParentFiles prefers the inline record and falls back to the artifact
// store for offloaded generations.
func (o *Orchestrator) loadParentFiles(parent *models.Generation) (models.FileMap, error) {
	if len(parent.OutputFiles) > 0 {
		return parent.OutputFiles, nil
	}
	dir, ok := o.store.LookupGenerationDir(parent.ProjectID, parent.Version, parent.ID)
	if !ok {
		return nil, ErrParentOutputsMissing
	}
	files, err := o.store.LoadGenerationFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent files: %w", err)
	}
	if len(files) == 0 {
		return nil, ErrParentOutputsMissing
	}
	return files, nil
}

// reviewFiles runs the review stage. A review error after the retry
// schedule fails the generation like any other stage.
func (o *Orchestrator) reviewFiles(ctx context.Context, gen *models.Generation, files models.FileMap, sink events.Sink, logger *slog.Logger) (*models.ReviewReport, error) {
	sink.Emit(events.Progress(gen.ID, events.StageCodeReview, 0.92,
		"Reviewing generated code..."))

	prov, err := o.registry.Get(provider.TaskCodeReview)
	if err != nil {
		return nil, fmt.Errorf("code review: %w", err)
	}

	var report models.ReviewReport
	err = o.withTimeout(ctx, o.cfg.StageTimeout, func(sctx context.Context) error {
		return o.retry.Do(sctx, logger, func(rctx context.Context) error {
			var revErr error
			report, revErr = prov.ReviewCode(rctx, files)
			return revErr
		})
	})
	if err != nil {
		return nil, fmt.Errorf("code review: %w", err)
	}
	logger.Info("Code review complete",
		"issues", len(report.Issues), "quality_score", report.QualityScore())
	return &report, nil
}

// documentFiles runs the documentation stage and merges the produced docs
// into the source map.
func (o *Orchestrator) documentFiles(ctx context.Context, gen *models.Generation, files models.FileMap, schema models.Schema, contextMap map[string]any, sink events.Sink) (models.FileMap, error) {
	sink.Emit(events.Progress(gen.ID, events.StageDocumentation, 0.95,
		"Generating documentation..."))

	prov, err := o.registry.Get(provider.TaskDocumentation)
	if err != nil {
		return nil, err
	}

	var docs models.FileMap
	err = o.withTimeout(ctx, o.cfg.StageTimeout, func(sctx context.Context) error {
		return o.retry.Do(sctx, nil, func(rctx context.Context) error {
			var docErr error
			docs, docErr = prov.GenerateDocumentation(rctx, files, schema, contextMap)
			return docErr
		})
	})
	if err != nil {
		return nil, fmt.Errorf("documentation: %w", err)
	}

	files = files.Clone()
	files.Merge(docs)
	return files, nil
}

// save persists the final tree and its auxiliary artifacts, then assembles
// the outputs recorded on the generation.
func (o *Orchestrator) save(ctx context.Context, gen *models.Generation, files models.FileMap, schema models.Schema, report *models.ReviewReport, summary *models.ChangesSummary, sink events.Sink, logger *slog.Logger) (models.GenerationOutputs, error) {
	sink.Emit(events.Progress(gen.ID, events.StageSaving, 0.98, "Saving generation..."))

	// Storage writes are never retried: a failed write means disk state
	// that needs investigation, not another attempt.
	res, err := o.store.SaveHierarchical(gen.ProjectID, gen.ID, gen.Version, files)
	if err != nil {
		return models.GenerationOutputs{}, fmt.Errorf("failed to save generation: %w", err)
	}

	diffText := ""
	if gen.Version > 1 {
		patchPath, diffErr := o.store.Diff(gen.ProjectID, gen.Version-1, gen.Version)
		if diffErr != nil {
			logger.Warn("Failed to compute version diff", "error", diffErr)
		} else {
			diffText = patchPath
		}
	}

	if err := o.store.SetActive(gen.ProjectID, gen.Version); err != nil {
		return models.GenerationOutputs{}, fmt.Errorf("failed to set active version: %w", err)
	}

	if report != nil {
		if data, mErr := json.MarshalIndent(report, "", "  "); mErr == nil {
			if _, aErr := o.store.WriteArtifact(gen.ProjectID, gen.ID, gen.Version, "review.json", data); aErr != nil {
				logger.Warn("Failed to write review artifact", "error", aErr)
			}
		}
	}

	if data, mErr := json.MarshalIndent(buildOpenAPIDocument(gen, schema), "", "  "); mErr == nil {
		if _, aErr := o.store.WriteArtifact(gen.ProjectID, gen.ID, gen.Version, "openapi.json", data); aErr != nil {
			logger.Warn("Failed to write openapi artifact", "error", aErr)
		}
	}

	zipData, zipErr := zipFileMap(files)
	if zipErr != nil {
		logger.Warn("Failed to build zip artifact", "error", zipErr)
	} else if _, aErr := o.store.WriteArtifact(gen.ProjectID, gen.ID, gen.Version, "project.zip", zipData); aErr != nil {
		logger.Warn("Failed to write zip artifact", "error", aErr)
	}

	outputs := models.GenerationOutputs{
		StoragePath:      res.Path,
		FileCount:        res.FileCount,
		TotalSizeBytes:   res.TotalSizeBytes,
		DiffFromPrevious: diffText,
		ChangesSummary:   summary,
	}
	if report != nil {
		score := report.QualityScore()
		outputs.QualityScore = &score
	}
	// Small file maps are kept inline on the row; larger ones stay
	// offloaded, and readers fall back to the artifact store.
	if data, mErr := json.Marshal(files); mErr == nil && len(data) <= maxInlineOutputFiles {
		outputs.OutputFiles = files
	}
	return outputs, nil
}

// finalizeSuccess records outputs and flips the terminal status. It runs on
// a fresh context so late cancellation cannot lose a finished generation.
func (o *Orchestrator) finalizeSuccess(gen *models.Generation, outputs models.GenerationOutputs, logger *slog.Logger) error {
	tctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	if err := o.generations.RecordOutputs(tctx, gen.ID, outputs); err != nil {
		return fmt.Errorf("failed to record outputs: %w", err)
	}
	if err := o.generations.UpdateStatus(tctx, gen.ID, models.GenerationStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to mark generation completed: %w", err)
	}
	if err := o.projects.SetActiveGeneration(tctx, gen.ProjectID, gen.ID); err != nil {
		logger.Warn("Failed to update project active generation", "error", err)
	}
	return nil
}

// fail persists the failure and publishes the terminal event. The returned
// error is the original cause for the worker's log line.
func (o *Orchestrator) fail(ctx context.Context, gen *models.Generation, sink events.Sink, logger *slog.Logger, cause error) error {
	message, errText := describeFailure(ctx, cause)
	logger.Error("Generation pipeline failed", "error", cause, "cause", errText)

	tctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()
	if err := o.generations.UpdateStatus(tctx, gen.ID, models.GenerationStatusFailed, message); err != nil {
		logger.Error("Failed to persist failure status", "error", err)
	}

	sink.Emit(events.Failed(gen.ID, message, errText))
	return cause
}

// describeFailure maps an error to the user-facing message and the stable
// short cause carried on the terminal event.
func describeFailure(ctx context.Context, cause error) (message, errText string) {
	switch {
	case errors.Is(cause, context.Canceled) || ctx.Err() == context.Canceled:
		return "Generation was cancelled", "cancelled"
	case errors.Is(cause, context.DeadlineExceeded):
		return "Generation timed out", "timeout"
	case errors.Is(cause, ErrIterationProducedEmpty):
		return "Iteration produced no files", "iteration_produced_empty"
	case errors.Is(cause, ErrDataLossDetected):
		return "Iteration would remove too many existing files", "data_loss_detected"
	case errors.Is(cause, ErrParentNotCompleted), errors.Is(cause, ErrParentOutputsMissing):
		return "Parent generation is not usable for iteration", "invalid_parent"
	}

	switch provider.KindOf(cause) {
	case provider.KindUnavailable:
		return "Code generation provider is unavailable", "provider_unavailable"
	case provider.KindMalformed:
		return "Provider returned output that could not be parsed", "malformed_output"
	case provider.KindContextTooLarge:
		return "Request exceeded the provider's context window", "context_too_large"
	}
	return "Generation failed", "internal_error"
}

// withTimeout runs fn under an optional deadline.
func (o *Orchestrator) withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(tctx)
}
