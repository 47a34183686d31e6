// Package pipeline runs the code-generation pipeline: phased fresh
// generation, iteration against a parent generation, and the orchestrator
// that drives a claimed generation from processing to a terminal state.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/forge/pkg/events"
	"github.com/codeready-toolchain/forge/pkg/models"
	"github.com/codeready-toolchain/forge/pkg/provider"
)

// stricterOutputInstruction is appended to the prompt when a phase has to be
// retried after malformed provider output.
const stricterOutputInstruction = "\n\nIMPORTANT: Respond with ONLY a single valid JSON object mapping " +
	"file paths to complete file contents. No prose, no markdown fences, no explanations."

// PhaseWriter persists a phase's output as soon as the phase completes, so a
// later failure preserves the partial project. A nil writer disables
// incremental persistence.
type PhaseWriter interface {
	WritePhaseFiles(projectID, generationID string, version int, files models.FileMap) error
}

// PhasedGenerator produces a full project in ordered phases: core
// infrastructure, one pass per schema entity, router integration, and
// utilities. Progress events cover the 0.05-0.80 band; the orchestrator owns
// the band outside it.
type PhasedGenerator struct {
	provider     provider.Port
	writer       PhaseWriter
	phaseTimeout time.Duration
	logger       *slog.Logger
}

// NewPhasedGenerator wires a generator over one provider. phaseTimeout
// bounds each individual phase; zero disables the bound.
func NewPhasedGenerator(p provider.Port, writer PhaseWriter, phaseTimeout time.Duration, logger *slog.Logger) *PhasedGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &PhasedGenerator{
		provider:     p,
		writer:       writer,
		phaseTimeout: phaseTimeout,
		logger:       logger.With("component", "phased_generator"),
	}
}

// Wire numbering of the phases. Per-entity passes sit between phase 1 and
// phase 5 and are reported as entity_processing_{i} instead.
const (
	phaseNumberCore        = 1
	phaseNumberIntegration = 5
	phaseNumberUtilities   = 6
	totalPhases            = 6
)

// Generate runs all phases and returns the union of their outputs. An empty
// schema skips the per-entity pass but still produces the framing phases.
func (g *PhasedGenerator) Generate(ctx context.Context, gen *models.Generation, schema models.Schema, contextMap map[string]any, sink events.Sink) (models.FileMap, error) {
	entities := schema.EntityNames()
	n := len(entities)
	logger := g.logger.With("generation_id", gen.ID, "entities", n)

	started := events.Progress(gen.ID, events.StagePhasedStarted, 0.05,
		fmt.Sprintf("Starting phased generation for %d entities", n))
	started.PhaseInfo = &events.PhaseInfo{TotalPhases: totalPhases, EntitiesCount: n}
	sink.Emit(started)

	result := make(models.FileMap)

	// Phase 1: framework bootstrap, config, database wiring.
	coreFiles, err := g.runPhase(ctx, gen, schema, contextMap, provider.PhaseCoreInfrastructure, "")
	if err != nil {
		return nil, fmt.Errorf("core infrastructure phase: %w", err)
	}
	result.Merge(coreFiles)
	if err := g.persistPhase(gen, result); err != nil {
		return nil, err
	}
	g.emitPhase(sink, gen, events.StagePhase1Complete, 0.20, phaseNumberCore,
		provider.PhaseCoreInfrastructure, len(coreFiles), len(result), n)

	// Phase 2: one pass per entity, evenly spread over the 0.20-0.60 band.
	for i, entity := range entities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entityFiles, err := g.runPhase(ctx, gen, schema, contextMap, provider.PhaseEntity, entity)
		if err != nil {
			return nil, fmt.Errorf("entity phase for %s: %w", entity, err)
		}
		result.Merge(entityFiles)
		if err := g.persistPhase(gen, result); err != nil {
			return nil, err
		}

		progress := 0.20 + 0.40*float64(i+1)/float64(n)
		ev := events.Progress(gen.ID, events.EntityProcessingStage(i+1), progress,
			fmt.Sprintf("Generated files for %s", entity))
		ev.PhaseInfo = &events.PhaseInfo{
			TotalPhases:    totalPhases,
			Name:           entity,
			FilesGenerated: len(entityFiles),
			TotalFiles:     len(result),
			EntitiesCount:  n,
		}
		sink.Emit(ev)
	}

	// Phase 5: cross-entity wiring and application composition.
	g.emitPhase(sink, gen, events.StagePhase5Start, 0.65, phaseNumberIntegration,
		provider.PhaseIntegration, 0, len(result), n)
	integrationFiles, err := g.runPhase(ctx, gen, schema, contextMap, provider.PhaseIntegration, "")
	if err != nil {
		return nil, fmt.Errorf("integration phase: %w", err)
	}
	result.Merge(integrationFiles)
	if err := g.persistPhase(gen, result); err != nil {
		return nil, err
	}
	g.emitPhase(sink, gen, events.StagePhase5Complete, 0.70, phaseNumberIntegration,
		provider.PhaseIntegration, len(integrationFiles), len(result), n)

	// Phase 6: security helpers, logging, env templates.
	g.emitPhase(sink, gen, events.StagePhase6Start, 0.75, phaseNumberUtilities,
		provider.PhaseUtilities, 0, len(result), n)
	utilityFiles, err := g.runPhase(ctx, gen, schema, contextMap, provider.PhaseUtilities, "")
	if err != nil {
		return nil, fmt.Errorf("utilities phase: %w", err)
	}
	result.Merge(utilityFiles)
	if err := g.persistPhase(gen, result); err != nil {
		return nil, err
	}
	g.emitPhase(sink, gen, events.StagePhase6Complete, 0.80, phaseNumberUtilities,
		provider.PhaseUtilities, len(utilityFiles), len(result), n)

	done := events.Progress(gen.ID, events.StagePhasedComplete, 0.80,
		fmt.Sprintf("Phased generation complete: %d files", len(result)))
	done.PhaseInfo = &events.PhaseInfo{TotalPhases: totalPhases, TotalFiles: len(result), EntitiesCount: n}
	sink.Emit(done)

	logger.Info("Phased generation complete", "total_files", len(result))
	return result, nil
}

// runPhase invokes the provider for one phase. Malformed output gets a
// single retry with a stricter instruction; a second malformed reply is
// surfaced as unavailable so the orchestrator does not retry it further.
func (g *PhasedGenerator) runPhase(ctx context.Context, gen *models.Generation, schema models.Schema, contextMap map[string]any, phase, entity string) (models.FileMap, error) {
	phaseCtxMap := make(map[string]any, len(contextMap)+2)
	for k, v := range contextMap {
		phaseCtxMap[k] = v
	}
	phaseCtxMap["phase"] = phase
	if entity != "" {
		phaseCtxMap["entity"] = entity
	}

	phaseCtx := ctx
	if g.phaseTimeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, g.phaseTimeout)
		defer cancel()
	}

	files, err := g.provider.GenerateCode(phaseCtx, gen.Prompt, schema, phaseCtxMap, nil)
	if err == nil {
		return files, nil
	}
	if provider.KindOf(err) != provider.KindMalformed {
		return nil, err
	}

	g.logger.Warn("Malformed phase output, retrying with stricter instruction",
		"generation_id", gen.ID, "phase", phase, "entity", entity, "error", err)

	files, retryErr := g.provider.GenerateCode(phaseCtx, gen.Prompt+stricterOutputInstruction, schema, phaseCtxMap, nil)
	if retryErr == nil {
		return files, nil
	}
	return nil, provider.NewError(provider.KindUnavailable, g.provider.Info().Name,
		fmt.Sprintf("phase %s output malformed after retry", phase), retryErr)
}

func (g *PhasedGenerator) persistPhase(gen *models.Generation, files models.FileMap) error {
	if g.writer == nil {
		return nil
	}
	if err := g.writer.WritePhaseFiles(gen.ProjectID, gen.ID, gen.Version, files); err != nil {
		return fmt.Errorf("failed to persist phase output: %w", err)
	}
	return nil
}

func (g *PhasedGenerator) emitPhase(sink events.Sink, gen *models.Generation, stage string, progress float64, phaseNumber int, name string, generated, total, entities int) {
	ev := events.Progress(gen.ID, stage, progress, "")
	ev.PhaseInfo = &events.PhaseInfo{
		TotalPhases:    totalPhases,
		CurrentPhase:   phaseNumber,
		Name:           name,
		FilesGenerated: generated,
		TotalFiles:     total,
		EntitiesCount:  entities,
	}
	sink.Emit(ev)
}
