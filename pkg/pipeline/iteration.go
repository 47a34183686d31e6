package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/forge/pkg/events"
	"github.com/codeready-toolchain/forge/pkg/models"
	"github.com/codeready-toolchain/forge/pkg/provider"
)

// IterationEngine applies a modification prompt to an existing generation's
// file set: detects intent, builds a context prompt over the parent files,
// asks the provider for only the changed files, and merges the result with
// a data-loss guard. Iterations against the same parent are serialized.
type IterationEngine struct {
	dataLossThreshold float64
	warnOnly          bool
	logger            *slog.Logger

	mu      sync.Mutex
	parents map[string]*parentLock
}

type parentLock struct {
	mu   sync.Mutex
	refs int
}

// IterationResult is what an iteration hands back to the orchestrator.
type IterationResult struct {
	Files   models.FileMap
	Summary *models.ChangesSummary
	Intent  Intent
	// NoChanges is set when the provider returned nothing to change and
	// the parent files were carried over unchanged.
	NoChanges bool
}

// NewIterationEngine builds an engine with the given merge safety settings.
// A threshold of 0 disables the data-loss guard.
func NewIterationEngine(dataLossThreshold float64, warnOnly bool, logger *slog.Logger) *IterationEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &IterationEngine{
		dataLossThreshold: dataLossThreshold,
		warnOnly:          warnOnly,
		logger:            logger.With("component", "iteration_engine"),
		parents:           map[string]*parentLock{},
	}
}

// Run executes one iteration. existing is the parent generation's file set;
// it is never mutated.
func (e *IterationEngine) Run(ctx context.Context, prov provider.Port, gen *models.Generation, existing models.FileMap, sink events.Sink) (*IterationResult, error) {
	parentID := ""
	if gen.ParentGenerationID != nil {
		parentID = *gen.ParentGenerationID
	}
	unlock := e.lockParent(parentID)
	defer unlock()

	logger := e.logger.With("generation_id", gen.ID, "parent_generation_id", parentID)

	sink.Emit(events.Progress(gen.ID, events.StageIterationStart, 0.05,
		fmt.Sprintf("Starting iteration on %d existing files", len(existing))))

	intent := DetectIntent(gen.Prompt)
	ev := events.Progress(gen.ID, events.StageIntentDetection, 0.10,
		fmt.Sprintf("Detected intent: %s", intent))
	ev.Metadata = map[string]any{"intent": string(intent)}
	sink.Emit(ev)

	sink.Emit(events.Progress(gen.ID, events.StageContextBuilding, 0.20, "Building iteration context"))
	prompt := BuildIterationPrompt(existing, gen.Prompt, intent)
	schema := SchemaFromFiles(existing)

	contextMap := make(map[string]any, len(gen.Context)+2)
	for k, v := range gen.Context {
		contextMap[k] = v
	}
	contextMap["is_iteration"] = true
	contextMap["generation_id"] = gen.ID

	sink.Emit(events.Progress(gen.ID, events.StageCodeGeneration, 0.40, "Generating changes"))
	changes, err := e.generateChanges(ctx, prov, prompt, schema, contextMap, logger)
	if err != nil {
		return nil, err
	}

	if len(changes) == 0 {
		logger.Info("Iteration produced no changes, keeping parent files")
		sink.Emit(events.Progress(gen.ID, events.StageNoChanges, 0.90,
			"No changes required, project is unchanged"))
		return &IterationResult{
			Files:     existing.Clone(),
			Summary:   &models.ChangesSummary{},
			Intent:    intent,
			NoChanges: true,
		}, nil
	}

	sink.Emit(events.Progress(gen.ID, events.StageMergingFiles, 0.80,
		fmt.Sprintf("Merging %d changed files", len(changes))))
	result := mergeChanges(existing, changes, intent)

	if err := e.validateMerge(gen, existing, result, intent, sink, logger); err != nil {
		return nil, err
	}

	summary := BuildChangesSummary(existing, result)

	done := events.Progress(gen.ID, events.StageIterationComplete, 1.0,
		fmt.Sprintf("Iteration complete: %d files", len(result)))
	done.Metadata = map[string]any{"file_count": len(result)}
	sink.Emit(done)

	return &IterationResult{Files: result, Summary: summary, Intent: intent}, nil
}

// generateChanges calls the provider, retrying malformed output once with a
// stricter instruction.
func (e *IterationEngine) generateChanges(ctx context.Context, prov provider.Port, prompt string, schema models.Schema, contextMap map[string]any, logger *slog.Logger) (models.FileMap, error) {
	changes, err := prov.GenerateCode(ctx, prompt, schema, contextMap, nil)
	if err == nil {
		return changes, nil
	}
	if provider.KindOf(err) != provider.KindMalformed {
		return nil, err
	}
	logger.Warn("Malformed iteration output, retrying with stricter instruction", "error", err)
	return prov.GenerateCode(ctx, prompt+stricterOutputInstruction, schema, contextMap, nil)
}

// mergeChanges combines the provider's changed files with the parent set.
// Add and modify overlay; remove subtracts the changed keys. Unknown intents
// fall back to the modify behavior.
func mergeChanges(existing, changes models.FileMap, intent Intent) models.FileMap {
	result := existing.Clone()
	if intent == IntentRemove {
		for p := range changes {
			delete(result, p)
		}
		return result
	}
	result.Merge(changes)
	return result
}

// validateMerge enforces the post-merge safety checks: the result must not
// be empty, and outside remove intent it must keep at least
// dataLossThreshold of the parent's files.
func (e *IterationEngine) validateMerge(gen *models.Generation, existing, result models.FileMap, intent Intent, sink events.Sink, logger *slog.Logger) error {
	if len(result) == 0 {
		return ErrIterationProducedEmpty
	}
	if intent == IntentRemove || e.dataLossThreshold <= 0 {
		return nil
	}
	if float64(len(result)) >= e.dataLossThreshold*float64(len(existing)) {
		return nil
	}

	ev := events.Progress(gen.ID, events.StageValidation, 0.85,
		fmt.Sprintf("Merge would shrink the project from %d to %d files", len(existing), len(result)))
	ev.WarningType = events.WarningDataLossDetection
	ev.Metadata = map[string]any{
		"existing_files": len(existing),
		"result_files":   len(result),
		"threshold":      e.dataLossThreshold,
	}
	sink.Emit(ev)

	if e.warnOnly {
		logger.Warn("Data loss threshold crossed, proceeding per configuration",
			"existing", len(existing), "result", len(result))
		return nil
	}
	return fmt.Errorf("%w: %d of %d files would remain", ErrDataLossDetected, len(result), len(existing))
}

// lockParent serializes iterations on the same parent. The entry is
// refcounted so the map does not grow with finished parents.
func (e *IterationEngine) lockParent(parentID string) func() {
	e.mu.Lock()
	lock, ok := e.parents[parentID]
	if !ok {
		lock = &parentLock{}
		e.parents[parentID] = lock
	}
	lock.refs++
	e.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		e.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(e.parents, parentID)
		}
		e.mu.Unlock()
	}
}
