package events

import (
	"fmt"
	"time"
)

// Event status values. Completed and failed are terminal: publishing one
// closes the generation's channel.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Orchestrator stage names (fresh pipeline path).
const (
	StageInitialization         = "initialization"
	StageContextAnalysis        = "context_analysis"
	StageSchemaExtraction       = "schema_extraction"
	StageCodeGenerationStart    = "code_generation_start"
	StageCodeGenerationComplete = "code_generation_complete"
	StageCodeReview             = "code_review"
	StageDocumentation          = "documentation"
	StageSaving                 = "saving"
	StageCompleted              = "completed"
	StageError                  = "error"
)

// Phased generator stage names.
const (
	StagePhasedStarted  = "phased_generation_started"
	StagePhase1Complete = "phase_1_complete"
	StagePhase5Start    = "phase_5_start"
	StagePhase5Complete = "phase_5_complete"
	StagePhase6Start    = "phase_6_start"
	StagePhase6Complete = "phase_6_complete"
	StagePhasedComplete = "phased_generation_complete"
)

// Iteration engine stage names.
const (
	StageIterationStart    = "iteration_start"
	StageIntentDetection   = "intent_detection"
	StageContextBuilding   = "context_building"
	StageCodeGeneration    = "code_generation"
	StageMergingFiles      = "merging_files"
	StageIterationComplete = "iteration_complete"
	StageValidation        = "validation"
	StageNoChanges         = "no_changes"
)

// WarningDataLossDetection tags validation events raised when an iteration
// merge would drop too many parent files.
const WarningDataLossDetection = "data_loss_detection"

// EntityProcessingStage names the per-entity stage of phase 2.
func EntityProcessingStage(i int) string {
	return fmt.Sprintf("entity_processing_%d", i)
}

// PhaseInfo carries phase-level detail on phased-generation events.
type PhaseInfo struct {
	TotalPhases    int    `json:"total_phases,omitempty"`
	CurrentPhase   int    `json:"current_phase,omitempty"`
	Name           string `json:"name,omitempty"`
	FilesGenerated int    `json:"files_generated,omitempty"`
	TotalFiles     int    `json:"total_files,omitempty"`
	EntitiesCount  int    `json:"entities_count"`
}

// GenerationEvent is the wire envelope streamed to subscribers. Timestamp is
// seconds since the Unix epoch as a float, matching the original wire format.
type GenerationEvent struct {
	GenerationID string         `json:"generation_id"`
	Status       string         `json:"status"`
	Stage        string         `json:"stage"`
	Progress     float64        `json:"progress"`
	Message      string         `json:"message,omitempty"`
	PhaseInfo    *PhaseInfo     `json:"phase_info,omitempty"`
	WarningType  string         `json:"warning_type,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Error        string         `json:"error,omitempty"`
	Timestamp    float64        `json:"timestamp"`
}

// IsTerminal reports whether the event ends its generation's stream.
func (e GenerationEvent) IsTerminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// Progress builds a non-terminal processing event.
func Progress(generationID, stage string, progress float64, message string) GenerationEvent {
	return GenerationEvent{
		GenerationID: generationID,
		Status:       StatusProcessing,
		Stage:        stage,
		Progress:     progress,
		Message:      message,
		Timestamp:    Now(),
	}
}

// Completed builds the terminal success event.
func Completed(generationID, message string) GenerationEvent {
	return GenerationEvent{
		GenerationID: generationID,
		Status:       StatusCompleted,
		Stage:        StageCompleted,
		Progress:     1.0,
		Message:      message,
		Timestamp:    Now(),
	}
}

// Failed builds the terminal failure event. The message is user-facing;
// errText is the stable short error cause ("cancelled", "provider error").
func Failed(generationID, message, errText string) GenerationEvent {
	return GenerationEvent{
		GenerationID: generationID,
		Status:       StatusFailed,
		Stage:        StageError,
		Progress:     0.0,
		Message:      message,
		Error:        errText,
		Timestamp:    Now(),
	}
}

// Now returns the current time as float seconds since the Unix epoch.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Sink receives events from pipeline components. A nil Sink drops them,
// so emitters never need a nil check at call sites.
type Sink func(GenerationEvent)

// Emit sends ev through the sink if one is attached.
func (s Sink) Emit(ev GenerationEvent) {
	if s != nil {
		s(ev)
	}
}

// Publisher is the write side of the event bus.
type Publisher interface {
	Publish(generationID string, ev GenerationEvent)
}
