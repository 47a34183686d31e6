package models

import "time"

// GenerationStatus is the lifecycle state of a generation. Completed and
// failed are terminal and sticky: once reached, the status never changes.
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// IsTerminal reports whether the status is final.
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed
}

// ChangesSummary describes what an iteration did to its parent's file set.
type ChangesSummary struct {
	Added        []string `json:"added,omitempty"`
	Removed      []string `json:"removed,omitempty"`
	Modified     []string `json:"modified,omitempty"`
	LinesAdded   int      `json:"lines_added,omitempty"`
	LinesDeleted int      `json:"lines_deleted,omitempty"`
}

// Empty reports whether the iteration changed nothing.
func (c ChangesSummary) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Modified) == 0
}

// Generation is one attempt to produce a project from a prompt. Version is
// 1-based and monotonic within the project. Iterations carry the parent
// generation they derive from; the parent must be completed and belong to
// the same project.
type Generation struct {
	ID                 string           `json:"id"`
	ProjectID          string           `json:"project_id"`
	UserID             string           `json:"user_id"`
	Version            int              `json:"version"`
	Prompt             string           `json:"prompt"`
	Context            map[string]any   `json:"context,omitempty"`
	Status             GenerationStatus `json:"status"`
	IsIteration        bool             `json:"is_iteration"`
	ParentGenerationID *string          `json:"parent_generation_id,omitempty"`
	StoragePath        string           `json:"storage_path,omitempty"`
	FileCount          int              `json:"file_count"`
	TotalSizeBytes     int64            `json:"total_size_bytes"`
	OutputFiles        FileMap          `json:"output_files,omitempty"`
	DiffFromPrevious   string           `json:"diff_from_previous,omitempty"`
	ChangesSummary     *ChangesSummary  `json:"changes_summary,omitempty"`
	QualityScore       *float64         `json:"quality_score,omitempty"`
	ErrorMessage       string           `json:"error_message,omitempty"`
	ClaimedBy          *string          `json:"claimed_by,omitempty"`
	LastHeartbeat      *time.Time       `json:"last_heartbeat,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	StartedAt          *time.Time       `json:"started_at,omitempty"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// GenerationOutputs carries the persisted result of a completed generation.
type GenerationOutputs struct {
	StoragePath      string
	FileCount        int
	TotalSizeBytes   int64
	OutputFiles      FileMap // nil when offloaded to the artifact store
	DiffFromPrevious string
	ChangesSummary   *ChangesSummary
	QualityScore     *float64
}
