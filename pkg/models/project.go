package models

import "time"

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectStatusDraft    ProjectStatus = "draft"
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusArchived ProjectStatus = "archived"
)

// MaxOriginalPromptLen bounds the prompt excerpt stored on auto-created
// projects.
const MaxOriginalPromptLen = 1000

// Project groups the generations produced for one application idea.
// LatestVersion is monotonic and equals the highest generation version in
// the project. ActiveGenerationID, when set, references a completed
// generation of this project.
type Project struct {
	ID                 string        `json:"id"`
	UserID             string        `json:"user_id"`
	Name               string        `json:"name"`
	Domain             string        `json:"domain,omitempty"`
	TechStack          string        `json:"tech_stack,omitempty"`
	Status             ProjectStatus `json:"status"`
	AutoCreated        bool          `json:"auto_created"`
	CreationSource     string        `json:"creation_source,omitempty"`
	OriginalPrompt     string        `json:"original_prompt,omitempty"`
	LatestVersion      int           `json:"latest_version"`
	ActiveGenerationID *string       `json:"active_generation_id,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// TruncatePrompt shortens a prompt for storage on the project record.
func TruncatePrompt(prompt string) string {
	if len(prompt) <= MaxOriginalPromptLen {
		return prompt
	}
	return prompt[:MaxOriginalPromptLen]
}
