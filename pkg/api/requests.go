package api

// SubmitGenerationRequest is the body of POST /api/v1/generations.
type SubmitGenerationRequest struct {
	Prompt    string         `json:"prompt"`
	ProjectID string         `json:"project_id,omitempty"`
	TechStack string         `json:"tech_stack,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// IterateGenerationRequest is the body of
// POST /api/v1/generations/:id/iterate.
type IterateGenerationRequest struct {
	Prompt    string         `json:"prompt"`
	TechStack string         `json:"tech_stack,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}
