package models

// Classification is the deterministic result of analyzing a prompt:
// inferred domain, tech stack, a suggested project name, and entity hints.
// Confidence is 0 when nothing matched.
type Classification struct {
	Domain        string   `json:"domain"`
	TechStack     string   `json:"tech_stack"`
	SuggestedName string   `json:"suggested_name"`
	Entities      []string `json:"entities"`
	Confidence    float64  `json:"confidence"`
}
