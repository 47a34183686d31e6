// Package provider defines the port all code-generation backends implement
// and ships three implementations: gemini (Google Generative Language API),
// huggingface (HF Inference API), and local (deterministic offline templates).
//
// Providers translate pipeline tasks into model calls and parse model output
// back into typed results. Transport failures are classified into error
// kinds so the pipeline can decide what is retryable.
package provider

import (
	"context"
	"time"

	"github.com/codeready-toolchain/forge/pkg/events"
	"github.com/codeready-toolchain/forge/pkg/models"
)

// Task identifies a pipeline stage a provider can be routed for.
type Task string

const (
	TaskSchemaExtraction Task = "schema_extraction"
	TaskCodeGeneration   Task = "code_generation"
	TaskCodeReview       Task = "code_review"
	TaskDocumentation    Task = "documentation"
)

// Tasks lists every routable task in routing-table order.
func Tasks() []Task {
	return []Task{TaskSchemaExtraction, TaskCodeGeneration, TaskCodeReview, TaskDocumentation}
}

// Info describes a provider instance for logging and the health endpoint.
type Info struct {
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Capabilities []string `json:"capabilities"`
}

// Port is the interface every provider implements. All calls honor ctx
// cancellation. A vague prompt yields an empty-but-well-formed schema, not
// an error. When contextMap["is_iteration"] is true, GenerateCode returns
// only the files that change.
type Port interface {
	ExtractSchema(ctx context.Context, prompt string, contextMap map[string]any) (models.Schema, error)
	GenerateCode(ctx context.Context, prompt string, schema models.Schema, contextMap map[string]any, sink events.Sink) (models.FileMap, error)
	ReviewCode(ctx context.Context, files models.FileMap) (models.ReviewReport, error)
	GenerateDocumentation(ctx context.Context, files models.FileMap, schema models.Schema, contextMap map[string]any) (models.FileMap, error)
	Info() Info
}

// Settings configures one provider instance. The registry resolves these
// from configuration per provider name.
type Settings struct {
	APIKey          string
	Endpoint        string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	SafetyLevel     string
	Timeout         time.Duration
	Retry           RetryConfig
}

// capabilities returned by every built-in provider.
func allCapabilities() []string {
	caps := make([]string, 0, 4)
	for _, t := range Tasks() {
		caps = append(caps, string(t))
	}
	return caps
}

// IsIteration reports whether the context map marks an iteration request.
func IsIteration(contextMap map[string]any) bool {
	v, ok := contextMap["is_iteration"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
