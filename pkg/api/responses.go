package api

import (
	"time"

	"github.com/codeready-toolchain/forge/pkg/database"
	"github.com/codeready-toolchain/forge/pkg/provider"
	"github.com/codeready-toolchain/forge/pkg/queue"
)

// GenerationAcceptedResponse is returned by POST /api/v1/generations and
// POST /api/v1/generations/:id/iterate.
type GenerationAcceptedResponse struct {
	GenerationID       string `json:"generation_id"`
	ProjectID          string `json:"project_id"`
	Status             string `json:"status"`
	Version            int    `json:"version"`
	IsIteration        bool   `json:"is_iteration,omitempty"`
	SSEToken           string `json:"sse_token"`
	AutoCreatedProject bool   `json:"auto_created_project"`
	ProjectName        string `json:"project_name"`
	ProjectDomain      string `json:"project_domain,omitempty"`
}

// CancelResponse is returned by POST /api/v1/generations/:id/cancel.
type CancelResponse struct {
	GenerationID string `json:"generation_id"`
	Message      string `json:"message"`
}

// StreamTokenResponse is returned by
// POST /api/v1/generations/:id/stream-token.
type StreamTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthCheck is one named component check in the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string                 `json:"status"`
	Version    string                 `json:"version"`
	Checks     map[string]HealthCheck `json:"checks"`
	Database   *database.HealthStatus `json:"database,omitempty"`
	WorkerPool *queue.PoolHealth      `json:"worker_pool,omitempty"`
	Providers  []provider.Info        `json:"providers,omitempty"`
}
