package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/forge/pkg/database"
	"github.com/codeready-toolchain/forge/pkg/queue"
	"github.com/codeready-toolchain/forge/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access.
// Only forge's own components (database, worker_pool) are checked; the
// provider list is informational. A degraded worker pool does not fail the
// probe, so the orchestrator only restarts the pod when the database is
// unreachable.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
	if err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy}
	}

	var poolHealth *queue.PoolHealth
	if s.workerPool != nil {
		ph := s.workerPool.Health()
		poolHealth = ph
		if ph != nil && !ph.IsHealthy {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			msg := healthStatusUnhealthy
			if ph.DBError != "" {
				msg = ph.DBError
			}
			checks["worker_pool"] = HealthCheck{Status: healthStatusDegraded, Message: msg}
		} else {
			checks["worker_pool"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	resp := &HealthResponse{
		Status:   status,
		Version:  version.GitCommit,
		Checks:   checks,
		Database: dbHealth,
	}
	resp.WorkerPool = poolHealth
	if s.registry != nil {
		resp.Providers = s.registry.Infos()
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, resp)
}
