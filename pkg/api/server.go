// Package api exposes the HTTP surface: generation submission and
// iteration, cancellation, project lookups, the event stream gateway
// (SSE + WebSocket), and health.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/forge/pkg/config"
	"github.com/codeready-toolchain/forge/pkg/database"
	"github.com/codeready-toolchain/forge/pkg/events"
	"github.com/codeready-toolchain/forge/pkg/provider"
	"github.com/codeready-toolchain/forge/pkg/queue"
	"github.com/codeready-toolchain/forge/pkg/services"
)

// Server is the HTTP API server.
type Server struct {
	cfg         *config.Config
	dbClient    *database.Client
	generations *services.GenerationService
	workerPool  *queue.WorkerPool
	bus         *events.Bus
	registry    *provider.Registry
	tokens      *tokenRegistry

	echo       *echo.Echo
	httpServer *http.Server
}

// NewServer creates the API server and registers its routes.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	generations *services.GenerationService,
	workerPool *queue.WorkerPool,
	bus *events.Bus,
	registry *provider.Registry,
) *Server {
	s := &Server{
		cfg:         cfg,
		dbClient:    dbClient,
		generations: generations,
		workerPool:  workerPool,
		bus:         bus,
		registry:    registry,
		tokens:      newTokenRegistry(cfg.Stream.TokenTTL),
		echo:        echo.New(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.GET("/api/v1/health", s.healthHandler)

	e.POST("/api/v1/generations", s.submitGenerationHandler)
	e.POST("/api/v1/generations/:id/iterate", s.iterateGenerationHandler)
	e.GET("/api/v1/generations/:id", s.getGenerationHandler)
	e.POST("/api/v1/generations/:id/cancel", s.cancelGenerationHandler)
	e.POST("/api/v1/generations/:id/stream-token", s.streamTokenHandler)
	e.GET("/api/v1/generations/:id/stream", s.streamGenerationHandler)
	e.GET("/api/v1/generations/:id/ws", s.wsGenerationHandler)

	e.GET("/api/v1/projects/:id", s.getProjectHandler)
	e.GET("/api/v1/projects/:id/generations", s.listProjectGenerationsHandler)
}

// ServeHTTP makes the server usable directly as an http.Handler in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start begins serving on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
