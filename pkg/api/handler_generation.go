package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/forge/pkg/models"
	"github.com/codeready-toolchain/forge/pkg/services"
)

// submitGenerationHandler handles POST /api/v1/generations.
// Creates a generation in "pending" status and returns immediately with a
// stream token; the worker pool picks the generation up asynchronously.
func (s *Server) submitGenerationHandler(c *echo.Context) error {
	var req SubmitGenerationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt field is required")
	}

	userID := extractAuthor(c)
	result, err := s.generations.Submit(c.Request().Context(), services.SubmitRequest{
		UserID:    userID,
		Prompt:    req.Prompt,
		ProjectID: req.ProjectID,
		TechStack: req.TechStack,
		Context:   req.Context,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusAccepted, s.acceptedResponse(userID, result))
}

// iterateGenerationHandler handles POST /api/v1/generations/:id/iterate.
// The path id is the parent generation; it must be completed and owned by
// the caller.
func (s *Server) iterateGenerationHandler(c *echo.Context) error {
	parentID := c.Param("id")
	if parentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "generation id is required")
	}

	var req IterateGenerationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt field is required")
	}

	userID := extractAuthor(c)
	result, err := s.generations.Iterate(c.Request().Context(), services.IterateRequest{
		UserID:             userID,
		ParentGenerationID: parentID,
		Prompt:             req.Prompt,
		TechStack:          req.TechStack,
		Context:            req.Context,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusAccepted, s.acceptedResponse(userID, result))
}

func (s *Server) acceptedResponse(userID string, result *services.SubmissionResult) *GenerationAcceptedResponse {
	token, _ := s.tokens.Issue(userID, result.Generation.ID)
	return &GenerationAcceptedResponse{
		GenerationID:       result.Generation.ID,
		ProjectID:          result.Project.ID,
		Status:             string(models.GenerationStatusPending),
		Version:            result.Generation.Version,
		IsIteration:        result.Generation.IsIteration,
		SSEToken:           token,
		AutoCreatedProject: result.ProjectCreated,
		ProjectName:        result.Project.Name,
		ProjectDomain:      result.Project.Domain,
	}
}

// getGenerationHandler handles GET /api/v1/generations/:id.
func (s *Server) getGenerationHandler(c *echo.Context) error {
	generationID := c.Param("id")
	if generationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "generation id is required")
	}

	gen, err := s.generations.Get(c.Request().Context(), generationID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, gen)
}

// cancelGenerationHandler handles POST /api/v1/generations/:id/cancel.
func (s *Server) cancelGenerationHandler(c *echo.Context) error {
	generationID := c.Param("id")
	if generationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "generation id is required")
	}

	if err := s.generations.Cancel(c.Request().Context(), generationID); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusAccepted, &CancelResponse{
		GenerationID: generationID,
		Message:      "Generation cancellation requested",
	})
}

// streamTokenHandler handles POST /api/v1/generations/:id/stream-token.
// Issues a fresh single-use token so a disconnected client can resubscribe.
func (s *Server) streamTokenHandler(c *echo.Context) error {
	generationID := c.Param("id")
	if generationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "generation id is required")
	}

	// The generation must exist; token issuance is otherwise unrestricted
	// because identity comes from trusted proxy headers.
	if _, err := s.generations.Get(c.Request().Context(), generationID); err != nil {
		return mapServiceError(err)
	}

	token, expiresAt := s.tokens.Issue(extractAuthor(c), generationID)
	return c.JSON(http.StatusOK, &StreamTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
