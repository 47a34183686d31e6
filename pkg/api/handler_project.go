package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// getProjectHandler handles GET /api/v1/projects/:id.
func (s *Server) getProjectHandler(c *echo.Context) error {
	projectID := c.Param("id")
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project id is required")
	}

	project, err := s.generations.GetProject(c.Request().Context(), projectID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, project)
}

// listProjectGenerationsHandler handles GET /api/v1/projects/:id/generations.
// Returns the project's generations, newest version first.
func (s *Server) listProjectGenerationsHandler(c *echo.Context) error {
	projectID := c.Param("id")
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project id is required")
	}

	// 404 for unknown projects rather than an empty list.
	if _, err := s.generations.GetProject(c.Request().Context(), projectID); err != nil {
		return mapServiceError(err)
	}

	gens, err := s.generations.ListByProject(c.Request().Context(), projectID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, gens)
}
