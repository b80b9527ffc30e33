package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type startRunRequest struct {
	Query string `json:"query"`
}

// StartRun launches a run in the active session.
// POST /v1/runs
func (h *Handler) StartRun(c echo.Context) error {
	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Query) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "query is required"})
	}

	run, err := h.workspace.StartRun(c.Request().Context(), req.Query)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, run)
}

// GetRunSteps returns the merged steps of one run.
// GET /v1/runs/:run_id/steps
func (h *Handler) GetRunSteps(c echo.Context) error {
	runID := c.Param("run_id")
	steps, ok := h.workspace.Steps(runID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not in view"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id": runID,
		"steps":  steps,
	})
}

// GetRunStatus returns the poll state of a run.
// GET /v1/runs/:run_id/status
func (h *Handler) GetRunStatus(c echo.Context) error {
	state, ok := h.runs.Status(c.Param("run_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not tracked"})
	}
	return c.JSON(http.StatusOK, state)
}

// DeleteRun deletes a run and drops its steps from the view.
// DELETE /v1/runs/:run_id
func (h *Handler) DeleteRun(c echo.Context) error {
	runID := c.Param("run_id")
	if err := h.workspace.DeleteRun(c.Request().Context(), runID); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"run_id": runID,
		"status": "deleted",
	})
}
