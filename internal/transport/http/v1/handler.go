// Package v1 provides the dashboard's v1 HTTP handlers.
package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runview/internal/adapter/backend"
	"github.com/xiaot623/gogo/runview/internal/domain"
	"github.com/xiaot623/gogo/runview/internal/policy"
	"github.com/xiaot623/gogo/runview/internal/workspace"
)

// Workspace is the view state the handlers read and drive.
type Workspace interface {
	View() workspace.View
	Steps(runID string) ([]domain.ConsolidatedStep, bool)
	SwitchSession(ctx context.Context, sessionID string) error
	Messages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
	StartRun(ctx context.Context, query string) (*domain.Run, error)
	DeleteRun(ctx context.Context, runID string) error
}

// RunTracker reports poll loop state.
type RunTracker interface {
	Status(runID string) (domain.RunState, bool)
}

// Auth is the sign-in state machine.
type Auth interface {
	SignIn(token string) error
	SignOut()
	State() policy.AuthState
}

// Handler handles HTTP requests.
type Handler struct {
	workspace Workspace
	runs      RunTracker
	auth      Auth
}

func NewHandler(ws Workspace, runs RunTracker, auth Auth) *Handler {
	return &Handler{
		workspace: ws,
		runs:      runs,
		auth:      auth,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/view", h.GetView)
	e.POST("/v1/sessions/:session_id/activate", h.ActivateSession)
	e.GET("/v1/sessions/:session_id/messages", h.GetSessionMessages)

	e.POST("/v1/runs", h.StartRun)
	e.GET("/v1/runs/:run_id/steps", h.GetRunSteps)
	e.GET("/v1/runs/:run_id/status", h.GetRunStatus)
	e.DELETE("/v1/runs/:run_id", h.DeleteRun)

	e.POST("/v1/auth/token", h.SignIn)
	e.DELETE("/v1/auth/token", h.SignOut)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":     "healthy",
		"auth_state": string(h.auth.State()),
	})
}

func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, workspace.ErrNoActiveSession):
		status = http.StatusConflict
	case errors.Is(err, policy.ErrFetchDenied):
		status = http.StatusUnauthorized
	case errors.Is(err, backend.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
