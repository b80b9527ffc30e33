package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GetView returns the merged steps of the active session.
// GET /v1/view
func (h *Handler) GetView(c echo.Context) error {
	return c.JSON(http.StatusOK, h.workspace.View())
}

// ActivateSession switches the active session.
// POST /v1/sessions/:session_id/activate
func (h *Handler) ActivateSession(c echo.Context) error {
	sessionID := c.Param("session_id")
	if err := h.workspace.SwitchSession(c.Request().Context(), sessionID); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, h.workspace.View())
}

// GetSessionMessages returns a session's messages, including local-only ones
// for the active session.
// GET /v1/sessions/:session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	sessionID := c.Param("session_id")
	messages, err := h.workspace.Messages(c.Request().Context(), sessionID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"messages":   messages,
	})
}
