package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type signInRequest struct {
	Token string `json:"token"`
}

// SignIn stores a backend token.
// POST /v1/auth/token
func (h *Handler) SignIn(c echo.Context) error {
	var req signInRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := h.auth.SignIn(req.Token); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"auth_state": string(h.auth.State())})
}

// SignOut drops the backend token.
// DELETE /v1/auth/token
func (h *Handler) SignOut(c echo.Context) error {
	h.auth.SignOut()
	return c.JSON(http.StatusOK, map[string]string{"auth_state": string(h.auth.State())})
}
