package devbackend

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	userIDKey = "user_id"

	// DevUserID is the identity used when auth is disabled.
	DevUserID = "dev-user"
	// TokenUserID is the identity of the configured static token.
	TokenUserID = "token-user"
)

// authMiddleware accepts a bearer header or a ?token= query parameter, since
// browser EventSource cannot send headers. An empty token disables auth.
func authMiddleware(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/health" {
				return next(c)
			}
			if token == "" {
				c.Set(userIDKey, DevUserID)
				return next(c)
			}

			got := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
			if got == "" {
				got = c.QueryParam("token")
			}
			if got != token {
				return c.JSON(http.StatusUnauthorized, map[string]string{"detail": "invalid or missing token"})
			}
			c.Set(userIDKey, TokenUserID)
			return next(c)
		}
	}
}

func userID(c echo.Context) string {
	if id, ok := c.Get(userIDKey).(string); ok {
		return id
	}
	return DevUserID
}
