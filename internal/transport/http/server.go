// Package http provides the HTTP server of the runview dashboard.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/xiaot623/gogo/runview/internal/transport/http/v1"
	"github.com/xiaot623/gogo/runview/internal/transport/ws"
)

// NewServer creates the dashboard API server: the v1 API, the websocket
// endpoint and Prometheus metrics.
func NewServer(api *v1.Handler, wsServer *ws.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.RegisterRoutes(e)
	e.GET("/ws", wsServer.HandleWebSocket)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}
