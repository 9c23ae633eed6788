// Package http provides the public HTTP server.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xiaot623/campusconnect/internal/logging"
)

// NewServer creates the echo server with the public routes, the metrics endpoint, and
// the websocket endpoint when wsHandler is non-nil.
func NewServer(h *Handler, gatherer prometheus.Gatherer, wsHandler echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(logging.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h.RegisterRoutes(e)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	if wsHandler != nil {
		e.GET("/ws", wsHandler)
	}
	return e
}
