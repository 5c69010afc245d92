package health

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers the ops routes
func RegisterRoutes(e *echo.Echo, h *Handler, m *Metrics) {
	e.GET("/health", h.Health)
	e.GET("/healthz", h.Healthz)
	e.GET("/stats", h.Stats)
	e.GET("/metrics", m.Handler())
}
