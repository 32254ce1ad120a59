package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HandleHome describes the API surface.
func (h *Handler) HandleHome(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"service": "copernicus-cdsapi-webui",
		"endpoints": map[string]string{
			"retrieve": "POST /api/retrieve",
			"status":   "GET /api/links/:token",
			"download": "GET /download/:token",
			"health":   "GET /api/health",
		},
	})
}

// HandleHealth reports liveness and the size of the link table.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "ok",
		"active_links": h.store.Count(),
	})
}
