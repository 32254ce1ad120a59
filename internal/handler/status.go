package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/beiqi7/copernicus-cdsapi-webui/internal/utils"
)

// HandleLinkStatus reports the bookkeeping state of a link without
// consuming a download. The stored status is reported as-is: a link past
// its expiry stays "active" until the next reclamation pass, but "valid"
// already tells the caller whether a redemption would succeed.
func (h *Handler) HandleLinkStatus(c echo.Context) error {
	tok := c.Param("token")

	rec, err := h.store.Get(tok)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]any{
			"error": "link not found or already reclaimed",
		})
	}

	now := time.Now()
	return c.JSON(http.StatusOK, map[string]any{
		"token":               rec.Token,
		"status":              rec.Status,
		"valid":               !rec.Status.Terminal() && !rec.ExpiredAt(now) && !rec.Exhausted(),
		"download_count":      rec.DownloadCount,
		"max_downloads":       rec.MaxDownloads,
		"remaining_downloads": rec.RemainingDownloads(),
		"expires_at":          rec.ExpiresAt,
		"size":                rec.SizeBytes,
		"size_human":          utils.FormatFileSize(rec.SizeBytes),
	})
}
