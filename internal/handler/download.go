package handler

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/labstack/echo/v4"

	"github.com/beiqi7/copernicus-cdsapi-webui/internal/store"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/utils"
)

// HandleDownload redeems a token and streams the backing file. The
// redemption itself is a single atomic store operation; this handler
// never deletes files, that is the reclamation scheduler's job.
func (h *Handler) HandleDownload(c echo.Context) error {
	tok := c.Param("token")

	rec, err := h.store.TryRedeem(tok)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]any{
			"error": "link not found or already reclaimed",
		})
	case errors.Is(err, store.ErrExpired):
		return c.JSON(http.StatusGone, map[string]any{
			"error": "link expired, please request the data again",
		})
	case errors.Is(err, store.ErrExhausted):
		return c.JSON(http.StatusGone, map[string]any{
			"error": "download limit reached, please request the data again",
		})
	case err != nil:
		log.Printf("Error: redemption failed for %s: %v", tok, err)
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "server error"})
	}

	// Open before anything else: once we hold the descriptor, a
	// concurrent reclamation pass deleting the path cannot break the
	// stream.
	file, err := os.Open(rec.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Warning: file for link %s is gone: %s", tok, rec.FilePath)
			return c.JSON(http.StatusNotFound, map[string]any{"error": "file no longer available"})
		}
		log.Printf("Error: failed to open %s: %v", rec.FilePath, err)
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "failed to open file"})
	}
	defer file.Close()

	contentType := "application/octet-stream"
	if mtype, err := mimetype.DetectReader(file); err == nil {
		contentType = mtype.String()
	}
	if _, err := file.Seek(0, 0); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "failed to read file"})
	}

	filename := filepath.Base(rec.FilePath)
	c.Response().Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Response().Header().Set("Content-Length", fmt.Sprintf("%d", rec.SizeBytes))
	c.Response().Header().Set("X-Expires", fmt.Sprintf("%d", rec.ExpiresAt.UnixNano()/int64(time.Millisecond)))
	c.Response().Header().Set("X-Downloads-Remaining", fmt.Sprintf("%d", rec.RemainingDownloads()))
	c.Response().Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	log.Printf("File served: %s (%s) via link %s, download %d/%d",
		filename, utils.FormatFileSize(rec.SizeBytes), tok, rec.DownloadCount, rec.MaxDownloads)

	return c.Stream(http.StatusOK, contentType, file)
}
