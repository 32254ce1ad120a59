package handler

import (
	"context"
	"log"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/beiqi7/copernicus-cdsapi-webui/internal/cache"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/model"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/retrieval"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/utils"
)

// HandleRetrieve accepts an ERA5 request, fetches the data (or reuses a
// cached result) and issues a temporary download link for the finished
// file.
func (h *Handler) HandleRetrieve(c echo.Context) error {
	var req retrieval.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
	}

	result, cached, err := h.fetchOrReuse(c.Request().Context(), req)
	if err != nil {
		log.Printf("Error: retrieval failed: %v", err)
		return c.JSON(http.StatusBadGateway, map[string]any{"error": "data retrieval failed, please try again later"})
	}

	rec, err := h.store.Create(result.FilePath, result.SizeBytes)
	if err != nil {
		log.Printf("Error: failed to create download link: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "failed to create download link"})
	}

	log.Printf("Link issued: %s for %s (%s, %d downloads, expires %s)",
		rec.Token, result.Filename, utils.FormatFileSize(rec.SizeBytes),
		rec.MaxDownloads, rec.ExpiresAt.Format(time.RFC3339))

	return c.JSON(http.StatusOK, h.linkResponse(rec, result.Filename, cached))
}

// fetchOrReuse checks the retrieval cache before going out to the data
// service. A cache hit only counts if the backing file still exists; the
// reclamation pass may have deleted it since it was cached.
func (h *Handler) fetchOrReuse(ctx context.Context, req retrieval.Request) (retrieval.Result, bool, error) {
	sig := req.Signature()

	entry, ok, err := h.cache.Lookup(sig)
	if err != nil {
		log.Printf("Warning: cache lookup failed for %s: %v", sig, err)
	}
	if ok {
		if _, err := os.Stat(entry.FilePath); err == nil {
			log.Printf("Cache hit for request %s: %s", sig[:8], entry.Filename)
			return retrieval.Result{
				Filename:  entry.Filename,
				FilePath:  entry.FilePath,
				SizeBytes: entry.SizeBytes,
			}, true, nil
		}
		// Stale entry, the file has been reclaimed.
		if err := h.cache.Delete(sig); err != nil {
			log.Printf("Warning: failed to drop stale cache entry %s: %v", sig, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.RetrievalTimeout())
	defer cancel()

	result, err := h.retriever.Retrieve(ctx, req)
	if err != nil {
		return retrieval.Result{}, false, err
	}

	if err := h.cache.Put(cache.Entry{
		Signature: sig,
		Filename:  result.Filename,
		FilePath:  result.FilePath,
		SizeBytes: result.SizeBytes,
		CreatedAt: time.Now(),
	}); err != nil {
		log.Printf("Warning: failed to cache retrieval %s: %v", sig, err)
	}

	return result, false, nil
}

func (h *Handler) linkResponse(rec model.LinkRecord, filename string, cached bool) map[string]any {
	expiresIn := time.Until(rec.ExpiresAt).Hours()
	return map[string]any{
		"token":            rec.Token,
		"url":              h.cfg.BaseURL + "download/" + rec.Token,
		"filename":         filename,
		"size":             rec.SizeBytes,
		"size_human":       utils.FormatFileSize(rec.SizeBytes),
		"expires_at":       rec.ExpiresAt,
		"expires_in_hours": int(math.Ceil(expiresIn)),
		"max_downloads":    rec.MaxDownloads,
		"cached":           cached,
	}
}
