package handler

import (
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/cache"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/config"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/retrieval"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/store"
)

// Handler handles HTTP requests
type Handler struct {
	store     *store.Store
	cache     *cache.Index
	retriever retrieval.Retriever
	cfg       *config.Config
}

// NewHandler creates a new handler
func NewHandler(s *store.Store, idx *cache.Index, r retrieval.Retriever, cfg *config.Config) *Handler {
	return &Handler{
		store:     s,
		cache:     idx,
		retriever: r,
		cfg:       cfg,
	}
}
