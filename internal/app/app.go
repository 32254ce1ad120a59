package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/beiqi7/copernicus-cdsapi-webui/internal/cache"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/config"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/handler"
	middie "github.com/beiqi7/copernicus-cdsapi-webui/internal/middleware"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/reclaim"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/retrieval"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/store"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/tier"
)

// App represents the application
type App struct {
	server    *echo.Echo
	store     *store.Store
	cache     *cache.Index
	reclaimer *reclaim.Reclaimer
	config    *config.Config
}

// New creates a new application instance around the given retriever.
func New(cfg *config.Config, retriever retrieval.Retriever) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := setup(cfg); err != nil {
		return nil, err
	}

	policy, err := tier.NewPolicy(cfg.Tiers, cfg.MaxDownloadsPerLink)
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.LinksFile, policy)
	if err != nil {
		return nil, err
	}

	idx, err := cache.Open(cfg.CacheIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open retrieval cache: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Downloads of multi-gigabyte result files can take a while.
	e.Server.ReadTimeout = 1 * time.Minute
	e.Server.WriteTimeout = 30 * time.Minute
	e.Server.IdleTimeout = 2 * time.Minute
	e.Server.ReadHeaderTimeout = 30 * time.Second

	app := &App{
		server:    e,
		store:     st,
		cache:     idx,
		reclaimer: reclaim.New(st, cfg.CleanupInterval()),
		config:    cfg,
	}

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middie.SecurityHeaders())

	registerRoutes(e, app, retriever)
	return app, nil
}

// Start starts the reclamation scheduler and the HTTP server.
func (a *App) Start() {
	a.reclaimer.Start()

	serverAddr := fmt.Sprintf(":%d", a.config.Port)

	go func() {
		if err := a.server.Start(serverAddr); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	log.Printf("Server started on %s", serverAddr)
}

// Stop stops all application services
func (a *App) Stop() {
	a.reclaimer.Stop()
}

// Shutdown gracefully shuts down the server, flushes the final link
// snapshot and closes the cache index.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)

	a.store.Close()
	if cerr := a.cache.Close(); cerr != nil {
		log.Printf("Warning: failed to close retrieval cache: %v", cerr)
	}

	return err
}

// Router exposes the echo instance for tests.
func (a *App) Router() *echo.Echo {
	return a.server
}

// setup ensures all necessary directories exist
func setup(cfg *config.Config) error {
	dirs := []string{
		cfg.DownloadPath,
		filepath.Dir(cfg.LinksFile),
		filepath.Dir(cfg.CacheIndexPath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// registerRoutes registers all HTTP routes
func registerRoutes(e *echo.Echo, app *App, retriever retrieval.Retriever) {
	h := handler.NewHandler(app.store, app.cache, retriever, app.config)

	e.GET("/", h.HandleHome)
	e.GET("/api/health", h.HandleHealth)
	e.POST("/api/retrieve", h.HandleRetrieve)
	e.GET("/api/links/:token", h.HandleLinkStatus)
	e.GET("/download/:token", h.HandleDownload)
}
