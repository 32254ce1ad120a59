package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beiqi7/copernicus-cdsapi-webui/internal/app"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/config"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/retrieval"
)

const defaultConfigPath = "./config.yaml"

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	retriever := retrieval.NewClient(cfg.CDSURL, cfg.CDSKey, cfg.DownloadPath)

	application, err := app.New(cfg, retriever)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	application.Start()
	defer application.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Printf("")
	log.Printf("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	log.Printf("Server shutdown complete")
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("No config file at %s, using defaults", path)
		return config.Default(), nil
	}

	return config.LoadConfig(path)
}
