package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// TierThreshold maps a file-size bracket to an expiry duration. A
// MaxSizeMB of zero (or less) marks the unbounded catch-all tier, which
// must come last. MaxDownloads overrides the global per-link quota when
// set; zero means "use the global value".
type TierThreshold struct {
	Name         string  `mapstructure:"name" json:"name"`
	MaxSizeMB    float64 `mapstructure:"max_size_mb" json:"max_size_mb"`
	ExpiryHours  int     `mapstructure:"expiry_hours" json:"expiry_hours"`
	MaxDownloads int     `mapstructure:"max_downloads" json:"max_downloads,omitempty"`
}

// Config represents the application configuration
type Config struct {
	Port                int             `mapstructure:"port" json:"port"`
	BaseURL             string          `mapstructure:"base_url" json:"base_url"`
	DownloadPath        string          `mapstructure:"download_path" json:"download_path"`
	LinksFile           string          `mapstructure:"links_file" json:"links_file"`
	CacheIndexPath      string          `mapstructure:"cache_index_path" json:"cache_index_path"`
	CleanupIntervalSec  int             `mapstructure:"cleanup_interval_sec" json:"cleanup_interval_sec"`
	MaxDownloadsPerLink int             `mapstructure:"max_downloads_per_link" json:"max_downloads_per_link"`
	RetrievalTimeoutSec int             `mapstructure:"retrieval_timeout_sec" json:"retrieval_timeout_sec"`
	CDSURL              string          `mapstructure:"cds_url" json:"cds_url"`
	CDSKey              string          `mapstructure:"cds_key" json:"cds_key"`
	Tiers               []TierThreshold `mapstructure:"tiers" json:"tiers"`
}

// DefaultTiers is the baseline size-to-expiry table: small files download
// fast and expire quickly, large files get more time.
func DefaultTiers() []TierThreshold {
	return []TierThreshold{
		{Name: "tiny", MaxSizeMB: 10, ExpiryHours: 2},
		{Name: "small", MaxSizeMB: 50, ExpiryHours: 4},
		{Name: "medium", MaxSizeMB: 200, ExpiryHours: 8},
		{Name: "large", MaxSizeMB: 500, ExpiryHours: 12},
		{Name: "xlarge", MaxSizeMB: 1000, ExpiryHours: 24},
		{Name: "huge", MaxSizeMB: 0, ExpiryHours: 48},
	}
}

// Default returns the built-in configuration, used when no config file
// exists.
func Default() *Config {
	return &Config{
		Port:                5000,
		BaseURL:             "http://localhost:5000/",
		DownloadPath:        "./downloads",
		LinksFile:           "./data/temp_links.json",
		CacheIndexPath:      "./data/download_index.db",
		CleanupIntervalSec:  300,
		MaxDownloadsPerLink: 5,
		RetrievalTimeoutSec: 300,
		CDSURL:              "https://cds.climate.copernicus.eu/api/v2",
		Tiers:               DefaultTiers(),
	}
}

// LoadConfig loads a configuration from a YAML file. Keys absent from the
// file fall back to the built-in defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config file format: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("port", def.Port)
	v.SetDefault("base_url", def.BaseURL)
	v.SetDefault("download_path", def.DownloadPath)
	v.SetDefault("links_file", def.LinksFile)
	v.SetDefault("cache_index_path", def.CacheIndexPath)
	v.SetDefault("cleanup_interval_sec", def.CleanupIntervalSec)
	v.SetDefault("max_downloads_per_link", def.MaxDownloadsPerLink)
	v.SetDefault("retrieval_timeout_sec", def.RetrievalTimeoutSec)
	v.SetDefault("cds_url", def.CDSURL)

	tiers := make([]map[string]any, 0, len(def.Tiers))
	for _, t := range def.Tiers {
		tiers = append(tiers, map[string]any{
			"name":         t.Name,
			"max_size_mb":  t.MaxSizeMB,
			"expiry_hours": t.ExpiryHours,
		})
	}
	v.SetDefault("tiers", tiers)
}

// Validate checks the configuration for values the link manager cannot
// operate with.
func (c *Config) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("port must be greater than 0")
	}
	if c.CleanupIntervalSec <= 0 {
		return fmt.Errorf("cleanup_interval_sec must be greater than 0")
	}
	if c.MaxDownloadsPerLink <= 0 {
		return fmt.Errorf("max_downloads_per_link must be greater than 0")
	}
	if c.RetrievalTimeoutSec <= 0 {
		return fmt.Errorf("retrieval_timeout_sec must be greater than 0")
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("at least one tier must be configured")
	}

	prevBound := 0.0
	for i, t := range c.Tiers {
		if t.ExpiryHours <= 0 {
			return fmt.Errorf("tier %q: expiry_hours must be greater than 0", t.Name)
		}
		if t.MaxDownloads < 0 {
			return fmt.Errorf("tier %q: max_downloads must not be negative", t.Name)
		}
		if t.MaxSizeMB <= 0 {
			if i != len(c.Tiers)-1 {
				return fmt.Errorf("tier %q: only the last tier may be unbounded", t.Name)
			}
			continue
		}
		if t.MaxSizeMB <= prevBound {
			return fmt.Errorf("tier %q: max_size_mb must be greater than the previous tier's bound", t.Name)
		}
		prevBound = t.MaxSizeMB
	}

	return nil
}

// CleanupInterval returns how often the reclamation scheduler runs.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSec) * time.Second
}

// RetrievalTimeout returns the deadline for a single data retrieval.
func (c *Config) RetrievalTimeout() time.Duration {
	return time.Duration(c.RetrievalTimeoutSec) * time.Second
}
