// Package config loads the site configuration from YAML with embedded defaults.
package config

import (
	"embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/bryan-buckman/micronews/internal/model"
	"github.com/bryan-buckman/micronews/internal/rss"
	"gopkg.in/yaml.v3"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

type StoreConfig struct {
	Driver     string `yaml:"driver"` // "sqlite", "postgres" or "mongo"
	DSN        string `yaml:"dsn"`
	Database   string `yaml:"database"`   // mongo only
	Collection string `yaml:"collection"` // mongo only
}

type AdsConfig struct {
	Client string `yaml:"client"`
	Slot   string `yaml:"slot"`
}

type SiteConfig struct {
	Title      string           `yaml:"title"`
	Categories []model.Category `yaml:"categories"`
	Ads        AdsConfig        `yaml:"ads"`
}

type FeedsConfig struct {
	URLs     []string `yaml:"urls"`
	Category string   `yaml:"category"`
	Interval string   `yaml:"interval"`
}

type Config struct {
	Listen   string      `yaml:"listen"`
	LogLevel string      `yaml:"log_level"`
	Store    StoreConfig `yaml:"store"`
	Site     SiteConfig  `yaml:"site"`
	Feeds    FeedsConfig `yaml:"feeds"`
}

// AdsEnabled returns true if an ad client and slot are configured.
func (c *Config) AdsEnabled() bool {
	return c.Site.Ads.Client != "" && c.Site.Ads.Slot != ""
}

// PollInterval returns the feed polling interval, or 0 when polling is off.
func (c *Config) PollInterval() time.Duration {
	if c.Feeds.Interval == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Feeds.Interval)
	if err != nil {
		return 0
	}
	return d
}

// StoreDSN returns the configured DSN, defaulting SQLite to the data directory.
func (c *Config) StoreDSN() string {
	if c.Store.DSN == "" && (c.Store.Driver == "sqlite" || c.Store.Driver == "") {
		return DataPath()
	}
	return c.Store.DSN
}

func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "micronews", "config.yaml")
}

func DataPath() string {
	return filepath.Join(xdg.DataHome, "micronews", "micronews.db")
}

// Default returns the embedded configuration.
func Default() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}
	return &cfg, nil
}

// Load reads path over the embedded defaults and applies environment
// overrides. A missing file at the default path is not an error.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MICRONEWS_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("MICRONEWS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MICRONEWS_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("MICRONEWS_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
}

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "", "sqlite", "postgres":
	case "mongo":
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store: mongo requires a dsn")
		}
		if cfg.Store.Database == "" || cfg.Store.Collection == "" {
			return fmt.Errorf("store: mongo requires database and collection")
		}
	default:
		return fmt.Errorf("store: unknown driver %q (valid: sqlite, postgres, mongo)", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.DSN == "" {
		return fmt.Errorf("store: postgres requires a dsn")
	}

	seen := make(map[string]bool)
	for i, c := range cfg.Site.Categories {
		if c.Name == "" {
			return fmt.Errorf("category %d: name is required", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("category %q: duplicate name", c.Name)
		}
		seen[c.Name] = true
	}

	for _, raw := range cfg.Feeds.URLs {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("feed %q: invalid url: %w", raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("feed %q: url scheme must be http or https, got %q", raw, u.Scheme)
		}
	}
	if cfg.Feeds.Interval != "" {
		d, err := time.ParseDuration(cfg.Feeds.Interval)
		if err != nil {
			return fmt.Errorf("feeds: invalid interval %q: %w", cfg.Feeds.Interval, err)
		}
		if d < rss.MinPollInterval {
			return fmt.Errorf("feeds: interval %s is below the minimum %s", d, rss.MinPollInterval)
		}
	}
	if len(cfg.Feeds.URLs) > 0 && cfg.Feeds.Category == "" {
		return fmt.Errorf("feeds: category is required when urls are set")
	}
	if c := cfg.Feeds.Category; c != "" && !cfg.HasCategory(c) {
		return fmt.Errorf("feeds: category %q is not one of site.categories", c)
	}
	return nil
}

// HasCategory reports whether name is a configured site category.
func (c *Config) HasCategory(name string) bool {
	for _, cat := range c.Site.Categories {
		if cat.Name == name {
			return true
		}
	}
	return false
}

// CategoryLabel returns the display label for name, or name itself.
func (c *Config) CategoryLabel(name string) string {
	for _, cat := range c.Site.Categories {
		if cat.Name == name {
			if cat.Label != "" {
				return cat.Label
			}
			break
		}
	}
	return name
}
