package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/plume/browser"
	"github.com/hazyhaar/plume/journal"
	"github.com/hazyhaar/plume/poster"
	"github.com/hazyhaar/plume/prepare"
)

// Config holds all plume configuration. Every field can come from the
// YAML file; fields left empty fall back to environment variables and
// then to defaults. The poster section has no default for base_url and
// handle, so a config that never names the account fails at boot.
type Config struct {
	Listen  string `yaml:"listen"`
	DBPath  string `yaml:"db_path"`
	DataDir string `yaml:"data_dir"`

	Poster  poster.Config  `yaml:"poster"`
	Prepare prepare.Config `yaml:"prepare"`
	Browser BrowserConfig  `yaml:"browser"`
	Queue   QueueConfig    `yaml:"queue"`

	Retention RetentionConfig `yaml:"retention"`
}

// BrowserConfig controls the Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
}

// QueueConfig controls the submission worker and its change watcher.
type QueueConfig struct {
	Poll          time.Duration `yaml:"poll"`
	WatchInterval time.Duration `yaml:"watch_interval"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// RetentionConfig controls journal cleanup.
type RetentionConfig struct {
	AttemptsDays int           `yaml:"attempts_days"`
	ArchiveDays  int           `yaml:"archive_days"`
	Sweep        time.Duration `yaml:"sweep"`
}

// resolveConfig loads the YAML file when given, then fills the gaps from
// the environment and built-in defaults.
func resolveConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":" + env("PORT", "8086")
	}
	if c.DBPath == "" {
		c.DBPath = env("DB_PATH", "db/plume.db")
	}
	if c.DataDir == "" {
		c.DataDir = env("DATA_DIR", "data")
	}
	if c.Poster.BaseURL == "" {
		c.Poster.BaseURL = env("PLATFORM_URL", "https://x.com")
	}
	if c.Poster.Handle == "" {
		c.Poster.Handle = os.Getenv("PLATFORM_HANDLE")
	}
	if c.Browser.Remote == "" {
		c.Browser.Remote = os.Getenv("BROWSER_REMOTE")
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = env("BROWSER_STEALTH", "headless")
	}
	if c.Queue.Poll <= 0 {
		c.Queue.Poll = 30 * time.Second
	}
	if c.Queue.WatchInterval <= 0 {
		c.Queue.WatchInterval = time.Second
	}
	if c.Queue.WatchDebounce <= 0 {
		c.Queue.WatchDebounce = 250 * time.Millisecond
	}
	if c.Retention.AttemptsDays <= 0 {
		c.Retention.AttemptsDays = 30
	}
	if c.Retention.ArchiveDays <= 0 {
		c.Retention.ArchiveDays = 180
	}
	if c.Retention.Sweep <= 0 {
		c.Retention.Sweep = 6 * time.Hour
	}
}

// stealthLevel maps the config string onto the browser enum. Anything
// that is not "headful" runs headless.
func stealthLevel(s string) browser.StealthLevel {
	if s == "headful" {
		return browser.LevelHeadful
	}
	return browser.LevelHeadless
}

func (c *Config) retention() journal.RetentionConfig {
	return journal.RetentionConfig{
		AttemptsDays: c.Retention.AttemptsDays,
		ArchiveDays:  c.Retention.ArchiveDays,
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
