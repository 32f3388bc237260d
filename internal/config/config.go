package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"fieldcal/internal/ics"
	"fieldcal/internal/timeutil"
)

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "mysql".
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// GridConfig shapes the day view. Times are "HH:MM".
type GridConfig struct {
	DayStart    string  `yaml:"day_start" json:"day_start"`
	DayEnd      string  `yaml:"day_end" json:"day_end"`
	SlotMinutes int     `yaml:"slot_minutes" json:"slot_minutes"`
	Sensitivity float64 `yaml:"sensitivity" json:"sensitivity"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Database DatabaseConfig `yaml:"database" json:"database"`
	Grid     GridConfig     `yaml:"grid" json:"grid"`

	// FlushCron is the cron schedule for pushing queued deletions and
	// refreshing ICS subscriptions.
	FlushCron string `yaml:"flush_cron" json:"flush_cron"`

	// CacheDir holds downloaded ICS bodies.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	ICSSources []ics.Subscription `yaml:"ics_sources" json:"ics_sources"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		LogLevel: "info",
		Database: DatabaseConfig{Driver: "sqlite", DSN: "fieldcal.db"},
		Grid: GridConfig{
			DayStart:    "08:00",
			DayEnd:      "23:00",
			SlotMinutes: 15,
			Sensitivity: 2,
		},
		FlushCron:  "*/5 * * * *",
		CacheDir:   "./var/ics-cache",
		ICSSources: []ics.Subscription{},
	}
}

// Normalize fills in missing or invalid values with defaults so that
// partially filled configs still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = def.LogLevel
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = def.Database.DSN
	}

	if _, err := timeutil.ParseClock(c.Grid.DayStart); err != nil {
		c.Grid.DayStart = def.Grid.DayStart
	}
	if _, err := timeutil.ParseClock(c.Grid.DayEnd); err != nil {
		c.Grid.DayEnd = def.Grid.DayEnd
	}
	if c.Grid.SlotMinutes <= 0 || c.Grid.SlotMinutes > 60 {
		c.Grid.SlotMinutes = def.Grid.SlotMinutes
	}
	if c.Grid.Sensitivity <= 0 {
		c.Grid.Sensitivity = def.Grid.Sensitivity
	}
	if s, _ := c.Slots(); s.Count() == 0 {
		c.Grid.DayStart, c.Grid.DayEnd = def.Grid.DayStart, def.Grid.DayEnd
	}

	if c.FlushCron == "" {
		c.FlushCron = def.FlushCron
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.ICSSources == nil {
		c.ICSSources = []ics.Subscription{}
	}
}

// Slots converts the grid settings into a slot configuration.
func (c *Config) Slots() (timeutil.SlotConfig, error) {
	start, err := timeutil.ParseClock(c.Grid.DayStart)
	if err != nil {
		return timeutil.SlotConfig{}, fmt.Errorf("config: grid.day_start: %w", err)
	}
	end, err := timeutil.ParseClock(c.Grid.DayEnd)
	if err != nil {
		return timeutil.SlotConfig{}, fmt.Errorf("config: grid.day_end: %w", err)
	}
	return timeutil.SlotConfig{DayStart: start, DayEnd: end, Step: c.Grid.SlotMinutes}, nil
}

// Load loads configuration from the given YAML path. On first run the
// defaults are written to path with 0600 permissions and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file and rename) with 0600
// permissions, creating the parent directory when needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".fieldcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
