// Package config loads portfolio settings from defaults, an optional YAML
// file and PORTFOLIO_* environment variables, in that order.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates nested keys: PORTFOLIO_THEME__DEFAULT sets theme.default.
const EnvPrefix = "PORTFOLIO_"

type Config struct {
	Listen       string `koanf:"listen"`
	DataDir      string `koanf:"data_dir"`
	Database     string `koanf:"database"`
	ContentPath  string `koanf:"content_path"`
	WatchContent bool   `koanf:"watch_content"`
	Mode         string `koanf:"mode"`
	LogLevel     string `koanf:"log_level"`

	Theme    ThemeConfig    `koanf:"theme"`
	Reveal   RevealConfig   `koanf:"reveal"`
	Admin    AdminConfig    `koanf:"admin"`
	Tracking TrackingConfig `koanf:"tracking"`
}

type ThemeConfig struct {
	// Default is "light" or "dark", used when neither a stored value nor a
	// client hint is available.
	Default     string        `koanf:"default"`
	Cookie      string        `koanf:"cookie"`
	IdleTimeout time.Duration `koanf:"idle_timeout"`
}

type RevealConfig struct {
	Threshold float64 `koanf:"threshold"`
}

type AdminConfig struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

type TrackingConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Retention time.Duration `koanf:"retention"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		DataDir:  ".",
		Mode:     "release",
		LogLevel: "info",
		Theme: ThemeConfig{
			Default:     "light",
			Cookie:      "pf_profile",
			IdleTimeout: 30 * time.Minute,
		},
		Reveal: RevealConfig{Threshold: 0.25},
		Tracking: TrackingConfig{
			Enabled:   true,
			Retention: 365 * 24 * time.Hour,
		},
	}
}

// Load reads path (if it exists) and the environment on top of Default.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Variables the site has always honoured.
	if port := os.Getenv("PORT"); port != "" {
		host, _, err := net.SplitHostPort(cfg.Listen)
		if err != nil {
			host = ""
		}
		cfg.Listen = net.JoinHostPort(host, port)
	}
	if cfg.Admin.Username == "" {
		cfg.Admin.Username = os.Getenv("ADMIN_USERNAME")
	}
	if cfg.Admin.Password == "" {
		cfg.Admin.Password = os.Getenv("ADMIN_PASSWORD")
	}

	return cfg, nil
}

var validModes = map[string]bool{
	"debug":   true,
	"release": true,
	"test":    true,
}

// Validate checks that the configuration contains usable values.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen %q: %w", c.Listen, err)
	}
	if !validModes[c.Mode] {
		return fmt.Errorf("invalid mode %q: must be one of debug, release, test", c.Mode)
	}
	if c.Theme.Default != "light" && c.Theme.Default != "dark" {
		return fmt.Errorf("invalid theme.default %q: must be light or dark", c.Theme.Default)
	}
	if c.Theme.Cookie == "" {
		return fmt.Errorf("theme.cookie is required")
	}
	if c.Theme.IdleTimeout <= 0 {
		return fmt.Errorf("theme.idle_timeout must be positive")
	}
	if c.Reveal.Threshold < 0 || c.Reveal.Threshold > 1 {
		return fmt.Errorf("reveal.threshold must be between 0 and 1, got %v", c.Reveal.Threshold)
	}
	if c.Tracking.Enabled && c.Tracking.Retention <= 0 {
		return fmt.Errorf("tracking.retention must be positive")
	}
	return nil
}

// DatabasePath returns the SQLite file, defaulting to portfolio.db inside
// DataDir.
func (c *Config) DatabasePath() string {
	if c.Database != "" {
		return c.Database
	}
	return filepath.Join(c.DataDir, "portfolio.db")
}

// DefaultDark reports whether the configured default theme is dark.
func (c *Config) DefaultDark() bool {
	return c.Theme.Default == "dark"
}
