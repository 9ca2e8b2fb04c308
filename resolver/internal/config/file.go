// Package config loads teralink configuration: a YAML file, then
// environment overrides, then defaults for anything still unset.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/teralink/resolver/internal/canon"
	"github.com/hazyhaar/teralink/resolver/internal/extract"
)

// Config is the top-level teralink configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Browser    BrowserConfig    `yaml:"browser"`
	Navigation NavigationConfig `yaml:"navigation"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Session    SessionConfig    `yaml:"session"`
	Resolve    ResolveConfig    `yaml:"resolve"`
	Domain     DomainConfig     `yaml:"domain"`
	Login      LoginConfig      `yaml:"login"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" split_words:"true"`
	LogLevel   string           `yaml:"log_level" split_words:"true"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Port int    `yaml:"port" envconfig:"PORT"`
}

// BrowserConfig controls the shared Chrome process.
type BrowserConfig struct {
	Bin             string        `yaml:"bin" envconfig:"CHROME_PATH"`
	Remote          string        `yaml:"remote"`
	Headless        *bool         `yaml:"headless"`
	UserAgent       string        `yaml:"user_agent" split_words:"true"`
	AcceptLanguage  string        `yaml:"accept_language" split_words:"true"`
	Referer         string        `yaml:"referer"`
	ViewportWidth   int           `yaml:"viewport_width" split_words:"true"`
	ViewportHeight  int           `yaml:"viewport_height" split_words:"true"`
	MaxSessions     int64         `yaml:"max_sessions" split_words:"true"`
	RecycleInterval time.Duration `yaml:"recycle_interval" split_words:"true"`
}

// NavigationConfig tunes the navigation ladder.
type NavigationConfig struct {
	AttemptTimeout   time.Duration `yaml:"attempt_timeout" split_words:"true"`
	MinDocumentBytes int           `yaml:"min_document_bytes" split_words:"true"`
}

// ExtractionConfig holds the selector and signature tables.
type ExtractionConfig struct {
	SettleInterval   time.Duration       `yaml:"settle_interval" split_words:"true"`
	Selectors        []string            `yaml:"selectors"`
	NameSelectors    []string            `yaml:"name_selectors" split_words:"true"`
	Signatures       []extract.Signature `yaml:"signatures" ignored:"true"`
	Interactive      bool                `yaml:"interactive"`
	UnlockSelectors  []string            `yaml:"unlock_selectors" split_words:"true"`
	OverlaySelectors []string            `yaml:"overlay_selectors" split_words:"true"`
	LoginMarkers     []string            `yaml:"login_markers" split_words:"true"`
}

// SessionConfig selects the credential snapshot store.
type SessionConfig struct {
	Backend string `yaml:"backend"` // file | sqlite
	Path    string `yaml:"path" envconfig:"COOKIES_FILE"`
	Watch   bool   `yaml:"watch"`
}

// ResolveConfig bounds one resolution.
type ResolveConfig struct {
	Deadline time.Duration `yaml:"deadline"`
}

// DomainConfig lists accepted share hosts.
type DomainConfig struct {
	Authoritative string   `yaml:"authoritative"`
	Aliases       []string `yaml:"aliases"`
}

// LoginConfig drives the interactive login capture.
type LoginConfig struct {
	URL          string        `yaml:"url"`
	Markers      []string      `yaml:"markers"`
	PollInterval time.Duration `yaml:"poll_interval" split_words:"true"`
	Timeout      time.Duration `yaml:"timeout"`
}

// RateLimitConfig bounds requests per client IP on the HTTP API.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DefaultLoginMarkers indicate a login wall on a share page.
var DefaultLoginMarkers = []string{
	".login-main",
	"#login-container",
	"form[action*='passport']",
}

// Load reads the YAML file at path (optional: empty path means none),
// applies environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied and no file
// or environment input.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 10000
	}

	if c.Browser.Headless == nil {
		headless := true
		c.Browser.Headless = &headless
	}
	if c.Browser.AcceptLanguage == "" {
		c.Browser.AcceptLanguage = "en-US,en;q=0.9"
	}
	if c.Browser.ViewportWidth <= 0 {
		c.Browser.ViewportWidth = 1366
	}
	if c.Browser.ViewportHeight <= 0 {
		c.Browser.ViewportHeight = 768
	}
	if c.Browser.MaxSessions <= 0 {
		c.Browser.MaxSessions = 4
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}

	if c.Navigation.AttemptTimeout <= 0 {
		c.Navigation.AttemptTimeout = 30 * time.Second
	}
	if c.Navigation.MinDocumentBytes <= 0 {
		c.Navigation.MinDocumentBytes = 1024
	}

	if c.Extraction.SettleInterval <= 0 {
		c.Extraction.SettleInterval = 5 * time.Second
	}
	if len(c.Extraction.Selectors) == 0 {
		c.Extraction.Selectors = extract.DefaultSelectors
	}
	if len(c.Extraction.NameSelectors) == 0 {
		c.Extraction.NameSelectors = extract.DefaultNameSelectors
	}
	if len(c.Extraction.Signatures) == 0 {
		c.Extraction.Signatures = extract.DefaultSignatures
	}
	if len(c.Extraction.UnlockSelectors) == 0 {
		c.Extraction.UnlockSelectors = extract.DefaultUnlockSelectors
	}
	if len(c.Extraction.OverlaySelectors) == 0 {
		c.Extraction.OverlaySelectors = extract.DefaultOverlaySelectors
	}
	if len(c.Extraction.LoginMarkers) == 0 {
		c.Extraction.LoginMarkers = DefaultLoginMarkers
	}

	if c.Session.Backend == "" {
		c.Session.Backend = "file"
	}
	if c.Session.Path == "" {
		if c.Session.Backend == "sqlite" {
			c.Session.Path = "session.db"
		} else {
			c.Session.Path = "cookies.json"
		}
	}

	if c.Resolve.Deadline <= 0 {
		c.Resolve.Deadline = 90 * time.Second
	}

	if c.Domain.Authoritative == "" {
		c.Domain.Authoritative = canon.DefaultAuthority
	}
	if len(c.Domain.Aliases) == 0 {
		c.Domain.Aliases = canon.DefaultAliases
	}
	if c.Browser.Referer == "" {
		c.Browser.Referer = "https://" + c.Domain.Authoritative + "/"
	}

	if c.Login.URL == "" {
		c.Login.URL = "https://www.1024tera.com"
	}
	if len(c.Login.Markers) == 0 {
		c.Login.Markers = []string{"img.avatar", ".user-info", ".username", ".nickname"}
	}
	if c.Login.PollInterval <= 0 {
		c.Login.PollInterval = 3 * time.Second
	}
	if c.Login.Timeout <= 0 {
		c.Login.Timeout = 10 * time.Minute
	}

	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 5
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	switch c.Session.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("config: session.backend must be file or sqlite, got %q", c.Session.Backend)
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("config: rate_limit.rps must be >= 0")
	}
	if c.Navigation.AttemptTimeout > c.Resolve.Deadline {
		return fmt.Errorf("config: navigation.attempt_timeout (%s) exceeds resolve.deadline (%s)",
			c.Navigation.AttemptTimeout, c.Resolve.Deadline)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ListenAddr returns the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Addr, c.Server.Port)
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown log_level %q", s)
	}
}
