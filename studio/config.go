package studio

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/texstudio/editor"
	"github.com/hazyhaar/texstudio/horosafe"
)

// Config holds the full texstudio configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	// CatalogDB defaults to ":memory:": the catalog lives for the process.
	CatalogDB       string `yaml:"catalog_db"`
	ObservabilityDB string `yaml:"observability_db"`

	SessionTTL  time.Duration `yaml:"session_ttl"`
	MaxSessions int           `yaml:"max_sessions"`
	MaxUploadMB int           `yaml:"max_upload_mb"`

	// MCPStdio serves the MCP tools over stdin/stdout next to HTTP.
	MCPStdio bool `yaml:"mcp_stdio"`

	Admin      AdminConfig     `yaml:"admin"`
	Fetch      FetchConfig     `yaml:"fetch"`
	SQLTrace   SQLTraceConfig  `yaml:"sql_trace"`
	Retention  RetentionConfig `yaml:"retention"`
	RateLimits []RateLimitRule `yaml:"rate_limits"`
	Editor     editor.Config   `yaml:"editor"`
}

// SQLTraceConfig routes the catalog and observability databases through the
// tracing driver. Statements are logged at debug level and, when DB is set,
// stored in its sql_traces table.
type SQLTraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	DB      string `yaml:"db"`
}

// RetentionConfig bounds the age of business events and metric samples, in
// days. Zero keeps rows forever.
type RetentionConfig struct {
	EventDays  int `yaml:"event_days"`
	MetricDays int `yaml:"metric_days"`
}

// AdminConfig protects the catalog admin routes with HTTP basic auth.
// Admin routes are disabled when User is empty. With TokenSecret set,
// POST /api/admin/login also hands out bearer tokens valid for TokenTTL.
type AdminConfig struct {
	User         string        `yaml:"user"`
	PasswordHash string        `yaml:"password_hash"` // bcrypt
	TokenSecret  string        `yaml:"token_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	SecureCookie bool          `yaml:"secure_cookie"`
}

// FetchConfig bounds remote texture downloads.
type FetchConfig struct {
	MaxMB        int  `yaml:"max_mb"`
	AllowPrivate bool `yaml:"allow_private"`
}

// RateLimitRule seeds one shield rate limit. Endpoint is "<METHOD> <path
// suffix>".
type RateLimitRule struct {
	Endpoint      string `yaml:"endpoint"`
	MaxRequests   int    `yaml:"max_requests"`
	WindowSeconds int    `yaml:"window_seconds"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":8090",
		LogLevel:        "info",
		CatalogDB:       ":memory:",
		ObservabilityDB: "data/observability.db",
		SessionTTL:      30 * time.Minute,
		MaxSessions:     200,
		MaxUploadMB:     32,
		Admin:           AdminConfig{TokenTTL: 12 * time.Hour},
		Fetch:           FetchConfig{MaxMB: 16},
		Retention:       RetentionConfig{EventDays: 30, MetricDays: 30},
		RateLimits: []RateLimitRule{
			{Endpoint: "POST /api/sessions", MaxRequests: 30, WindowSeconds: 60},
			{Endpoint: "POST /image", MaxRequests: 30, WindowSeconds: 60},
			{Endpoint: "POST /textures", MaxRequests: 120, WindowSeconds: 60},
			{Endpoint: "GET /export", MaxRequests: 20, WindowSeconds: 60},
			{Endpoint: "POST /api/admin/textures", MaxRequests: 20, WindowSeconds: 60},
		},
	}
}

// LoadConfig reads a YAML config file merged over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q", c.LogLevel)
	}
	if c.CatalogDB == "" {
		return fmt.Errorf("catalog_db is required")
	}
	if c.ObservabilityDB == "" {
		return fmt.Errorf("observability_db is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be > 0")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be > 0")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be > 0")
	}
	if c.Fetch.MaxMB <= 0 {
		return fmt.Errorf("fetch.max_mb must be > 0")
	}
	if c.Retention.EventDays < 0 || c.Retention.MetricDays < 0 {
		return fmt.Errorf("retention days must be >= 0")
	}
	if c.Admin.User != "" {
		if _, err := bcrypt.Cost([]byte(c.Admin.PasswordHash)); err != nil {
			return fmt.Errorf("admin.password_hash: %w", err)
		}
		if c.Admin.TokenSecret != "" {
			if err := horosafe.ValidateSecret([]byte(c.Admin.TokenSecret)); err != nil {
				return fmt.Errorf("admin.token_secret: %w", err)
			}
			if c.Admin.TokenTTL <= 0 {
				return fmt.Errorf("admin.token_ttl must be > 0")
			}
		}
	}
	for i, r := range c.RateLimits {
		method, suffix, ok := strings.Cut(r.Endpoint, " ")
		if !ok || method == "" || !strings.HasPrefix(suffix, "/") {
			return fmt.Errorf("rate_limits[%d]: endpoint %q must be \"METHOD /suffix\"", i, r.Endpoint)
		}
		if r.MaxRequests <= 0 || r.WindowSeconds <= 0 {
			return fmt.Errorf("rate_limits[%d]: max_requests and window_seconds must be > 0", i)
		}
	}
	return nil
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) << 20 }

// MaxFetchBytes returns the remote texture limit in bytes.
func (c *Config) MaxFetchBytes() int64 { return int64(c.Fetch.MaxMB) << 20 }
