package studio

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.MaxUploadBytes() != 32<<20 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes())
	}
	if cfg.CatalogDB != ":memory:" {
		t.Errorf("CatalogDB = %q", cfg.CatalogDB)
	}
}

func TestLoadConfig(t *testing.T) {
	yaml := `
listen: ":9191"
log_level: debug
session_ttl: 10m
max_sessions: 5
admin:
  user: admin
  password_hash: "$2a$04$0Yd8Nn6bGvaXQ2hfTx1a5O2v0fKkxXWQnYkM6Jc5lI1E2n8xvD1eK"
rate_limits:
  - endpoint: "GET /export"
    max_requests: 3
    window_seconds: 10
editor:
  history_size: 20
  watermark: "ACME"
`
	path := filepath.Join(t.TempDir(), "texstudio.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9191" || cfg.LogLevel != "debug" {
		t.Errorf("Listen/LogLevel = %q/%q", cfg.Listen, cfg.LogLevel)
	}
	if cfg.SessionTTL != 10*time.Minute || cfg.MaxSessions != 5 {
		t.Errorf("SessionTTL/MaxSessions = %v/%d", cfg.SessionTTL, cfg.MaxSessions)
	}
	if len(cfg.RateLimits) != 1 || cfg.RateLimits[0].MaxRequests != 3 {
		t.Errorf("RateLimits = %+v", cfg.RateLimits)
	}
	if cfg.Editor.HistorySize != 20 || cfg.Editor.Watermark != "ACME" {
		t.Errorf("Editor = %+v", cfg.Editor)
	}
	if cfg.MaxUploadMB != 32 {
		t.Errorf("defaults not kept: MaxUploadMB = %d", cfg.MaxUploadMB)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

const testHash = "$2a$04$0Yd8Nn6bGvaXQ2hfTx1a5O2v0fKkxXWQnYkM6Jc5lI1E2n8xvD1eK"

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"ttl", func(c *Config) { c.SessionTTL = 0 }},
		{"sessions", func(c *Config) { c.MaxSessions = 0 }},
		{"upload", func(c *Config) { c.MaxUploadMB = -1 }},
		{"admin hash", func(c *Config) { c.Admin = AdminConfig{User: "admin", PasswordHash: "plain"} }},
		{"rate endpoint", func(c *Config) { c.RateLimits = []RateLimitRule{{Endpoint: "/export", MaxRequests: 1, WindowSeconds: 1}} }},
		{"rate values", func(c *Config) { c.RateLimits = []RateLimitRule{{Endpoint: "GET /export"}} }},
		{"retention", func(c *Config) { c.Retention.MetricDays = -1 }},
		{"token secret", func(c *Config) {
			c.Admin = AdminConfig{User: "admin", PasswordHash: testHash, TokenSecret: "short", TokenTTL: time.Hour}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
