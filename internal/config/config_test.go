package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("expected 1h cache ttl, got %v", cfg.Cache.TTL)
	}
	if cfg.Analytics.RetentionDays != 365 {
		t.Errorf("expected 365 retention days, got %d", cfg.Analytics.RetentionDays)
	}
}

func TestResolve_DerivesPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/srv/eventdeck"
	cfg.Resolve()

	if cfg.Cache.Path != filepath.Join("/srv/eventdeck", "cache.db") {
		t.Errorf("cache path: %s", cfg.Cache.Path)
	}
	if cfg.Analytics.Path != filepath.Join("/srv/eventdeck", "analytics.db") {
		t.Errorf("analytics path: %s", cfg.Analytics.Path)
	}
	if cfg.EventsPath() != filepath.Join("/srv/eventdeck", "events.db") {
		t.Errorf("events path: %s", cfg.EventsPath())
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"empty namespace", func(c *Config) { c.Cache.Namespace = "" }},
		{"unknown backend", func(c *Config) { c.Analytics.Backend = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Analytics.Backend = "postgres" }},
		{"zero retention", func(c *Config) { c.Analytics.RetentionDays = 0 }},
		{"geo without timeout", func(c *Config) { c.Analytics.Geo.Timeout = 0 }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"bad storage", func(c *Config) { c.Storage.Type = "ftp" }},
		{"zero excerpt", func(c *Config) { c.Display.ExcerptWords = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventdeck.yaml")
	content := `
data_dir: /tmp/ed
cache:
  ttl: 15m
  namespace: site_events
analytics:
  retention_days: 90
display:
  base_url: https://example.org/events
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/tmp/ed" {
		t.Errorf("data_dir: %s", cfg.DataDir)
	}
	if cfg.Cache.TTL != 15*time.Minute {
		t.Errorf("ttl: %v", cfg.Cache.TTL)
	}
	if cfg.Cache.Namespace != "site_events" {
		t.Errorf("namespace: %s", cfg.Cache.Namespace)
	}
	if cfg.Analytics.RetentionDays != 90 {
		t.Errorf("retention: %d", cfg.Analytics.RetentionDays)
	}
	// Untouched sections keep defaults
	if cfg.Display.ExcerptWords != 20 {
		t.Errorf("excerpt words: %d", cfg.Display.ExcerptWords)
	}
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventdeck.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for .toml")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EVENTDECK_CACHE_TTL", "5m")
	t.Setenv("EVENTDECK_RETENTION_DAYS", "30")
	t.Setenv("EVENTDECK_API_KEYS", "alpha, beta,,")
	t.Setenv("EVENTDECK_GRPC_ENABLED", "1")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("ttl: %v", cfg.Cache.TTL)
	}
	if cfg.Analytics.RetentionDays != 30 {
		t.Errorf("retention: %d", cfg.Analytics.RetentionDays)
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[0] != "alpha" || cfg.APIKeys[1] != "beta" {
		t.Errorf("api keys: %v", cfg.APIKeys)
	}
	if !cfg.GRPC.Enabled {
		t.Error("grpc should be enabled")
	}
}

func TestLocation_FallsBackToUTC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Display.Timezone = "Not/AZone"
	if cfg.Location() != time.UTC {
		t.Error("invalid timezone should fall back to UTC")
	}
}
