// Package config provides unified configuration for eventdeck services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the unified configuration for eventdeck.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// LogFormat is "json" (default) or "console"
	LogFormat string `json:"log_format" yaml:"log_format"`

	// APIKeys lists the keys treated as privileged callers
	APIKeys []string `json:"api_keys" yaml:"api_keys"`

	HTTP        HTTPConfig        `json:"http" yaml:"http"`
	GRPC        GRPCConfig        `json:"grpc" yaml:"grpc"`
	Cache       CacheConfig       `json:"cache" yaml:"cache"`
	Analytics   AnalyticsConfig   `json:"analytics" yaml:"analytics"`
	Maintenance MaintenanceConfig `json:"maintenance" yaml:"maintenance"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Display     DisplayConfig     `json:"display" yaml:"display"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	Addr    string `json:"addr" yaml:"addr"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// CacheConfig holds query cache configuration.
type CacheConfig struct {
	// TTL is how long a cached query or event stays valid (default 1h)
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// Namespace prefixes every key; invalidation clears the whole namespace
	Namespace string `json:"namespace" yaml:"namespace"`

	// MemoryMaxEntries bounds the fast tier (0 = unbounded)
	MemoryMaxEntries int `json:"memory_max_entries" yaml:"memory_max_entries"`

	// SweepInterval is how often expired fast-tier entries are dropped
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`

	// Persistent enables the SQLite-backed slow tier
	Persistent bool `json:"persistent" yaml:"persistent"`

	// Path is the persistent tier database file
	Path string `json:"path" yaml:"path"`
}

// AnalyticsConfig holds analytics engine configuration.
type AnalyticsConfig struct {
	// Backend is "sqlite" or "postgres"
	Backend string `json:"backend" yaml:"backend"`

	// Path is the SQLite database file (sqlite backend)
	Path string `json:"path" yaml:"path"`

	// PostgresDSN is the connection string (postgres backend)
	PostgresDSN string `json:"postgres_dsn" yaml:"postgres_dsn"`

	// RetentionDays is the age after which rows are purged (default 365)
	RetentionDays int `json:"retention_days" yaml:"retention_days"`

	// QueueSize bounds the asynchronous record queue
	QueueSize int `json:"queue_size" yaml:"queue_size"`

	Geo GeoConfig `json:"geo" yaml:"geo"`
}

// GeoConfig configures the IP to country resolver.
type GeoConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Endpoint string        `json:"endpoint" yaml:"endpoint"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// MaintenanceConfig holds the recurring maintenance schedule.
type MaintenanceConfig struct {
	Enabled            bool          `json:"enabled" yaml:"enabled"`
	PurgeInterval      time.Duration `json:"purge_interval" yaml:"purge_interval"`
	OptimizeInterval   time.Duration `json:"optimize_interval" yaml:"optimize_interval"`
	ArchiveBeforePurge bool          `json:"archive_before_purge" yaml:"archive_before_purge"`
}

// StorageConfig holds object storage configuration for export archives.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket   string `json:"bucket" yaml:"bucket"`
	Region   string `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DisplayConfig holds presentation settings.
type DisplayConfig struct {
	// DateFormat and TimeFormat are Go reference layouts
	DateFormat string `json:"date_format" yaml:"date_format"`
	TimeFormat string `json:"time_format" yaml:"time_format"`

	// ExcerptWords caps the generated excerpt length
	ExcerptWords int `json:"excerpt_words" yaml:"excerpt_words"`

	// BaseURL prefixes event permalinks
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Timezone decides what "today" means for past-event checks
	Timezone string `json:"timezone" yaml:"timezone"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir:   "./data/eventdeck",
		LogFormat: "json",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: false,
		},
		Cache: CacheConfig{
			TTL:              time.Hour,
			Namespace:        "eventdeck_events",
			MemoryMaxEntries: 10000,
			SweepInterval:    time.Minute,
			Persistent:       true,
		},
		Analytics: AnalyticsConfig{
			Backend:       "sqlite",
			RetentionDays: 365,
			QueueSize:     1024,
			Geo: GeoConfig{
				Enabled:  true,
				Endpoint: "http://ip-api.com/json/",
				Timeout:  3 * time.Second,
				CacheTTL: 24 * time.Hour,
			},
		},
		Maintenance: MaintenanceConfig{
			Enabled:          true,
			PurgeInterval:    24 * time.Hour,
			OptimizeInterval: 7 * 24 * time.Hour,
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Display: DisplayConfig{
			DateFormat:   "January 2, 2006",
			TimeFormat:   "3:04 pm",
			ExcerptWords: 20,
			BaseURL:      "/events",
			Timezone:     "UTC",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/eventdeck"
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(c.DataDir, "cache.db")
	}
	if c.Analytics.Path == "" {
		c.Analytics.Path = filepath.Join(c.DataDir, "analytics.db")
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "archive")
	}
}

// EventsPath returns the path to the event store database.
func (c *Config) EventsPath() string {
	return filepath.Join(c.DataDir, "events.db")
}

// Location returns the configured display timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Display.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %v", c.Cache.TTL)
	}
	if c.Cache.Namespace == "" {
		return fmt.Errorf("cache.namespace is required")
	}

	switch c.Analytics.Backend {
	case "sqlite":
	case "postgres":
		if c.Analytics.PostgresDSN == "" {
			return fmt.Errorf("analytics.postgres_dsn is required when backend is postgres")
		}
	default:
		return fmt.Errorf("invalid analytics backend: %s (must be sqlite or postgres)", c.Analytics.Backend)
	}

	if c.Analytics.RetentionDays < 1 {
		return fmt.Errorf("analytics.retention_days must be at least 1, got %d", c.Analytics.RetentionDays)
	}
	if c.Analytics.Geo.Enabled && c.Analytics.Geo.Timeout <= 0 {
		return fmt.Errorf("analytics.geo.timeout must be positive when geo lookup is enabled")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Display.ExcerptWords < 1 {
		return fmt.Errorf("display.excerpt_words must be at least 1, got %d", c.Display.ExcerptWords)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the EVENTDECK_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("EVENTDECK_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("EVENTDECK_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("EVENTDECK_API_KEYS"); v != "" {
		cfg.APIKeys = splitList(v)
	}

	if v := os.Getenv("EVENTDECK_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("EVENTDECK_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("EVENTDECK_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = v == "true" || v == "1"
	}

	if v := os.Getenv("EVENTDECK_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("EVENTDECK_CACHE_PERSISTENT"); v != "" {
		cfg.Cache.Persistent = v == "true" || v == "1"
	}

	if v := os.Getenv("EVENTDECK_ANALYTICS_BACKEND"); v != "" {
		cfg.Analytics.Backend = v
	}
	if v := os.Getenv("EVENTDECK_POSTGRES_DSN"); v != "" {
		cfg.Analytics.PostgresDSN = v
	}
	if v := os.Getenv("EVENTDECK_RETENTION_DAYS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Analytics.RetentionDays)
	}
	if v := os.Getenv("EVENTDECK_GEO_ENABLED"); v != "" {
		cfg.Analytics.Geo.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("EVENTDECK_GEO_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Analytics.Geo.Timeout = d
		}
	}

	if v := os.Getenv("EVENTDECK_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("EVENTDECK_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("EVENTDECK_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("EVENTDECK_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("EVENTDECK_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}

	if v := os.Getenv("EVENTDECK_BASE_URL"); v != "" {
		cfg.Display.BaseURL = v
	}
	if v := os.Getenv("EVENTDECK_TIMEZONE"); v != "" {
		cfg.Display.Timezone = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Cache.Path),
		filepath.Dir(c.Analytics.Path),
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func splitList(csv string) []string {
	var out []string
	for _, k := range strings.Split(csv, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
