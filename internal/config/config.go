// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/JakeFAU/adsnap/internal/ads"
)

// Storage and cache backends.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
	BackendRedis    = "redis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig         `mapstructure:"server"`
	Auth      AuthConfig           `mapstructure:"auth"`
	Logging   LoggingConfig        `mapstructure:"logging"`
	Archive   ArchiveConfig        `mapstructure:"archive"`
	Memo      MemoConfig           `mapstructure:"memo"`
	Headless  HeadlessConfig       `mapstructure:"headless"`
	Storage   StorageConfig        `mapstructure:"storage"`
	Cache     CacheConfig          `mapstructure:"cache"`
	Fill      FillConfig           `mapstructure:"fill"`
	PubSub    PubSubConfig         `mapstructure:"pubsub"`
	Warmer    WarmerConfig         `mapstructure:"warmer"`
	Tracing   TracingConfig        `mapstructure:"tracing"`
	Retailers []ads.RetailerTarget `mapstructure:"retailers"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ArchiveConfig governs archive index lookups.
type ArchiveConfig struct {
	IndexURL       string  `mapstructure:"index_url"`
	CaptureHost    string  `mapstructure:"capture_host"`
	WindowDays     int     `mapstructure:"window_days"`
	WideWindowDays int     `mapstructure:"wide_window_days"`
	ResultLimit    int     `mapstructure:"result_limit"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	RatePerSecond  float64 `mapstructure:"rate_per_second"`
	Burst          int     `mapstructure:"burst"`
}

// MemoConfig configures the resolver memo.
type MemoConfig struct {
	Enabled  bool        `mapstructure:"enabled"`
	Backend  string      `mapstructure:"backend"`
	TTLHours int         `mapstructure:"ttl_hours"`
	Redis    RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// HeadlessConfig configures the screenshot renderer.
type HeadlessConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	ExecPath          string `mapstructure:"exec_path"`
	NoSandbox         bool   `mapstructure:"no_sandbox"`
	UserAgent         string `mapstructure:"user_agent"`
	BatchSize         int    `mapstructure:"batch_size"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	SettleMillis      int    `mapstructure:"settle_ms"`
	ViewportWidth     int    `mapstructure:"viewport_width"`
	ViewportHeight    int    `mapstructure:"viewport_height"`
	ClipWidth         int    `mapstructure:"clip_width"`
	ClipHeight        int    `mapstructure:"clip_height"`
}

// StorageConfig selects where screenshots are written.
type StorageConfig struct {
	Backend       string             `mapstructure:"backend"`
	Bucket        string             `mapstructure:"bucket"`
	Prefix        string             `mapstructure:"prefix"`
	PublicBaseURL string             `mapstructure:"public_base_url"`
	CacheControl  string             `mapstructure:"cache_control"`
	Local         LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem blob store.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// CacheConfig selects the weekly cache backend.
type CacheConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Bolt     BoltConfig     `mapstructure:"bolt"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// BoltConfig points at the embedded database file.
type BoltConfig struct {
	Path string `mapstructure:"path"`
}

// FillConfig sizes the background fill pool.
type FillConfig struct {
	Workers        int `mapstructure:"workers"`
	QueueDepth     int `mapstructure:"queue_depth"`
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
}

// PubSubConfig holds metadata for fill notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// WarmerConfig schedules the weekly cache warmer.
type WarmerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ADSNAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Retailers) == 0 {
		cfg.Retailers = ads.DefaultRetailers()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("logging.development", true)
	v.SetDefault("archive.index_url", "https://web.archive.org/cdx/search/cdx")
	v.SetDefault("archive.capture_host", "web.archive.org")
	v.SetDefault("archive.window_days", 5)
	v.SetDefault("archive.wide_window_days", 14)
	v.SetDefault("archive.result_limit", 10)
	v.SetDefault("archive.timeout_seconds", 30)
	v.SetDefault("archive.user_agent", "adsnap/0.1")
	v.SetDefault("archive.rate_per_second", 2.0)
	v.SetDefault("archive.burst", 4)
	v.SetDefault("memo.enabled", false)
	v.SetDefault("memo.backend", BackendMemory)
	v.SetDefault("memo.ttl_hours", 24)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.no_sandbox", true)
	v.SetDefault("headless.batch_size", 3)
	v.SetDefault("headless.nav_timeout_seconds", 240)
	v.SetDefault("headless.settle_ms", 2000)
	v.SetDefault("headless.viewport_width", 1280)
	v.SetDefault("headless.viewport_height", 800)
	v.SetDefault("headless.clip_width", 1280)
	v.SetDefault("headless.clip_height", 2400)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.bucket", "competitor-ads-screenshots")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.postgres.table", "competitor_ads_cache")
	v.SetDefault("cache.postgres.max_conns", 4)
	v.SetDefault("cache.bolt.path", "adsnap.db")
	v.SetDefault("fill.workers", 1)
	v.SetDefault("fill.queue_depth", 16)
	v.SetDefault("fill.timeout_minutes", 30)
	v.SetDefault("pubsub.topic_name", "competitor-ads-fill")
	v.SetDefault("warmer.enabled", false)
	v.SetDefault("warmer.schedule", "0 6 * * 0")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "adsnap")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds < 0 || c.Server.ShutdownTimeoutSeconds < 0 {
		return fmt.Errorf("server timeouts must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.Archive.validate(); err != nil {
		return err
	}
	if c.Memo.Enabled {
		switch c.Memo.Backend {
		case BackendMemory:
		case BackendRedis:
			if c.Memo.Redis.Address == "" {
				return fmt.Errorf("memo.redis.address must be set when memo.backend is redis")
			}
		default:
			return fmt.Errorf("memo.backend %q must be memory or redis", c.Memo.Backend)
		}
	}
	if c.Headless.Enabled {
		if c.Headless.BatchSize <= 0 {
			return fmt.Errorf("headless.batch_size must be > 0 when headless is enabled")
		}
		if c.Headless.NavTimeoutSeconds <= 0 {
			return fmt.Errorf("headless.nav_timeout_seconds must be > 0 when headless is enabled")
		}
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set when storage.backend is local")
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend %q must be memory, local or gcs", c.Storage.Backend)
	}
	switch c.Cache.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Cache.Postgres.DSN == "" {
			return fmt.Errorf("cache.postgres.dsn must be set when cache.backend is postgres")
		}
	case BackendBolt:
		if c.Cache.Bolt.Path == "" {
			return fmt.Errorf("cache.bolt.path must be set when cache.backend is bolt")
		}
	default:
		return fmt.Errorf("cache.backend %q must be memory, postgres or bolt", c.Cache.Backend)
	}
	if c.Fill.Workers <= 0 {
		return fmt.Errorf("fill.workers must be > 0")
	}
	if c.Fill.QueueDepth <= 0 {
		return fmt.Errorf("fill.queue_depth must be > 0")
	}
	if c.Warmer.Enabled {
		if _, err := cron.ParseStandard(c.Warmer.Schedule); err != nil {
			return fmt.Errorf("warmer.schedule is invalid: %w", err)
		}
	}
	return validateRetailers(c.Retailers)
}

func (a ArchiveConfig) validate() error {
	if a.IndexURL == "" {
		return fmt.Errorf("archive.index_url must be set")
	}
	if a.WindowDays <= 0 {
		return fmt.Errorf("archive.window_days must be > 0")
	}
	if a.WideWindowDays < a.WindowDays {
		return fmt.Errorf("archive.wide_window_days must be >= archive.window_days")
	}
	if a.ResultLimit <= 0 {
		return fmt.Errorf("archive.result_limit must be > 0")
	}
	if a.TimeoutSeconds <= 0 {
		return fmt.Errorf("archive.timeout_seconds must be > 0")
	}
	return nil
}

func validateRetailers(retailers []ads.RetailerTarget) error {
	seen := make(map[string]struct{}, len(retailers))
	for i, r := range retailers {
		if r.ID == "" || r.URL == "" {
			return fmt.Errorf("retailers[%d] requires id and url", i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("retailers[%d] duplicates id %q", i, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// ArchiveTimeout is the per-request timeout for index lookups.
func (c Config) ArchiveTimeout() time.Duration {
	return time.Duration(c.Archive.TimeoutSeconds) * time.Second
}

// MemoTTL is how long memoized snapshots live.
func (c Config) MemoTTL() time.Duration {
	return time.Duration(c.Memo.TTLHours) * time.Hour
}

// NavigationTimeout bounds one screenshot capture.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSeconds) * time.Second
}

// Settle is the pause between page load and capture.
func (c Config) Settle() time.Duration {
	return time.Duration(c.Headless.SettleMillis) * time.Millisecond
}

// FillTimeout bounds one fill run.
func (c Config) FillTimeout() time.Duration {
	return time.Duration(c.Fill.TimeoutMinutes) * time.Minute
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// RequestTimeout bounds one HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
