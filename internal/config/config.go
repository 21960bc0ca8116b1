// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Training  TrainingConfig  `mapstructure:"training"`
	Patterns  PatternsConfig  `mapstructure:"patterns"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs the worker pool and scrape pipeline.
type ScraperConfig struct {
	OrganizationID  string  `mapstructure:"organization_id"`
	Workers         int     `mapstructure:"workers"`
	MaxConcurrent   int     `mapstructure:"max_concurrent"`
	QueueDepth      int     `mapstructure:"queue_depth"`
	CacheTTLMinutes int     `mapstructure:"cache_ttl_minutes"`
	RetentionDays   int     `mapstructure:"retention_days"`
	MinContentBytes int     `mapstructure:"min_content_bytes"`
	LeadScoreCap    float64 `mapstructure:"lead_score_cap"`
}

// RateLimitConfig bounds per-domain request rates.
type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
	MinDelayMs    int `mapstructure:"min_delay_ms"`
}

// RetryConfig governs transient-failure retries with backoff.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	MaxDelayMs  int `mapstructure:"max_delay_ms"`
}

// FetchConfig configures the probe HTTP fetcher.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// StorageConfig selects and configures the blob archive backend.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational database. An empty DSN keeps all
// stores in memory.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int    `mapstructure:"max_conns"`
	MinConns               int    `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	DedupHorizonDays       int    `mapstructure:"dedup_horizon_days"`
}

// PubSubConfig holds metadata for signal publication.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TrainingConfig bounds the feedback loop.
type TrainingConfig struct {
	FeedbackQuota      int     `mapstructure:"feedback_quota"`
	QuotaWindowMinutes int     `mapstructure:"quota_window_minutes"`
	MaxSourceTextLen   int     `mapstructure:"max_source_text_len"`
	ClampMin           float64 `mapstructure:"clamp_min"`
	ClampMax           float64 `mapstructure:"clamp_max"`
}

// PatternsConfig points at the signal pattern catalog. An empty path uses the
// built-in catalog.
type PatternsConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("scraper.organization_id", "default")
	v.SetDefault("scraper.workers", 5)
	v.SetDefault("scraper.max_concurrent", 50)
	v.SetDefault("scraper.queue_depth", 256)
	v.SetDefault("scraper.cache_ttl_minutes", 60)
	v.SetDefault("scraper.retention_days", 30)
	v.SetDefault("scraper.min_content_bytes", 512)
	v.SetDefault("scraper.lead_score_cap", 150)
	v.SetDefault("rate_limit.max_requests", 10)
	v.SetDefault("rate_limit.window_seconds", 60)
	v.SetDefault("rate_limit.min_delay_ms", 500)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 500)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("fetch.user_agent", "prospect-intel-bot/1.0")
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "scrapes")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.dedup_horizon_days", 30)
	v.SetDefault("training.feedback_quota", 10)
	v.SetDefault("training.quota_window_minutes", 60)
	v.SetDefault("training.max_source_text_len", 1000)
	v.SetDefault("training.clamp_min", 10)
	v.SetDefault("training.clamp_max", 95)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.Workers <= 0 {
		return fmt.Errorf("scraper.workers must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.Training.ClampMin < 0 || c.Training.ClampMax > 100 || c.Training.ClampMin >= c.Training.ClampMax {
		return fmt.Errorf("training clamp bounds must satisfy 0 <= clamp_min < clamp_max <= 100")
	}
	return nil
}

// CacheTTL returns the scrape cache TTL as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Scraper.CacheTTLMinutes) * time.Minute
}

// RetentionTTL returns how long scrape records stay before expiry.
func (c Config) RetentionTTL() time.Duration {
	return time.Duration(c.Scraper.RetentionDays) * 24 * time.Hour
}

// FetchTimeout returns the probe fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// NavTimeout returns the headless navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// RateLimitWindow returns the sliding rate-limit window.
func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// MinDelay returns the per-domain floor between consecutive requests.
func (c Config) MinDelay() time.Duration {
	return time.Duration(c.RateLimit.MinDelayMs) * time.Millisecond
}

// RetryBaseDelay returns the initial backoff delay.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMs) * time.Millisecond
}

// RetryMaxDelay returns the backoff ceiling.
func (c Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelayMs) * time.Millisecond
}

// MaxConnLifetime returns the database connection lifetime.
func (c Config) MaxConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeMinutes) * time.Minute
}

// DedupHorizon returns the window within which identical content counts as a
// duplicate.
func (c Config) DedupHorizon() time.Duration {
	return time.Duration(c.DB.DedupHorizonDays) * 24 * time.Hour
}

// QuotaWindow returns the rolling feedback quota window.
func (c Config) QuotaWindow() time.Duration {
	return time.Duration(c.Training.QuotaWindowMinutes) * time.Minute
}

// RequestTimeout returns the HTTP request handling budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
