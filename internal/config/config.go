// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/epaper-crawler/internal/logging"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Store     StoreConfig     `mapstructure:"store"`
	Cache     CacheConfig     `mapstructure:"cache"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Retention RetentionConfig `mapstructure:"retention"`
	Translate TranslateConfig `mapstructure:"translate"`
	Logging   logging.Config  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs run fan-out and discovery limits.
type CrawlerConfig struct {
	PoolWidth     int      `mapstructure:"pool_width"`
	Workers       int      `mapstructure:"workers"`
	QueueDepth    int      `mapstructure:"queue_depth"`
	UserAgent     string   `mapstructure:"user_agent"`
	DelayMs       int      `mapstructure:"delay_ms"`
	MinTitleLen   int      `mapstructure:"min_title_len"`
	FailureCutoff int      `mapstructure:"failure_cutoff"`
	MaxSections   int      `mapstructure:"max_sections"`
	MaxItems      int      `mapstructure:"max_items"`
	Sources       []string `mapstructure:"sources"`
}

// HTTPConfig configures the plain fetch gateway.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxJSRedirects int `mapstructure:"max_js_redirects"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	MaxParallel        int  `mapstructure:"max_parallel"`
	NavTimeoutSeconds  int  `mapstructure:"nav_timeout_seconds"`
	SettleMs           int  `mapstructure:"settle_ms"`
	PromotionThreshold int  `mapstructure:"promotion_threshold"`
}

// StoreConfig selects the article store backend.
type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	Table      string `mapstructure:"table"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	MaxConns   int    `mapstructure:"max_conns"`
}

// CacheConfig controls write-through persistence of fetched article bodies.
type CacheConfig struct {
	Blob      string `mapstructure:"blob"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ScheduleConfig lists the recurring jobs.
type ScheduleConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Jobs    []JobConfig `mapstructure:"jobs"`
}

// JobConfig declares one scheduled job. Action is "crawl" or "cleanup".
type JobConfig struct {
	ID      string   `mapstructure:"id"`
	Name    string   `mapstructure:"name"`
	Cron    string   `mapstructure:"cron"`
	Action  string   `mapstructure:"action"`
	Sources []string `mapstructure:"sources"`
}

// RetentionConfig bounds how long articles are kept.
type RetentionConfig struct {
	Days int `mapstructure:"days"`
}

// TranslateConfig selects the translation step. An empty Marker leaves text
// unchanged.
type TranslateConfig struct {
	Marker string `mapstructure:"marker"`
}

// Store drivers accepted by Validate.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Job actions accepted by Validate.
const (
	ActionCrawl   = "crawl"
	ActionCleanup = "cleanup"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EPAPER")
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
	v.SetDefault("crawler.pool_width", 5)
	v.SetDefault("crawler.workers", 2)
	v.SetDefault("crawler.queue_depth", 16)
	v.SetDefault("crawler.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("crawler.delay_ms", 800)
	v.SetDefault("crawler.min_title_len", 5)
	v.SetDefault("crawler.failure_cutoff", 3)
	v.SetDefault("crawler.max_sections", 9)
	v.SetDefault("crawler.max_items", 10)
	v.SetDefault("crawler.sources", []string{"fujian", "hainan", "nanfang", "guangzhou", "guangxi"})
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.max_js_redirects", 2)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 35)
	v.SetDefault("headless.settle_ms", 5000)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.table", "articles")
	v.SetDefault("store.database", "epaper")
	v.SetDefault("store.collection", "articles")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("cache.blob", "none")
	v.SetDefault("cache.base_dir", "./data/bodies")
	v.SetDefault("cache.prefix", "bodies")
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.jobs", []map[string]any{
		{
			"id": "crawl_fast_sources", "name": "Crawl static-index sources", "cron": "0 9 * * *",
			"action": ActionCrawl, "sources": []string{"fujian", "hainan", "nanfang", "guangzhou"},
		},
		{
			"id": "crawl_guangxi", "name": "Crawl Guangxi Daily", "cron": "30 9 * * *",
			"action": ActionCrawl, "sources": []string{"guangxi"},
		},
		{
			"id": "cleanup_old_articles", "name": "Delete expired articles", "cron": "30 10 * * *",
			"action": ActionCleanup,
		},
	})
	v.SetDefault("retention.days", 7)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.PoolWidth <= 0 {
		return fmt.Errorf("crawler.pool_width must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.FailureCutoff <= 0 {
		return fmt.Errorf("crawler.failure_cutoff must be > 0")
	}
	if c.Crawler.MaxSections <= 0 || c.Crawler.MaxItems <= 0 {
		return fmt.Errorf("crawler.max_sections and crawler.max_items must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres, DriverMongo:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	switch c.Cache.Blob {
	case "", "none", "memory", "local":
	case "gcs":
		if c.Cache.GCSBucket == "" {
			return fmt.Errorf("cache.gcs_bucket must be set when cache.blob is gcs")
		}
	default:
		return fmt.Errorf("cache.blob %q is not supported", c.Cache.Blob)
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("retention.days must be > 0")
	}
	for _, job := range c.Schedule.Jobs {
		if job.ID == "" || job.Cron == "" {
			return fmt.Errorf("schedule job requires id and cron")
		}
		if job.Action != ActionCrawl && job.Action != ActionCleanup {
			return fmt.Errorf("schedule job %s: unknown action %q", job.ID, job.Action)
		}
	}
	return nil
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// PolitenessDelay returns the minimum interval between requests to one host.
func (c Config) PolitenessDelay() time.Duration {
	return time.Duration(c.Crawler.DelayMs) * time.Millisecond
}
