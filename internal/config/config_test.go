package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.PoolWidth != 5 || cfg.Crawler.FailureCutoff != 3 || cfg.Crawler.MinTitleLen != 5 {
		t.Fatalf("unexpected crawler defaults: %+v", cfg.Crawler)
	}
	if cfg.Crawler.MaxSections != 9 || cfg.Crawler.MaxItems != 10 {
		t.Fatalf("unexpected probe bounds: %+v", cfg.Crawler)
	}
	if cfg.Retention.Days != 7 {
		t.Fatalf("expected retention 7 days, got %d", cfg.Retention.Days)
	}
	if len(cfg.Schedule.Jobs) != 3 {
		t.Fatalf("expected three default jobs, got %+v", cfg.Schedule.Jobs)
	}
	cleanup := cfg.Schedule.Jobs[2]
	if cleanup.ID != "cleanup_old_articles" || cleanup.Action != ActionCleanup || cleanup.Cron != "30 10 * * *" {
		t.Fatalf("unexpected cleanup job: %+v", cleanup)
	}
	if got := cfg.PolitenessDelay(); got != 800*time.Millisecond {
		t.Fatalf("expected 800ms delay, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  pool_width: 3
  failure_cutoff: 4
  sources: ["fujian", "guangxi"]
http:
  timeout_seconds: 20
store:
  driver: postgres
  dsn: postgres://localhost/epaper
  table: epaper_articles
cache:
  blob: local
  base_dir: /tmp/bodies
schedule:
  jobs:
    - id: nightly
      name: Nightly
      cron: "0 1 * * *"
      action: crawl
      sources: ["guangxi"]
logging:
  development: false
  level: warn
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawler.PoolWidth != 3 || cfg.Crawler.FailureCutoff != 4 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if strings.Join(cfg.Crawler.Sources, ",") != "fujian,guangxi" {
		t.Fatalf("unexpected sources %v", cfg.Crawler.Sources)
	}
	if cfg.Store.Driver != DriverPostgres || cfg.Store.Table != "epaper_articles" {
		t.Fatalf("unexpected store config %+v", cfg.Store)
	}
	if len(cfg.Schedule.Jobs) != 1 || cfg.Schedule.Jobs[0].Sources[0] != "guangxi" {
		t.Fatalf("expected schedule override, got %+v", cfg.Schedule.Jobs)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("unexpected logging config %+v", cfg.Logging)
	}
	if got := cfg.FetchTimeout(); got != 20*time.Second {
		t.Fatalf("expected fetch timeout 20s, got %v", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Crawler:   CrawlerConfig{PoolWidth: 5, Workers: 1, FailureCutoff: 3, MaxSections: 9, MaxItems: 10},
		HTTP:      HTTPConfig{TimeoutSeconds: 10},
		Store:     StoreConfig{Driver: DriverMemory},
		Retention: RetentionConfig{Days: 7},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid pool", func(c *Config) { c.Crawler.PoolWidth = 0 }, "crawler.pool_width"},
		{"invalid cutoff", func(c *Config) { c.Crawler.FailureCutoff = 0 }, "crawler.failure_cutoff"},
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"headless missing max parallel", func(c *Config) {
			c.Headless.Enabled = true
			c.Headless.MaxParallel = 0
		}, "headless.max_parallel"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }, "store.driver"},
		{"postgres missing dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "store.dsn"},
		{"gcs missing bucket", func(c *Config) { c.Cache.Blob = "gcs" }, "cache.gcs_bucket"},
		{"bad retention", func(c *Config) { c.Retention.Days = 0 }, "retention.days"},
		{"bad job action", func(c *Config) {
			c.Schedule.Jobs = []JobConfig{{ID: "x", Cron: "* * * * *", Action: "explode"}}
		}, "unknown action"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
