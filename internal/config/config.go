// Package config defines the collector configuration and provides validation
// helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by COLLECTOR_* environment
// variables.
type Config struct {
	General    GeneralConfig    `toml:"general"`
	Storage    StorageConfig    `toml:"storage"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Intervals  IntervalsConfig  `toml:"intervals"`
	Limits     LimitsConfig     `toml:"limits"`
	Redis      RedisConfig      `toml:"redis"`
	Export     ExportConfig     `toml:"export"`
	S3         S3Config         `toml:"s3"`
	News       NewsConfig       `toml:"news"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
}

// GeneralConfig holds process-wide parameters.
type GeneralConfig struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
}

// StorageConfig holds PostgreSQL connection parameters and the disk guard.
type StorageConfig struct {
	Driver         string  `toml:"driver"` // "postgres" or "memory"
	DSN            string  `toml:"dsn"`
	Host           string  `toml:"host"`
	Port           int     `toml:"port"`
	Database       string  `toml:"database"`
	User           string  `toml:"user"`
	Password       string  `toml:"password"`
	SSLMode        string  `toml:"ssl_mode"`
	PoolMaxConns   int     `toml:"pool_max_conns"`
	PoolMinConns   int     `toml:"pool_min_conns"`
	RunMigrations  bool    `toml:"run_migrations"`
	GuardThreshold float64 `toml:"guard_threshold"`
	// GuardPath is the mount point whose usage the guard measures.
	GuardPath string `toml:"guard_path"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	Enabled  bool   `toml:"enabled"`
	GammaURL string `toml:"gamma_url"`
}

// KalshiConfig holds Kalshi public API endpoints.
type KalshiConfig struct {
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
}

// IntervalsConfig holds the four phase timers.
type IntervalsConfig struct {
	Discover duration `toml:"discover"`
	Snapshot duration `toml:"snapshot"`
	Resolve  duration `toml:"resolve"`
	Backfill duration `toml:"backfill"`
}

// LimitsConfig holds request pacing and batching parameters.
type LimitsConfig struct {
	PolymarketRPS  float64 `toml:"polymarket_rps"`
	KalshiRPS      float64 `toml:"kalshi_rps"`
	SnapshotBatch  int     `toml:"snapshot_batch"`
	ResolveWorkers int     `toml:"resolve_workers"`
}

// RedisConfig holds Redis connection parameters. Redis backs the cross-process
// rate limiter and the phase journal; when disabled the daemon falls back to
// in-process equivalents.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// ExportConfig holds dataset export parameters.
type ExportConfig struct {
	OutputDir      string  `toml:"output_dir"`
	WwatcherDSN    string  `toml:"wwatcher_dsn"`
	FuzzyThreshold float64 `toml:"fuzzy_threshold"`
	S3Upload       bool    `toml:"s3_upload"`
}

// S3Config holds S3-compatible object storage parameters for dataset upload.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NewsConfig holds the optional SearXNG headline fetcher parameters.
type NewsConfig struct {
	Enabled    bool   `toml:"enabled"`
	SearxngURL string `toml:"searxng_url"`
	MaxResults int    `toml:"max_results"`
	// SampleSize caps how many active markets get a headline pass per tick.
	SampleSize int `toml:"sample_size"`
}

// ServerConfig holds the optional read-only admin HTTP API parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds operational alert delivery parameters. Events lists
// which event kinds get sent; empty means all of them.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "24h".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		General: GeneralConfig{
			Mode:     "daemon",
			LogLevel: "info",
		},
		Storage: StorageConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			Database:       "collector",
			User:           "collector",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			RunMigrations:  true,
			GuardThreshold: 0.90,
			GuardPath:      "/",
		},
		Polymarket: PolymarketConfig{
			Enabled:  true,
			GammaURL: "https://gamma-api.polymarket.com",
		},
		Kalshi: KalshiConfig{
			Enabled: true,
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
		},
		Intervals: IntervalsConfig{
			Discover: duration{5 * time.Minute},
			Snapshot: duration{15 * time.Minute},
			Resolve:  duration{30 * time.Minute},
			Backfill: duration{24 * time.Hour},
		},
		Limits: LimitsConfig{
			PolymarketRPS:  2,
			KalshiRPS:      4,
			SnapshotBatch:  200,
			ResolveWorkers: 4,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
		},
		Export: ExportConfig{
			OutputDir:      "./exports",
			FuzzyThreshold: 0.80,
			S3Upload:       false,
		},
		S3: S3Config{
			Endpoint:       "",
			Region:         "us-east-1",
			Bucket:         "collector-datasets",
			UseSSL:         true,
			ForcePathStyle: false,
		},
		News: NewsConfig{
			Enabled:    false,
			SearxngURL: "http://localhost:8080",
			MaxResults: 5,
			SampleSize: 25,
		},
		Server: ServerConfig{
			Enabled: false,
			Port:    8090,
		},
	}
}

// validModes enumerates the accepted values for General.Mode.
var validModes = map[string]bool{
	"daemon":     true,
	"status":     true,
	"backfill":   true,
	"export":     true,
	"categories": true,
}

// validLogLevels enumerates the accepted values for General.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validNotifyEvents enumerates the event names accepted in notify.events.
var validNotifyEvents = map[string]bool{
	"guard_tripped":       true,
	"resolution_conflict": true,
	"phase_failure":       true,
	"export_complete":     true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.General.Mode)] {
		errs = append(errs, fmt.Sprintf("general: unknown mode %q (valid: daemon, status, backfill, export, categories)", c.General.Mode))
	}
	if !validLogLevels[strings.ToLower(c.General.LogLevel)] {
		errs = append(errs, fmt.Sprintf("general: unknown log_level %q (valid: debug, info, warn, error)", c.General.LogLevel))
	}

	switch c.Storage.Driver {
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			if c.Storage.Host == "" {
				errs = append(errs, "storage: host must not be empty (or set storage.dsn)")
			}
			if c.Storage.Port <= 0 || c.Storage.Port > 65535 {
				errs = append(errs, fmt.Sprintf("storage: port must be 1-65535, got %d", c.Storage.Port))
			}
			if c.Storage.Database == "" {
				errs = append(errs, "storage: database must not be empty")
			}
		}
		if c.Storage.PoolMaxConns < 1 {
			errs = append(errs, "storage: pool_max_conns must be >= 1")
		}
		if c.Storage.PoolMinConns < 0 || c.Storage.PoolMinConns > c.Storage.PoolMaxConns {
			errs = append(errs, "storage: pool_min_conns must be 0..pool_max_conns")
		}
	case "memory":
		// Nothing to validate; data is lost on exit.
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, memory)", c.Storage.Driver))
	}

	if c.Storage.GuardThreshold <= 0 || c.Storage.GuardThreshold > 1 {
		errs = append(errs, fmt.Sprintf("storage: guard_threshold must be in (0, 1], got %g", c.Storage.GuardThreshold))
	}
	if c.Storage.GuardPath == "" {
		errs = append(errs, "storage: guard_path must not be empty")
	}

	if !c.Polymarket.Enabled && !c.Kalshi.Enabled {
		errs = append(errs, "at least one platform must be enabled")
	}
	if c.Polymarket.Enabled && c.Polymarket.GammaURL == "" {
		errs = append(errs, "polymarket: gamma_url must not be empty")
	}
	if c.Kalshi.Enabled && c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}

	for _, iv := range []struct {
		name string
		d    time.Duration
	}{
		{"discover", c.Intervals.Discover.Duration},
		{"snapshot", c.Intervals.Snapshot.Duration},
		{"resolve", c.Intervals.Resolve.Duration},
		{"backfill", c.Intervals.Backfill.Duration},
	} {
		if iv.d <= 0 {
			errs = append(errs, fmt.Sprintf("intervals: %s must be positive", iv.name))
		}
	}

	if c.Limits.PolymarketRPS <= 0 || c.Limits.KalshiRPS <= 0 {
		errs = append(errs, "limits: per-platform rps ceilings must be > 0")
	}
	if c.Limits.SnapshotBatch < 1 {
		errs = append(errs, "limits: snapshot_batch must be >= 1")
	}
	if c.Limits.ResolveWorkers < 1 {
		errs = append(errs, "limits: resolve_workers must be >= 1")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Export.OutputDir == "" {
		errs = append(errs, "export: output_dir must not be empty")
	}
	if c.Export.FuzzyThreshold < 0 || c.Export.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Sprintf("export: fuzzy_threshold must be in [0, 1], got %g", c.Export.FuzzyThreshold))
	}
	if c.Export.S3Upload {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when export.s3_upload is set")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when export.s3_upload is set")
		}
	}

	if c.News.Enabled {
		if c.News.SearxngURL == "" {
			errs = append(errs, "news: searxng_url must not be empty when enabled")
		}
		if c.News.MaxResults < 1 {
			errs = append(errs, "news: max_results must be >= 1")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, ev := range c.Notify.Events {
		if !validNotifyEvents[ev] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q (valid: guard_tripped, resolution_conflict, phase_failure, export_complete)", ev))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
