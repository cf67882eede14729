package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COLLECTOR_* environment variable overrides, and
// returns the final Config. A missing file is not an error; the defaults plus
// environment are used. The returned Config has NOT been validated; callers
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COLLECTOR_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.General.Mode, "COLLECTOR_MODE")
	setStr(&cfg.General.LogLevel, "COLLECTOR_LOG_LEVEL")

	setStr(&cfg.Storage.Driver, "COLLECTOR_STORAGE_DRIVER")
	setStr(&cfg.Storage.DSN, "COLLECTOR_STORAGE_DSN")
	setStr(&cfg.Storage.Host, "COLLECTOR_STORAGE_HOST")
	setInt(&cfg.Storage.Port, "COLLECTOR_STORAGE_PORT")
	setStr(&cfg.Storage.Database, "COLLECTOR_STORAGE_DATABASE")
	setStr(&cfg.Storage.User, "COLLECTOR_STORAGE_USER")
	setStr(&cfg.Storage.Password, "COLLECTOR_STORAGE_PASSWORD")
	setStr(&cfg.Storage.SSLMode, "COLLECTOR_STORAGE_SSLMODE")
	setInt(&cfg.Storage.PoolMaxConns, "COLLECTOR_STORAGE_POOL_MAX_CONNS")
	setInt(&cfg.Storage.PoolMinConns, "COLLECTOR_STORAGE_POOL_MIN_CONNS")
	setBool(&cfg.Storage.RunMigrations, "COLLECTOR_STORAGE_RUN_MIGRATIONS")
	setFloat64(&cfg.Storage.GuardThreshold, "COLLECTOR_STORAGE_GUARD_THRESHOLD")
	setStr(&cfg.Storage.GuardPath, "COLLECTOR_STORAGE_GUARD_PATH")

	setBool(&cfg.Polymarket.Enabled, "COLLECTOR_POLYMARKET_ENABLED")
	setStr(&cfg.Polymarket.GammaURL, "COLLECTOR_POLYMARKET_GAMMA_URL")

	setBool(&cfg.Kalshi.Enabled, "COLLECTOR_KALSHI_ENABLED")
	setStr(&cfg.Kalshi.BaseURL, "COLLECTOR_KALSHI_BASE_URL")

	setDuration(&cfg.Intervals.Discover, "COLLECTOR_INTERVALS_DISCOVER")
	setDuration(&cfg.Intervals.Snapshot, "COLLECTOR_INTERVALS_SNAPSHOT")
	setDuration(&cfg.Intervals.Resolve, "COLLECTOR_INTERVALS_RESOLVE")
	setDuration(&cfg.Intervals.Backfill, "COLLECTOR_INTERVALS_BACKFILL")

	setFloat64(&cfg.Limits.PolymarketRPS, "COLLECTOR_LIMITS_POLYMARKET_RPS")
	setFloat64(&cfg.Limits.KalshiRPS, "COLLECTOR_LIMITS_KALSHI_RPS")
	setInt(&cfg.Limits.SnapshotBatch, "COLLECTOR_LIMITS_SNAPSHOT_BATCH")
	setInt(&cfg.Limits.ResolveWorkers, "COLLECTOR_LIMITS_RESOLVE_WORKERS")

	setBool(&cfg.Redis.Enabled, "COLLECTOR_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "COLLECTOR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COLLECTOR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COLLECTOR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COLLECTOR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COLLECTOR_REDIS_MAX_RETRIES")

	setStr(&cfg.Export.OutputDir, "COLLECTOR_EXPORT_OUTPUT_DIR")
	setStr(&cfg.Export.WwatcherDSN, "COLLECTOR_EXPORT_WWATCHER_DSN")
	setFloat64(&cfg.Export.FuzzyThreshold, "COLLECTOR_EXPORT_FUZZY_THRESHOLD")
	setBool(&cfg.Export.S3Upload, "COLLECTOR_EXPORT_S3_UPLOAD")

	setStr(&cfg.S3.Endpoint, "COLLECTOR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COLLECTOR_S3_REGION")
	setStr(&cfg.S3.Bucket, "COLLECTOR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COLLECTOR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COLLECTOR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COLLECTOR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COLLECTOR_S3_FORCE_PATH_STYLE")

	setBool(&cfg.News.Enabled, "COLLECTOR_NEWS_ENABLED")
	setStr(&cfg.News.SearxngURL, "COLLECTOR_NEWS_SEARXNG_URL")
	setInt(&cfg.News.MaxResults, "COLLECTOR_NEWS_MAX_RESULTS")
	setInt(&cfg.News.SampleSize, "COLLECTOR_NEWS_SAMPLE_SIZE")

	setBool(&cfg.Server.Enabled, "COLLECTOR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "COLLECTOR_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "COLLECTOR_SERVER_API_KEY")

	setStr(&cfg.Notify.TelegramToken, "COLLECTOR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COLLECTOR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COLLECTOR_NOTIFY_DISCORD_WEBHOOK_URL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
