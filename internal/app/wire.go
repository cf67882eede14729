package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/polylab/collector/internal/blob/s3"
	"github.com/polylab/collector/internal/cache"
	"github.com/polylab/collector/internal/cache/redis"
	"github.com/polylab/collector/internal/collector"
	"github.com/polylab/collector/internal/config"
	"github.com/polylab/collector/internal/domain"
	"github.com/polylab/collector/internal/export"
	"github.com/polylab/collector/internal/fetch"
	"github.com/polylab/collector/internal/news"
	"github.com/polylab/collector/internal/notify"
	"github.com/polylab/collector/internal/platform/kalshi"
	"github.com/polylab/collector/internal/platform/polymarket"
	"github.com/polylab/collector/internal/store"
	"github.com/polylab/collector/internal/store/memory"
	"github.com/polylab/collector/internal/store/postgres"
	"github.com/polylab/collector/internal/store/wwatcher"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	MarketStore   domain.MarketStore
	SnapshotStore domain.SnapshotStore
	NewsStore     domain.NewsStore
	AlertStore    domain.AlertStore // nil without a wwatcher DSN

	// Guard and journal
	Guard   *store.DiskGuard
	Journal domain.PhaseJournal

	// Platform adapters
	Clients []collector.PlatformClient

	// Optional extras
	Fetcher  collector.HeadlineFetcher // nil when news is disabled
	Uploader export.Uploader           // nil unless export.s3_upload is set

	// Notifier is always non-nil; with no channels configured every call is
	// a no-op.
	Notifier *notify.Notifier
}

// needsAlerts returns true for modes that join whale alerts.
func needsAlerts(mode string) bool {
	return mode == "export"
}

// needsS3 returns true for modes that push datasets to object storage.
func needsS3(mode string, cfg *config.Config) bool {
	return mode == "export" && cfg.Export.S3Upload
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, mode string, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Primary storage ---
	switch cfg.Storage.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Storage.DSN,
			Host:     cfg.Storage.Host,
			Port:     cfg.Storage.Port,
			Database: cfg.Storage.Database,
			User:     cfg.Storage.User,
			Password: cfg.Storage.Password,
			SSLMode:  cfg.Storage.SSLMode,
			MaxConns: cfg.Storage.PoolMaxConns,
			MinConns: cfg.Storage.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Storage.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.SnapshotStore = postgres.NewSnapshotStore(pool)
		deps.NewsStore = postgres.NewNewsStore(pool)
	case "memory":
		markets := memory.NewMarketStore()
		snaps := memory.NewSnapshotStore()
		newsStore := memory.NewNewsStore()
		markets.AttachCounters(snaps, newsStore)
		deps.MarketStore = markets
		deps.SnapshotStore = snaps
		deps.NewsStore = newsStore
		logger.Warn("memory storage driver selected, data is lost on exit")
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown storage driver %q", cfg.Storage.Driver)
	}

	deps.Guard = store.NewDiskGuard(cfg.Storage.GuardPath, cfg.Storage.GuardThreshold)

	// --- Rate limiting and phase journal ---
	// With Redis the limiter window and journal survive restarts and are
	// shared across processes; without it both fall back in-process.
	var polyLimiter, kalshiLimiter domain.RateLimiter
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		limiter := redis.NewRateLimiter(redisClient, map[string]int{
			string(domain.PlatformPolymarket): int(cfg.Limits.PolymarketRPS),
			string(domain.PlatformKalshi):     int(cfg.Limits.KalshiRPS),
		})
		polyLimiter = limiter
		kalshiLimiter = limiter
		deps.Journal = redis.NewPhaseJournal(redisClient)
	} else {
		polyLimiter = fetch.NewTokenBucket(cfg.Limits.PolymarketRPS)
		kalshiLimiter = fetch.NewTokenBucket(cfg.Limits.KalshiRPS)
		deps.Journal = cache.NewJournal()
	}

	// --- Platform adapters ---
	if cfg.Polymarket.Enabled {
		deps.Clients = append(deps.Clients, polymarket.NewGammaClient(
			cfg.Polymarket.GammaURL, polyLimiter, cfg.Limits.SnapshotBatch))
	}
	if cfg.Kalshi.Enabled {
		deps.Clients = append(deps.Clients, kalshi.NewClient(
			cfg.Kalshi.BaseURL, kalshiLimiter))
	}

	// --- Operational alerts ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- News fetcher ---
	if cfg.News.Enabled {
		deps.Fetcher = news.NewFetcher(cfg.News.SearxngURL, cfg.News.MaxResults)
	}

	// --- Whale alert source (export only, optional) ---
	if needsAlerts(mode) && cfg.Export.WwatcherDSN != "" {
		alertStore, err := wwatcher.New(ctx, cfg.Export.WwatcherDSN)
		if err != nil {
			// The whale join enriches exports but never blocks them.
			logger.Warn("wwatcher database unavailable, exporting without whale features",
				"error", err)
		} else {
			closers = append(closers, alertStore.Close)
			deps.AlertStore = alertStore
		}
	}

	// --- S3 dataset upload (export only, optional) ---
	if needsS3(mode, cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 bucket %s: %w", cfg.S3.Bucket, err)
		}
		deps.Uploader = s3blob.NewUploader(s3Client, "datasets")
	}

	return deps, cleanup, nil
}
