// Package collector runs the ingestion phases: discover, snapshot, resolve,
// and backfill. Each phase pulls from the platform adapters and writes through
// the store interfaces; the scheduler drives them on independent timers.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polylab/collector/internal/domain"
	"github.com/polylab/collector/internal/notify"
)

// Phase names used for journal keys and log attributes.
const (
	PhaseDiscover = "discover"
	PhaseSnapshot = "snapshot"
	PhaseResolve  = "resolve"
	PhaseBackfill = "backfill"
)

// PlatformClient is the adapter surface both exchange clients implement.
type PlatformClient interface {
	Platform() domain.Platform
	// DiscoverMarkets lists currently open markets. Adapters that receive
	// price data in the listing response also return it as snapshots so the
	// discover phase can capture an observation for free.
	DiscoverMarkets(ctx context.Context) ([]domain.Market, []domain.PriceSnapshot, error)
	// FetchPrices returns fresh snapshots for the tracked markets.
	FetchPrices(ctx context.Context, markets []domain.Market) ([]domain.PriceSnapshot, error)
	// CheckResolution returns the market's terminal outcome, or nil when the
	// market is still open, gone from the API, or awaiting its oracle.
	CheckResolution(ctx context.Context, marketID string) (*domain.Resolution, error)
	// FetchResolvedMarkets lists already-settled markets for backfill.
	FetchResolvedMarkets(ctx context.Context) ([]domain.Market, error)
}

// Guard gates write phases on local disk headroom.
type Guard interface {
	Check(ctx context.Context) error
}

// HeadlineFetcher is the optional news source sampled during snapshots.
type HeadlineFetcher interface {
	Search(ctx context.Context, marketID, query string) ([]domain.NewsItem, error)
}

// Notifier pushes operational alerts for noteworthy phase events.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Options tunes phase behaviour beyond the wiring in New.
type Options struct {
	ResolveWorkers int
	NewsSample     int
	Fetcher        HeadlineFetcher
	Notifier       Notifier
}

// Collector owns the four ingestion phases and the guard/journal bookkeeping
// around them.
type Collector struct {
	clients   []PlatformClient
	markets   domain.MarketStore
	snapshots domain.SnapshotStore
	news      domain.NewsStore
	journal   domain.PhaseJournal
	guard     Guard
	fetcher   HeadlineFetcher
	notifier  Notifier

	resolveWorkers int
	newsSample     int
	logger         *slog.Logger
	now            func() time.Time
}

// New wires a Collector. The clients slice decides which platforms run; an
// Options.Fetcher of nil disables headline capture.
func New(
	clients []PlatformClient,
	markets domain.MarketStore,
	snapshots domain.SnapshotStore,
	news domain.NewsStore,
	journal domain.PhaseJournal,
	guard Guard,
	opts Options,
	logger *slog.Logger,
) *Collector {
	workers := opts.ResolveWorkers
	if workers < 1 {
		workers = 4
	}
	sample := opts.NewsSample
	if sample < 1 {
		sample = 25
	}
	return &Collector{
		clients:        clients,
		markets:        markets,
		snapshots:      snapshots,
		news:           news,
		journal:        journal,
		guard:          guard,
		fetcher:        opts.Fetcher,
		notifier:       opts.Notifier,
		resolveWorkers: workers,
		newsSample:     sample,
		logger:         logger.With("component", "collector"),
		now:            time.Now,
	}
}

// RunDiscover pulls the open-market listing from every platform, upserts the
// metadata, and stores any snapshots that came along with the listing.
func (c *Collector) RunDiscover(ctx context.Context) error {
	var errs []error
	for _, client := range c.clients {
		platform := client.Platform()
		markets, snaps, err := client.DiscoverMarkets(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("discover %s: %w", platform, err))
			continue
		}
		if err := c.markets.UpsertBatch(ctx, markets); err != nil {
			errs = append(errs, fmt.Errorf("discover %s: upsert: %w", platform, err))
			continue
		}
		stored, err := c.snapshots.InsertBatch(ctx, snaps)
		if err != nil {
			errs = append(errs, fmt.Errorf("discover %s: snapshots: %w", platform, err))
			continue
		}
		c.logger.Info("discovered markets",
			"platform", platform,
			"markets", len(markets),
			"snapshots", stored)
	}
	return errors.Join(errs...)
}

// RunSnapshot fetches fresh prices for every tracked active market, platform
// by platform, and appends the observations. When a headline fetcher is
// configured it also samples a handful of active markets for news context.
func (c *Collector) RunSnapshot(ctx context.Context) error {
	var errs []error
	for _, client := range c.clients {
		platform := client.Platform()
		active, err := c.markets.List(ctx, domain.MarketFilter{
			Status:   []domain.MarketStatus{domain.MarketStatusActive},
			Platform: platform,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("snapshot %s: list: %w", platform, err))
			continue
		}
		if len(active) == 0 {
			continue
		}
		snaps, err := client.FetchPrices(ctx, active)
		if err != nil {
			errs = append(errs, fmt.Errorf("snapshot %s: fetch: %w", platform, err))
			continue
		}
		stored, err := c.snapshots.InsertBatch(ctx, snaps)
		if err != nil {
			errs = append(errs, fmt.Errorf("snapshot %s: insert: %w", platform, err))
			continue
		}
		c.logger.Info("captured snapshots",
			"platform", platform,
			"tracked", len(active),
			"snapshots", stored)

		c.captureNews(ctx, active)
	}
	return errors.Join(errs...)
}

// captureNews runs a headline pass over a sample of active markets. News is
// best effort: failures are logged and never fail the snapshot phase.
func (c *Collector) captureNews(ctx context.Context, active []domain.Market) {
	if c.fetcher == nil {
		return
	}
	sample := active
	if len(sample) > c.newsSample {
		sample = sample[:c.newsSample]
	}
	var stored int
	for _, m := range sample {
		if ctx.Err() != nil {
			return
		}
		items, err := c.fetcher.Search(ctx, m.MarketID, m.Title)
		if err != nil {
			c.logger.Warn("headline search failed",
				"market_id", m.MarketID, "error", err)
			continue
		}
		for _, item := range items {
			if err := c.news.Insert(ctx, item); err != nil {
				c.logger.Warn("headline insert failed",
					"market_id", m.MarketID, "error", err)
				continue
			}
			stored++
		}
	}
	if stored > 0 {
		c.logger.Info("captured headlines", "markets", len(sample), "headlines", stored)
	}
}

// RunResolve checks every unresolved market past its end date against its
// platform. Markets with a terminal outcome are resolved exactly once; markets
// still awaiting an oracle are moved from active to closed.
func (c *Collector) RunResolve(ctx context.Context) error {
	now := c.now().UTC()
	due, err := c.markets.ListUnresolvedPastEnd(ctx, now)
	if err != nil {
		return fmt.Errorf("resolve: list due: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	byPlatform := make(map[domain.Platform]PlatformClient, len(c.clients))
	for _, client := range c.clients {
		byPlatform[client.Platform()] = client
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.resolveWorkers)
	var resolved, closed atomicCounter
	for _, m := range due {
		client, ok := byPlatform[m.Platform]
		if !ok {
			continue
		}
		g.Go(func() error {
			outcome, err := client.CheckResolution(gctx, m.MarketID)
			if err != nil {
				// One flaky market should not abort the sweep.
				c.logger.Warn("resolution check failed",
					"platform", m.Platform, "market_id", m.MarketID, "error", err)
				return nil
			}
			if outcome == nil {
				if m.Status == domain.MarketStatusActive {
					if err := c.markets.MarkClosed(gctx, m.Platform, m.MarketID); err != nil {
						return fmt.Errorf("resolve: mark closed %s/%s: %w", m.Platform, m.MarketID, err)
					}
					closed.inc()
				}
				return nil
			}
			res, err := c.markets.RecordResolution(gctx, m.Platform, m.MarketID, *outcome, now)
			if err != nil {
				return fmt.Errorf("resolve: record %s/%s: %w", m.Platform, m.MarketID, err)
			}
			if res.Conflict {
				c.logger.Warn("conflicting resolution from upstream",
					"platform", m.Platform,
					"market_id", m.MarketID,
					"recorded", res.Existing,
					"reported", *outcome)
				c.alert(gctx, notify.EventResolutionConflict,
					"Resolution conflict",
					fmt.Sprintf("%s market %s already resolved %s, upstream now reports %s",
						m.Platform, m.MarketID, res.Existing, *outcome))
			}
			if res.Applied {
				resolved.inc()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.logger.Info("resolution sweep complete",
		"due", len(due),
		"resolved", resolved.get(),
		"closed", closed.get())
	return nil
}

// RunBackfill ingests already-settled markets from every platform. The upsert
// path enforces the usual invariants, so re-running a backfill is harmless.
func (c *Collector) RunBackfill(ctx context.Context) error {
	var errs []error
	for _, client := range c.clients {
		platform := client.Platform()
		markets, err := client.FetchResolvedMarkets(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("backfill %s: %w", platform, err))
			continue
		}
		if err := c.markets.UpsertBatch(ctx, markets); err != nil {
			errs = append(errs, fmt.Errorf("backfill %s: upsert: %w", platform, err))
			continue
		}
		c.logger.Info("backfilled markets", "platform", platform, "markets", len(markets))
	}
	return errors.Join(errs...)
}

// RunPhase executes one named phase behind the guard and journal. One-shot
// command modes use it; the scheduler drives the same path on timers.
func (c *Collector) RunPhase(ctx context.Context, phase string) error {
	switch phase {
	case PhaseDiscover:
		return c.runGuarded(ctx, phase, c.RunDiscover)
	case PhaseSnapshot:
		return c.runGuarded(ctx, phase, c.RunSnapshot)
	case PhaseResolve:
		return c.runGuarded(ctx, phase, c.RunResolve)
	case PhaseBackfill:
		return c.runGuarded(ctx, phase, c.RunBackfill)
	default:
		return fmt.Errorf("collector: unknown phase %q", phase)
	}
}

// alert pushes a notification and logs delivery failures. It is a no-op
// without a configured notifier.
func (c *Collector) alert(ctx context.Context, event, title, message string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, event, title, message); err != nil {
		c.logger.Warn("notification failed", "event", event, "error", err)
	}
}

// runGuarded executes one phase behind the disk guard and records its outcome
// in the journal. A tripped guard skips the phase without counting as failure.
func (c *Collector) runGuarded(ctx context.Context, phase string, fn func(context.Context) error) error {
	if err := c.guard.Check(ctx); err != nil {
		if errors.Is(err, domain.ErrGuardTripped) {
			if jerr := c.journal.SetGuardTripped(ctx, true); jerr != nil {
				c.logger.Warn("journal update failed", "error", jerr)
			}
			c.logger.Warn("disk guard tripped, skipping phase", "phase", phase, "error", err)
			c.alert(ctx, notify.EventGuardTripped,
				"Disk guard tripped",
				fmt.Sprintf("skipped %s phase: %v", phase, err))
			return nil
		}
		return fmt.Errorf("%s: guard: %w", phase, err)
	}
	if err := c.journal.SetGuardTripped(ctx, false); err != nil {
		c.logger.Warn("journal update failed", "error", err)
	}
	if err := fn(ctx); err != nil {
		return err
	}
	if err := c.journal.RecordSuccess(ctx, phase, c.now().UTC()); err != nil {
		c.logger.Warn("journal update failed", "phase", phase, "error", err)
	}
	return nil
}
