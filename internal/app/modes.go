package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polylab/collector/internal/collector"
	"github.com/polylab/collector/internal/domain"
	"github.com/polylab/collector/internal/export"
	"github.com/polylab/collector/internal/notify"
	"github.com/polylab/collector/internal/server"
	"github.com/polylab/collector/internal/server/handler"
)

func (a *App) newCollector(deps *Dependencies) *collector.Collector {
	return collector.New(
		deps.Clients,
		deps.MarketStore,
		deps.SnapshotStore,
		deps.NewsStore,
		deps.Journal,
		deps.Guard,
		collector.Options{
			ResolveWorkers: a.cfg.Limits.ResolveWorkers,
			NewsSample:     a.cfg.News.SampleSize,
			Fetcher:        deps.Fetcher,
			Notifier:       deps.Notifier,
		},
		a.logger,
	)
}

// DaemonMode runs the four ingestion phases on their timers until the context
// is cancelled. When the admin API is enabled it runs alongside the scheduler
// and shuts down with it.
func (a *App) DaemonMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting daemon mode",
		"platforms", len(deps.Clients),
		"news", deps.Fetcher != nil,
		"server", a.cfg.Server.Enabled,
	)
	c := a.newCollector(deps)
	sched := collector.NewScheduler(c, collector.Intervals{
		Discover: a.cfg.Intervals.Discover.Duration,
		Snapshot: a.cfg.Intervals.Snapshot.Duration,
		Resolve:  a.cfg.Intervals.Resolve.Duration,
		Backfill: a.cfg.Intervals.Backfill.Duration,
	}, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	if a.cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:   a.cfg.Server.Port,
			APIKey: a.cfg.Server.APIKey,
		}, server.Handlers{
			Health:  handler.NewHealthHandler(),
			Status:  handler.NewStatusHandler(c, a.logger),
			Markets: handler.NewMarketHandler(deps.MarketStore, a.logger),
		}, a.logger)
		g.Go(func() error { return srv.Run(gctx) })
	}
	return g.Wait()
}

// StatusMode prints the operational summary and exits.
func (a *App) StatusMode(ctx context.Context, deps *Dependencies) error {
	c := a.newCollector(deps)
	st, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("app: status: %w", err)
	}

	fmt.Println("collector status")
	fmt.Printf("  markets:    %d active / %d closed / %d resolved\n",
		st.Counts.Active, st.Counts.Closed, st.Counts.Resolved)
	fmt.Printf("  snapshots:  %d\n", st.Counts.Snapshots)
	fmt.Printf("  headlines:  %d\n", st.Counts.News)

	if usage, err := deps.Guard.Usage(ctx); err != nil {
		fmt.Printf("  disk:       unavailable (%v)\n", err)
	} else {
		fmt.Printf("  disk:       %.1f%% used (guard at %.0f%%)\n",
			usage*100, a.cfg.Storage.GuardThreshold*100)
	}
	fmt.Printf("  guard:      tripped=%v\n", st.GuardTripped)

	fmt.Println("  last successful phases:")
	for _, phase := range []string{
		collector.PhaseDiscover,
		collector.PhaseSnapshot,
		collector.PhaseResolve,
		collector.PhaseBackfill,
	} {
		at := st.LastSuccess[phase]
		if at.IsZero() {
			fmt.Printf("    %-9s never\n", phase)
			continue
		}
		fmt.Printf("    %-9s %s (%s ago)\n",
			phase,
			at.UTC().Format(time.RFC3339),
			time.Since(at).Round(time.Second))
	}
	return nil
}

// BackfillMode runs a single backfill sweep and exits.
func (a *App) BackfillMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting one-shot backfill")
	return a.newCollector(deps).RunPhase(ctx, collector.PhaseBackfill)
}

// ExportMode produces the requested dataset files and exits.
func (a *App) ExportMode(ctx context.Context, deps *Dependencies) error {
	exporter := export.New(
		deps.MarketStore,
		deps.SnapshotStore,
		deps.NewsStore,
		deps.AlertStore,
		deps.Uploader,
		a.cfg.Export.OutputDir,
		a.cfg.Export.FuzzyThreshold,
		a.logger,
	)

	opts := export.Options{
		Category: a.exportCategory,
		Platform: domain.Platform(strings.ToLower(a.exportPlatform)),
	}
	if a.exportFormat != "" {
		for _, f := range strings.Split(a.exportFormat, ",") {
			f = strings.TrimSpace(strings.ToLower(f))
			switch f {
			case export.FormatTabular, export.FormatGRPO, export.FormatSFT:
				opts.Formats = append(opts.Formats, f)
			default:
				return fmt.Errorf("app: unknown export format %q (valid: csv, grpo, sft)", f)
			}
		}
	}

	result, err := exporter.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("app: export: %w", err)
	}
	fmt.Printf("exported %d resolved markets (run %s)\n", result.Markets, result.RunID)
	for _, path := range []string{result.TabularPath, result.GRPOPath, result.SFTPath, result.ManifestPath} {
		if path != "" {
			fmt.Printf("  %s\n", path)
		}
	}
	if result.Uploaded > 0 {
		fmt.Printf("  uploaded %d files to s3://%s\n", result.Uploaded, a.cfg.S3.Bucket)
	}

	if err := deps.Notifier.Notify(ctx, notify.EventExportComplete,
		"Export complete",
		fmt.Sprintf("run %s exported %d resolved markets (%d files uploaded)",
			result.RunID, result.Markets, result.Uploaded)); err != nil {
		a.logger.Warn("export notification failed", "error", err)
	}
	return nil
}

// CategoriesMode prints per-category market counts and exits.
func (a *App) CategoriesMode(ctx context.Context, deps *Dependencies) error {
	categories, err := a.newCollector(deps).Categories(ctx)
	if err != nil {
		return fmt.Errorf("app: categories: %w", err)
	}
	if len(categories) == 0 {
		fmt.Println("no markets tracked yet")
		return nil
	}
	fmt.Printf("%-40s %8s %10s\n", "category", "markets", "resolved")
	for _, c := range categories {
		name := c.Category
		if name == "" {
			name = "(uncategorised)"
		}
		fmt.Printf("%-40s %8d %10d\n", name, c.Total, c.Resolved)
	}
	return nil
}
