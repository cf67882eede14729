// Package app provides the top-level application lifecycle for the collector.
// It wires together all dependencies (stores, caches, platform adapters, the
// exporter) and runs the requested operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/polylab/collector/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()

	// Flags from the command line that refine a mode.
	exportFormat   string
	exportCategory string
	exportPlatform string
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// SetExportFilters records the -format, -category, and -platform flags for
// the export mode.
func (a *App) SetExportFilters(format, category, platform string) {
	a.exportFormat = format
	a.exportCategory = category
	a.exportPlatform = platform
}

// Run is the main entry point. It wires all dependencies, dispatches the
// configured mode, and blocks until the mode returns or the context is
// cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.General.Mode)
	a.logger.InfoContext(ctx, "starting collector",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.General.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, mode, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch mode {
	case "daemon":
		return a.DaemonMode(ctx, deps)
	case "status":
		return a.StatusMode(ctx, deps)
	case "backfill":
		return a.BackfillMode(ctx, deps)
	case "export":
		return a.ExportMode(ctx, deps)
	case "categories":
		return a.CategoriesMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.General.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down collector")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
