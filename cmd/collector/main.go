// Command collector is the prediction-market data collector. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and runs the configured mode: the polling daemon, a one-shot backfill, a
// dataset export, or a status report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/polylab/collector/internal/app"
	"github.com/polylab/collector/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (daemon, status, backfill, export, categories)")
	format := flag.String("format", "", "export: dataset formats, comma separated (csv, grpo, sft; default all)")
	category := flag.String("category", "", "export: only markets whose category contains this text")
	platform := flag.String("platform", "", "export: only this platform (polymarket, kalshi)")
	flag.Parse()

	// Bootstrap logger; replaced once the configured level is known.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.General.Mode = *mode
	}

	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("collector starting",
		slog.String("mode", cfg.General.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	application.SetExportFilters(*format, *category, *platform)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("collector shut down gracefully")
		} else {
			logger.Error("collector exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("collector stopped")
}
