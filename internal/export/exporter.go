// Package export turns resolved markets into training datasets: a tabular
// CSV with whale and price features, a GRPO prompt/outcome JSONL, and an SFT
// chat JSONL. Prompt datasets are causally masked so nothing observed at or
// after resolution leaks into the context.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polylab/collector/internal/domain"
)

// Uploader pushes finished dataset files to object storage.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, key string) error
}

// Dataset format names accepted by Options.Formats.
const (
	FormatTabular = "csv"
	FormatGRPO    = "grpo"
	FormatSFT     = "sft"
)

// Options narrows an export run.
type Options struct {
	// Category keeps only markets whose category contains this text,
	// case-insensitively.
	Category string
	// Platform keeps only one platform's markets when set.
	Platform domain.Platform
	// Formats selects which dataset files to produce; empty means all.
	Formats []string
}

func (o Options) wants(format string) bool {
	if len(o.Formats) == 0 {
		return true
	}
	for _, f := range o.Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Result describes what an export run produced.
type Result struct {
	RunID        string
	TabularPath  string
	GRPOPath     string
	SFTPath      string
	ManifestPath string
	Markets      int
	Uploaded     int
}

// Exporter reads the collector stores and writes dataset files.
type Exporter struct {
	markets   domain.MarketStore
	snapshots domain.SnapshotStore
	news      domain.NewsStore
	alerts    domain.AlertStore
	uploader  Uploader

	outputDir string
	threshold float64
	logger    *slog.Logger
	now       func() time.Time
}

// New wires an Exporter. The alert store and uploader are both optional: a
// nil alert store exports without whale features, a nil uploader keeps the
// files local.
func New(
	markets domain.MarketStore,
	snapshots domain.SnapshotStore,
	news domain.NewsStore,
	alerts domain.AlertStore,
	uploader Uploader,
	outputDir string,
	fuzzyThreshold float64,
	logger *slog.Logger,
) *Exporter {
	if fuzzyThreshold <= 0 {
		fuzzyThreshold = 0.80
	}
	return &Exporter{
		markets:   markets,
		snapshots: snapshots,
		news:      news,
		alerts:    alerts,
		uploader:  uploader,
		outputDir: outputDir,
		threshold: fuzzyThreshold,
		logger:    logger.With("component", "export"),
		now:       time.Now,
	}
}

// Run produces all three dataset files for the current resolved set.
func (e *Exporter) Run(ctx context.Context, opts Options) (Result, error) {
	result := Result{RunID: uuid.NewString()}
	logger := e.logger.With("run_id", result.RunID)

	markets, err := e.selectMarkets(ctx, opts)
	if err != nil {
		return result, err
	}
	result.Markets = len(markets)
	if len(markets) == 0 {
		logger.Warn("no resolved markets to export")
		return result, nil
	}

	var alerts []domain.WhaleAlert
	if e.alerts != nil {
		alerts, err = e.alerts.ListAll(ctx)
		if err != nil {
			// The whale join is an enrichment, not a requirement.
			logger.Warn("whale alert load failed, exporting without whale features", "error", err)
			alerts = nil
		}
	}
	linked := linkAlerts(alerts, markets, e.threshold)

	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return result, fmt.Errorf("export: create output dir: %w", err)
	}
	ts := e.now().UTC().Format("20060102_150405")
	suffix := fileSuffix(opts)

	if opts.wants(FormatTabular) {
		rows := make([]marketRow, 0, len(markets))
		for _, m := range markets {
			row, err := e.buildRow(ctx, m, linked.byMarket[m.MarketID])
			if err != nil {
				return result, err
			}
			rows = append(rows, row)
		}
		result.TabularPath = filepath.Join(e.outputDir, fmt.Sprintf("resolved_%s%s.csv", ts, suffix))
		if err := writeTabular(result.TabularPath, rows); err != nil {
			return result, err
		}
	}

	if opts.wants(FormatGRPO) || opts.wants(FormatSFT) {
		contexts := make([]promptContext, 0, len(markets))
		for _, m := range markets {
			pctx, err := e.buildPromptContext(ctx, m, linked.byMarket[m.MarketID])
			if err != nil {
				return result, err
			}
			contexts = append(contexts, pctx)
		}
		if opts.wants(FormatGRPO) {
			result.GRPOPath = filepath.Join(e.outputDir, fmt.Sprintf("grpo_%s%s.jsonl", ts, suffix))
			if err := writeGRPO(result.GRPOPath, contexts); err != nil {
				return result, err
			}
		}
		if opts.wants(FormatSFT) {
			result.SFTPath = filepath.Join(e.outputDir, fmt.Sprintf("sft_%s%s.jsonl", ts, suffix))
			if err := writeSFT(result.SFTPath, contexts); err != nil {
				return result, err
			}
		}
	}
	man := manifest{
		RunID:          result.RunID,
		CreatedAt:      e.now().UTC().Format(timestampLayout),
		Category:       opts.Category,
		Platform:       string(opts.Platform),
		Markets:        len(markets),
		Files:          []string{},
		UnlinkedAlerts: manifestAlerts(linked.unlinked),
	}
	for _, assigned := range linked.byMarket {
		man.LinkedAlerts += len(assigned)
	}
	for _, path := range []string{result.TabularPath, result.GRPOPath, result.SFTPath} {
		if path != "" {
			man.Files = append(man.Files, filepath.Base(path))
		}
	}
	result.ManifestPath = filepath.Join(e.outputDir, fmt.Sprintf("manifest_%s%s.json", ts, suffix))
	if err := writeManifest(result.ManifestPath, man); err != nil {
		return result, err
	}

	logger.Info("datasets written",
		"markets", len(markets),
		"tabular", result.TabularPath,
		"grpo", result.GRPOPath,
		"sft", result.SFTPath,
		"unlinked_alerts", len(linked.unlinked))

	if e.uploader != nil {
		for _, path := range []string{result.TabularPath, result.GRPOPath, result.SFTPath, result.ManifestPath} {
			if path == "" {
				continue
			}
			if err := e.uploader.UploadFile(ctx, path, filepath.Base(path)); err != nil {
				return result, fmt.Errorf("export: upload %s: %w", path, err)
			}
			result.Uploaded++
		}
		logger.Info("datasets uploaded", "files", result.Uploaded)
	}
	return result, nil
}

// selectMarkets returns resolved markets carrying an outcome, narrowed by the
// run options.
func (e *Exporter) selectMarkets(ctx context.Context, opts Options) ([]domain.Market, error) {
	all, err := e.markets.List(ctx, domain.MarketFilter{
		Status:   []domain.MarketStatus{domain.MarketStatusResolved},
		Platform: opts.Platform,
	})
	if err != nil {
		return nil, fmt.Errorf("export: list resolved: %w", err)
	}
	selected := make([]domain.Market, 0, len(all))
	needle := strings.ToLower(opts.Category)
	for _, m := range all {
		if m.Resolution == nil {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(m.Category), needle) {
			continue
		}
		selected = append(selected, m)
	}
	return selected, nil
}

// marketRow is one tabular record: the market, its full history, and the
// derived features. Unlike the prompt datasets, the tabular export keeps
// post-resolution observations; hindsight is the point of those features.
type marketRow struct {
	market   domain.Market
	prices   []domain.PriceSnapshot
	news     []domain.NewsItem
	alerts   []EnrichedAlert
	whales   WhaleStats
	features PriceFeatures
}

func (e *Exporter) buildRow(ctx context.Context, m domain.Market, alerts []domain.WhaleAlert) (marketRow, error) {
	prices, err := e.snapshots.ListByMarket(ctx, m.Platform, m.MarketID, nil)
	if err != nil {
		return marketRow{}, fmt.Errorf("export: snapshots %s: %w", m.MarketID, err)
	}
	news, err := e.news.ListByMarket(ctx, m.MarketID, nil)
	if err != nil {
		return marketRow{}, fmt.Errorf("export: news %s: %w", m.MarketID, err)
	}
	enriched := enrichAlerts(alerts, *m.Resolution, prices)
	return marketRow{
		market:   m,
		prices:   prices,
		news:     news,
		alerts:   enriched,
		whales:   computeWhaleStats(enriched, *m.Resolution),
		features: computePriceFeatures(prices),
	}, nil
}

// promptContext is the causally masked view of one market used by the GRPO
// and SFT encoders.
type promptContext struct {
	market          domain.Market
	currentYesPrice *float64
	trend           *float64
	mean            *float64
	whaleCount      int
	yesWhales       int
	noWhales        int
	headlines       []string
	outcome         int
}

func (e *Exporter) buildPromptContext(ctx context.Context, m domain.Market, alerts []domain.WhaleAlert) (promptContext, error) {
	// A nil cutoff leaves the series unmasked; that only happens for
	// legacy rows resolved without a timestamp.
	cutoff := m.ResolvedAt

	prices, err := e.snapshots.ListByMarket(ctx, m.Platform, m.MarketID, cutoff)
	if err != nil {
		return promptContext{}, fmt.Errorf("export: masked snapshots %s: %w", m.MarketID, err)
	}
	news, err := e.news.ListByMarket(ctx, m.MarketID, cutoff)
	if err != nil {
		return promptContext{}, fmt.Errorf("export: masked news %s: %w", m.MarketID, err)
	}

	pctx := promptContext{
		market:  m,
		outcome: m.Resolution.Label(),
	}
	if len(prices) > 0 {
		pctx.currentYesPrice = prices[len(prices)-1].YesPrice
	}
	features := computePriceFeatures(prices)
	pctx.trend = features.Trend
	pctx.mean = features.Mean

	for _, a := range alerts {
		// Alerts placed at or after resolution are hindsight, not signal.
		if cutoff != nil && !a.CreatedAt.Before(*cutoff) {
			continue
		}
		pctx.whaleCount++
		switch strings.ToUpper(strings.TrimSpace(a.Side)) {
		case "YES":
			pctx.yesWhales++
		case "NO":
			pctx.noWhales++
		}
	}

	for _, item := range news {
		pctx.headlines = append(pctx.headlines, item.Headline)
	}
	return pctx, nil
}

// fileSuffix builds the filename fragment encoding the run's filters.
func fileSuffix(opts Options) string {
	var suffix string
	if opts.Category != "" {
		suffix += "_" + categorySlug(opts.Category)
	}
	if opts.Platform != "" {
		suffix += "_" + string(opts.Platform)
	}
	return suffix
}

// categorySlug turns a category name into a safe filename fragment.
func categorySlug(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "/", "_")
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
