package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/polylab/collector/internal/domain"
)

const timestampLayout = "2006-01-02T15:04:05Z"

// tabularHeader fixes the CSV column order. Scalar features first, then the
// three JSON blob columns for deeper analysis.
var tabularHeader = []string{
	"market_id", "platform", "title", "category", "outcomes",
	"resolution", "resolved_at",
	"volume", "liquidity", "end_date",
	"price_at_open", "price_at_close", "price_move",
	"market_consensus_at_close", "days_to_resolution",
	"price_mean", "price_std", "price_min", "price_max", "price_trend",
	"volume_mean", "volume_max", "spread_mean", "snapshot_count",
	"whale_count", "whale_correct_count", "whale_incorrect_count",
	"whale_accuracy", "whale_net_direction", "whale_consensus_correct",
	"whale_consensus_strength", "whale_total_value", "whale_avg_value",
	"whale_max_value", "whale_avg_entry_price", "whale_avg_win_rate",
	"whale_avg_profit_per_unit", "whale_unique_wallets", "whale_repeat_actors",
	"price_history", "whale_alerts", "news_headlines",
}

func writeTabular(path string, rows []marketRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(tabularHeader); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for _, row := range rows {
		record, err := tabularRecord(row)
		if err != nil {
			return err
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("export: write row %s: %w", row.market.MarketID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("export: flush %s: %w", path, err)
	}
	return f.Close()
}

func tabularRecord(row marketRow) ([]string, error) {
	m := row.market

	var openPrice, closePrice *float64
	if len(row.prices) > 0 {
		openPrice = row.prices[0].YesPrice
		closePrice = row.prices[len(row.prices)-1].YesPrice
	}
	var priceMove *float64
	if openPrice != nil && closePrice != nil {
		move := *closePrice - *openPrice
		priceMove = &move
	}

	outcomes, err := json.Marshal(m.Outcomes)
	if err != nil {
		return nil, fmt.Errorf("export: encode outcomes: %w", err)
	}
	history, err := json.Marshal(snapshotBlobs(row.prices))
	if err != nil {
		return nil, fmt.Errorf("export: encode history: %w", err)
	}
	whales, err := json.Marshal(alertBlobs(row.alerts))
	if err != nil {
		return nil, fmt.Errorf("export: encode alerts: %w", err)
	}
	headlines, err := json.Marshal(newsBlobs(row.news))
	if err != nil {
		return nil, fmt.Errorf("export: encode headlines: %w", err)
	}

	return []string{
		m.MarketID,
		string(m.Platform),
		m.Title,
		m.Category,
		string(outcomes),
		string(*m.Resolution),
		cellTime(m.ResolvedAt),
		cellFloat(&m.Volume),
		cellFloat(&m.Liquidity),
		cellTime(m.EndDate),
		cellFloat(openPrice),
		cellFloat(closePrice),
		cellFloat(priceMove),
		cellFloat(closePrice),
		cellFloat(daysToResolution(m)),
		cellFloat(row.features.Mean),
		cellFloat(row.features.Std),
		cellFloat(row.features.Min),
		cellFloat(row.features.Max),
		cellFloat(row.features.Trend),
		cellFloat(row.features.VolumeMean),
		cellFloat(row.features.VolumeMax),
		cellFloat(row.features.SpreadMean),
		strconv.Itoa(row.features.Count),
		strconv.Itoa(row.whales.Count),
		strconv.Itoa(row.whales.CorrectCount),
		strconv.Itoa(row.whales.IncorrectCount),
		cellFloat(row.whales.Accuracy),
		row.whales.NetDirection,
		cellBool(row.whales.ConsensusCorrect),
		cellFloat(row.whales.ConsensusStrength),
		cellFloat(row.whales.TotalValue),
		cellFloat(row.whales.AvgValue),
		cellFloat(row.whales.MaxValue),
		cellFloat(row.whales.AvgEntryPrice),
		cellFloat(row.whales.AvgWinRate),
		cellFloat(row.whales.AvgProfitPerUnit),
		strconv.Itoa(row.whales.UniqueWallets),
		strconv.Itoa(row.whales.RepeatActors),
		string(history),
		string(whales),
		string(headlines),
	}, nil
}

func daysToResolution(m domain.Market) *float64 {
	if m.EndDate == nil || m.ResolvedAt == nil {
		return nil
	}
	days := m.ResolvedAt.Sub(*m.EndDate).Seconds() / 86400
	return &days
}

// JSON blob shapes for the three raw-data columns.

type snapshotBlob struct {
	YesPrice   *float64 `json:"yes_price"`
	NoPrice    *float64 `json:"no_price"`
	Volume     *float64 `json:"volume"`
	Liquidity  *float64 `json:"liquidity"`
	Spread     *float64 `json:"spread"`
	SnapshotAt string   `json:"snapshot_at"`
}

func snapshotBlobs(prices []domain.PriceSnapshot) []snapshotBlob {
	blobs := make([]snapshotBlob, 0, len(prices))
	for _, p := range prices {
		blobs = append(blobs, snapshotBlob{
			YesPrice:   p.YesPrice,
			NoPrice:    p.NoPrice,
			Volume:     p.Volume,
			Liquidity:  p.Liquidity,
			Spread:     p.Spread,
			SnapshotAt: p.SnapshotAt.UTC().Format(timestampLayout),
		})
	}
	return blobs
}

type alertBlob struct {
	MarketID      string   `json:"market_id"`
	MarketTitle   string   `json:"market_title"`
	Side          string   `json:"side"`
	Value         *float64 `json:"value"`
	Price         *float64 `json:"price"`
	WinRate       *float64 `json:"win_rate"`
	Wallet        string   `json:"wallet"`
	CreatedAt     string   `json:"created_at"`
	Correct       *bool    `json:"correct"`
	EntryPrice    *float64 `json:"entry_price"`
	ProfitPerUnit *float64 `json:"profit_per_unit"`
}

func alertBlobs(alerts []EnrichedAlert) []alertBlob {
	blobs := make([]alertBlob, 0, len(alerts))
	for _, a := range alerts {
		blobs = append(blobs, alertBlob{
			MarketID:      a.MarketID,
			MarketTitle:   a.MarketTitle,
			Side:          a.Side,
			Value:         a.Value,
			Price:         a.Price,
			WinRate:       a.WinRate,
			Wallet:        a.Wallet,
			CreatedAt:     a.CreatedAt.UTC().Format(timestampLayout),
			Correct:       a.Correct,
			EntryPrice:    a.EntryPrice,
			ProfitPerUnit: a.ProfitPerUnit,
		})
	}
	return blobs
}

type newsBlob struct {
	Headline   string `json:"headline"`
	Source     string `json:"source"`
	CapturedAt string `json:"captured_at"`
}

func newsBlobs(items []domain.NewsItem) []newsBlob {
	blobs := make([]newsBlob, 0, len(items))
	for _, item := range items {
		blobs = append(blobs, newsBlob{
			Headline:   item.Headline,
			Source:     item.Source,
			CapturedAt: item.CapturedAt.UTC().Format(timestampLayout),
		})
	}
	return blobs
}

// GRPO: one {"prompt": ..., "outcome": 1|0} object per line.

type grpoRecord struct {
	Prompt  string `json:"prompt"`
	Outcome int    `json:"outcome"`
}

func writeGRPO(path string, contexts []promptContext) error {
	return writeJSONL(path, len(contexts), func(i int) (any, error) {
		pctx := contexts[i]
		headlines, err := json.Marshal(nonNil(pctx.headlines))
		if err != nil {
			return nil, err
		}
		prompt := fmt.Sprintf(
			"Market: %s\nPrice: %s\nPlatform: %s\nCategory: %s\nVolume: %s\n"+
				"Whale consensus: %d YES / %d NO\nPrice trend: %s\nHeadlines: %s",
			pctx.market.Title,
			promptFloat(pctx.currentYesPrice),
			pctx.market.Platform,
			pctx.market.Category,
			promptFloat(&pctx.market.Volume),
			pctx.yesWhales,
			pctx.noWhales,
			promptFloat(pctx.trend),
			headlines,
		)
		return grpoRecord{Prompt: prompt, Outcome: pctx.outcome}, nil
	})
}

// SFT: MLX chat format with a synthesized assistant turn anchored to the
// actual outcome.

const sftSystemPrompt = "You are a prediction market analyst. Given market information, whale " +
	"activity, and news headlines, predict the probability that the market " +
	"resolves YES. Reason step-by-step inside <think>...</think> tags, then " +
	"give your probability inside <prediction>...</prediction> tags."

type sftMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type sftRecord struct {
	Messages []sftMessage `json:"messages"`
}

func writeSFT(path string, contexts []promptContext) error {
	return writeJSONL(path, len(contexts), func(i int) (any, error) {
		pctx := contexts[i]
		headlines, err := json.Marshal(nonNil(pctx.headlines))
		if err != nil {
			return nil, err
		}
		userContent := fmt.Sprintf(
			"Market: %s\nPrice: %s\nPlatform: %s\nCategory: %s\nVolume: %s\nLiquidity: %s\n"+
				"Whale activity: %d trades (%d YES / %d NO)\nPrice trend: %s\nPrice mean: %s\nHeadlines: %s",
			pctx.market.Title,
			promptFloat(pctx.currentYesPrice),
			pctx.market.Platform,
			pctx.market.Category,
			promptFloat(&pctx.market.Volume),
			promptFloat(&pctx.market.Liquidity),
			pctx.whaleCount,
			pctx.yesWhales,
			pctx.noWhales,
			promptFloat(pctx.trend),
			promptFloat(pctx.mean),
			headlines,
		)

		// The target should be more confident than the market, since it sees
		// the whale signal: clamp toward the true outcome.
		prob := 1.0
		if pctx.outcome == 0 {
			prob = 0.0
		}
		if pctx.currentYesPrice != nil {
			if pctx.outcome == 1 {
				prob = max(*pctx.currentYesPrice, 0.70)
			} else {
				prob = min(*pctx.currentYesPrice, 0.30)
			}
		}
		resolutionWord := "YES"
		if pctx.outcome == 0 {
			resolutionWord = "NO"
		}
		assistantContent := fmt.Sprintf(
			"<think>Based on whale activity showing %d YES / %d NO positions "+
				"and a price trend of %s, the market is leaning toward %s.</think>\n"+
				"<prediction>%.2f</prediction>",
			pctx.yesWhales,
			pctx.noWhales,
			promptFloat(pctx.trend),
			resolutionWord,
			prob,
		)

		return sftRecord{Messages: []sftMessage{
			{Role: "system", Content: sftSystemPrompt},
			{Role: "user", Content: userContent},
			{Role: "assistant", Content: assistantContent},
		}}, nil
	})
}

func writeJSONL(path string, n int, record func(i int) (any, error)) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := 0; i < n; i++ {
		rec, err := record(i)
		if err != nil {
			return fmt.Errorf("export: encode line %d of %s: %w", i, path, err)
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("export: write line %d of %s: %w", i, path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("export: flush %s: %w", path, err)
	}
	return f.Close()
}

// Formatting helpers. Missing values render as empty CSV cells and as "n/a"
// in prompt text.

func cellFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func cellBool(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

func cellTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

func promptFloat(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
