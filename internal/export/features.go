package export

import (
	"math"
	"strings"

	"github.com/polylab/collector/internal/domain"
)

// EnrichedAlert is a whale alert tagged with hindsight: whether the whale's
// side matched the resolution and the estimated profit per dollar of
// exposure. A YES buy at 0.60 that resolves YES earns 0.40 per unit.
type EnrichedAlert struct {
	domain.WhaleAlert
	Correct       *bool    `json:"correct"`
	EntryPrice    *float64 `json:"entry_price"`
	ProfitPerUnit *float64 `json:"profit_per_unit"`
}

func enrichAlerts(alerts []domain.WhaleAlert, resolution domain.Resolution, prices []domain.PriceSnapshot) []EnrichedAlert {
	enriched := make([]EnrichedAlert, 0, len(alerts))
	for _, a := range alerts {
		e := EnrichedAlert{WhaleAlert: a}
		side := strings.ToUpper(strings.TrimSpace(a.Side))
		if side == "YES" || side == "NO" {
			correct := side == string(resolution)
			e.Correct = &correct
		}
		e.EntryPrice = entryPrice(a, prices)
		if e.EntryPrice != nil && (side == "YES" || side == "NO") {
			var profit float64
			if side == "YES" {
				if resolution == domain.ResolutionYes {
					profit = 1.0 - *e.EntryPrice
				} else {
					profit = -*e.EntryPrice
				}
			} else {
				// NO buyers pay (1 - yes_price) and collect 1.0 on a NO.
				noEntry := 1.0 - *e.EntryPrice
				if resolution == domain.ResolutionNo {
					profit = 1.0 - noEntry
				} else {
					profit = -noEntry
				}
			}
			e.ProfitPerUnit = &profit
		}
		enriched = append(enriched, e)
	}
	return enriched
}

// entryPrice estimates the yes price at the moment of the whale's trade. The
// alert's own price field wins when present (normalised from cents when it
// reads above 1); otherwise the nearest snapshot by timestamp stands in.
func entryPrice(a domain.WhaleAlert, prices []domain.PriceSnapshot) *float64 {
	if a.Price != nil {
		p := *a.Price
		if p > 1.0 {
			p /= 100.0
		}
		return &p
	}
	if a.CreatedAt.IsZero() || len(prices) == 0 {
		return nil
	}
	var best *domain.PriceSnapshot
	bestDiff := math.Inf(1)
	for i := range prices {
		diff := math.Abs(prices[i].SnapshotAt.Sub(a.CreatedAt).Seconds())
		if diff < bestDiff {
			bestDiff = diff
			best = &prices[i]
		}
	}
	if best == nil {
		return nil
	}
	return best.YesPrice
}

// WhaleStats aggregates one market's enriched alerts into flat model
// features.
type WhaleStats struct {
	Count             int
	CorrectCount      int
	IncorrectCount    int
	Accuracy          *float64
	NetDirection      string // "YES", "NO", "MIXED", or "" with no alerts
	ConsensusCorrect  *bool
	ConsensusStrength *float64
	TotalValue        *float64
	AvgValue          *float64
	MaxValue          *float64
	AvgEntryPrice     *float64
	AvgWinRate        *float64
	AvgProfitPerUnit  *float64
	UniqueWallets     int
	RepeatActors      int
}

func computeWhaleStats(alerts []EnrichedAlert, resolution domain.Resolution) WhaleStats {
	if len(alerts) == 0 {
		return WhaleStats{}
	}
	n := len(alerts)
	stats := WhaleStats{Count: n}

	yesCount := 0
	for _, a := range alerts {
		if a.Correct != nil {
			if *a.Correct {
				stats.CorrectCount++
			} else {
				stats.IncorrectCount++
			}
		}
		if strings.ToUpper(strings.TrimSpace(a.Side)) == "YES" {
			yesCount++
		}
	}
	noCount := n - yesCount

	accuracy := float64(stats.CorrectCount) / float64(n)
	stats.Accuracy = &accuracy

	switch {
	case yesCount > noCount:
		stats.NetDirection = "YES"
	case noCount > yesCount:
		stats.NetDirection = "NO"
	default:
		stats.NetDirection = "MIXED"
	}
	if stats.NetDirection != "MIXED" {
		consensus := stats.NetDirection == string(resolution)
		stats.ConsensusCorrect = &consensus
	}
	strength := float64(max(yesCount, noCount)) / float64(n)
	stats.ConsensusStrength = &strength

	var values, entries, winRates, profits []float64
	for _, a := range alerts {
		if a.Value != nil {
			values = append(values, *a.Value)
		}
		if a.EntryPrice != nil {
			entries = append(entries, *a.EntryPrice)
		}
		if a.WinRate != nil {
			winRates = append(winRates, *a.WinRate)
		}
		if a.ProfitPerUnit != nil {
			profits = append(profits, *a.ProfitPerUnit)
		}
	}
	if len(values) > 0 {
		total := 0.0
		maxValue := values[0]
		for _, v := range values {
			total += v
			if v > maxValue {
				maxValue = v
			}
		}
		stats.TotalValue = &total
		stats.MaxValue = &maxValue
	}
	stats.AvgValue = safeMean(values)
	stats.AvgEntryPrice = safeMean(entries)
	stats.AvgWinRate = safeMean(winRates)
	stats.AvgProfitPerUnit = safeMean(profits)

	seen := make(map[string]int)
	for _, a := range alerts {
		if a.Wallet != "" {
			seen[a.Wallet]++
		}
	}
	stats.UniqueWallets = len(seen)
	for _, count := range seen {
		if count > 1 {
			stats.RepeatActors++
		}
	}
	return stats
}

// PriceFeatures summarises a market's snapshot series.
type PriceFeatures struct {
	Mean       *float64
	Std        *float64
	Min        *float64
	Max        *float64
	Trend      *float64
	VolumeMean *float64
	VolumeMax  *float64
	SpreadMean *float64
	Count      int
}

func computePriceFeatures(prices []domain.PriceSnapshot) PriceFeatures {
	var yes []float64
	for _, p := range prices {
		if p.YesPrice != nil {
			yes = append(yes, *p.YesPrice)
		}
	}
	if len(yes) == 0 {
		return PriceFeatures{}
	}

	n := len(yes)
	mean := 0.0
	minPrice, maxPrice := yes[0], yes[0]
	for _, y := range yes {
		mean += y
		if y < minPrice {
			minPrice = y
		}
		if y > maxPrice {
			maxPrice = y
		}
	}
	mean /= float64(n)

	// Sample standard deviation; a single observation has no spread.
	std := 0.0
	if n >= 2 {
		var ss float64
		for _, y := range yes {
			d := y - mean
			ss += d * d
		}
		std = math.Sqrt(ss / float64(n-1))
	}

	// OLS slope over index 0..n-1.
	trend := 0.0
	if n >= 2 {
		xMean := float64(n-1) / 2.0
		var num, den float64
		for i, y := range yes {
			dx := float64(i) - xMean
			num += dx * (y - mean)
			den += dx * dx
		}
		if den != 0 {
			trend = num / den
		}
	}

	features := PriceFeatures{
		Count: n,
		Mean:  &mean,
		Std:   &std,
		Min:   &minPrice,
		Max:   &maxPrice,
		Trend: &trend,
	}

	var volumes, spreads []float64
	for _, p := range prices {
		if p.Volume != nil {
			volumes = append(volumes, *p.Volume)
		}
		if p.Spread != nil {
			spreads = append(spreads, *p.Spread)
		}
	}
	features.VolumeMean = safeMean(volumes)
	if len(volumes) > 0 {
		maxVolume := volumes[0]
		for _, v := range volumes {
			if v > maxVolume {
				maxVolume = v
			}
		}
		features.VolumeMax = &maxVolume
	}
	features.SpreadMean = safeMean(spreads)
	return features
}

func safeMean(vals []float64) *float64 {
	if len(vals) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	return &mean
}
