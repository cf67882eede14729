package kalshi

import (
	"strings"
	"time"

	"github.com/polylab/collector/internal/domain"
)

// APIMarket represents a market as returned by the Kalshi public REST API.
// Prices arrive in cents (0-100) and are normalised to fractions here.
type APIMarket struct {
	Ticker         string   `json:"ticker"`
	Title          string   `json:"title"`
	Subtitle       string   `json:"subtitle"`
	Category       string   `json:"category"`
	Status         string   `json:"status"` // "initialized" | "open" | "closed" | "settled"
	Result         string   `json:"result"` // "yes" | "no" when settled
	YesBid         *float64 `json:"yes_bid"`
	YesAsk         *float64 `json:"yes_ask"`
	NoBid          *float64 `json:"no_bid"`
	NoAsk          *float64 `json:"no_ask"`
	Volume         *float64 `json:"volume"`
	OpenInterest   *float64 `json:"open_interest"`
	CloseTime      string   `json:"close_time"`
	ExpirationTime string   `json:"expiration_time"`
}

// marketsResponse is the envelope of GET /markets.
type marketsResponse struct {
	Markets []APIMarket `json:"markets"`
	Cursor  string      `json:"cursor"`
}

// marketResponse is the envelope of GET /markets/{ticker}.
type marketResponse struct {
	Market APIMarket `json:"market"`
}

// ToDomainMarket converts a Kalshi market to the canonical form. The ticker
// doubles as both market ID and slug; open interest stands in for liquidity.
func (m *APIMarket) ToDomainMarket(now time.Time) domain.Market {
	dm := domain.Market{
		Platform:    domain.PlatformKalshi,
		MarketID:    m.Ticker,
		Slug:        m.Ticker,
		Title:       m.Title,
		Description: m.Subtitle,
		Category:    m.Category,
		Outcomes:    []string{"Yes", "No"},
		Status:      mapStatus(m.Status),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if m.Volume != nil {
		dm.Volume = *m.Volume
	}
	if m.OpenInterest != nil {
		dm.Liquidity = *m.OpenInterest
	}
	for _, c := range []string{m.CloseTime, m.ExpirationTime} {
		if c == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, c); err == nil {
			dm.EndDate = &t
			break
		}
	}
	return dm
}

// ToSettledMarket converts a settled market for backfill: status resolved,
// outcome from the result field when it names a side.
func (m *APIMarket) ToSettledMarket(now time.Time) domain.Market {
	dm := m.ToDomainMarket(now)
	dm.Status = domain.MarketStatusResolved
	if res := m.ResolutionFromResult(); res != nil {
		dm.Resolution = res
		dm.ResolvedAt = &now
	}
	return dm
}

// ResolutionFromResult maps the result field to an outcome, or nil when the
// market has not settled with a definite side.
func (m *APIMarket) ResolutionFromResult() *domain.Resolution {
	switch strings.ToLower(strings.TrimSpace(m.Result)) {
	case "yes":
		r := domain.ResolutionYes
		return &r
	case "no":
		r := domain.ResolutionNo
		return &r
	}
	return nil
}

// ExtractSnapshot derives a price snapshot from the inline bid/ask fields.
// The canonical yes price is the midpoint of yes bid/ask, falling back to
// whichever side is present. Returns nil when no side is quoted.
func (m *APIMarket) ExtractSnapshot(now time.Time) *domain.PriceSnapshot {
	yes := m.yesPrice()
	if yes == nil || m.Ticker == "" {
		return nil
	}
	no := 1.0 - *yes
	spread := *yes - no
	if spread < 0 {
		spread = -spread
	}
	return &domain.PriceSnapshot{
		Platform:   domain.PlatformKalshi,
		MarketID:   m.Ticker,
		YesPrice:   yes,
		NoPrice:    &no,
		Volume:     m.Volume,
		Liquidity:  m.OpenInterest,
		Spread:     &spread,
		SnapshotAt: now,
	}
}

func (m *APIMarket) yesPrice() *float64 {
	bid := centsToFrac(m.YesBid)
	ask := centsToFrac(m.YesAsk)
	switch {
	case bid != nil && ask != nil:
		mid := (*bid + *ask) / 2
		return &mid
	case bid != nil:
		return bid
	default:
		return ask
	}
}

func mapStatus(s string) domain.MarketStatus {
	switch s {
	case "open":
		return domain.MarketStatusActive
	case "closed":
		return domain.MarketStatusClosed
	case "settled":
		return domain.MarketStatusResolved
	}
	return domain.MarketStatusActive
}

// centsToFrac converts a Kalshi price in cents (0-100) to a fraction
// (0.0-1.0). Values at or below 1 are assumed to already be fractional.
func centsToFrac(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	if f > 1 {
		f /= 100.0
	}
	return &f
}
