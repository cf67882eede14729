package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/polylab/collector/internal/domain"
)

const descriptionCap = 2000

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from a JSON number or a numeric string. The Gamma API
// mixes both: "volume" is a string, "volumeNum" a number.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*f = flexFloat(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil // junk numeric string, keep zero rather than failing the page
	}
	*f = flexFloat(v)
	return nil
}

// stringArray unmarshals from a JSON array of strings or from a JSON string
// that itself contains an encoded array, e.g. "[\"Yes\",\"No\"]". Undecodable
// payloads yield an empty slice.
type stringArray []string

func (a *stringArray) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err == nil {
		*a = raw
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	var inner []string
	if err := json.Unmarshal([]byte(s), &inner); err != nil {
		*a = nil
		return nil
	}
	*a = inner
	return nil
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID             string      `json:"id"`
	ConditionID    string      `json:"conditionId"`
	Question       string      `json:"question"`
	Slug           string      `json:"slug"`
	Description    string      `json:"description"`
	GroupItemTitle string      `json:"groupItemTitle"`
	Outcomes       stringArray `json:"outcomes"`      // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	OutcomePrices  stringArray `json:"outcomePrices"` // collapses to "1"/"0" on resolution
	Volume         *flexFloat  `json:"volume"`
	VolumeNum      *flexFloat  `json:"volumeNum"`
	Liquidity      *flexFloat  `json:"liquidity"`
	LiquidityNum   *flexFloat  `json:"liquidityNum"`
	EndDate        string      `json:"endDate"`
	EndDateISO     string      `json:"endDateIso"`
	Active         flexBool    `json:"active"` // API may send bool or "true"/"false" string
	Closed         flexBool    `json:"closed"`
	Resolved       flexBool    `json:"resolved"`
	Archived       flexBool    `json:"archived"`
}

// MarketID returns the stable identifier: the condition ID when present,
// otherwise the numeric Gamma ID.
func (m *APIMarket) MarketID() string {
	if m.ConditionID != "" {
		return m.ConditionID
	}
	return m.ID
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market with
// status=active, the shape upserted during discovery.
func (m *APIMarket) ToDomainMarket(now time.Time) domain.Market {
	dm := domain.Market{
		Platform:    domain.PlatformPolymarket,
		MarketID:    m.MarketID(),
		Slug:        m.Slug,
		Title:       m.Question,
		Description: truncateDescription(m.Description),
		Category:    m.GroupItemTitle,
		Outcomes:    []string(m.Outcomes),
		Status:      domain.MarketStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if v := pickFloat(m.Volume, m.VolumeNum); v != nil {
		dm.Volume = *v
	}
	if v := pickFloat(m.Liquidity, m.LiquidityNum); v != nil {
		dm.Liquidity = *v
	}
	dm.EndDate = parseEndDate(m.EndDate, m.EndDateISO)
	return dm
}

// ToResolvedMarket converts a closed Gamma market for backfill: status is
// resolved when the API says so, closed otherwise, and the resolution is
// derived from the collapsed outcome prices.
func (m *APIMarket) ToResolvedMarket(now time.Time) domain.Market {
	dm := m.ToDomainMarket(now)
	if bool(m.Resolved) {
		dm.Status = domain.MarketStatusResolved
	} else {
		dm.Status = domain.MarketStatusClosed
	}
	if res := m.ResolutionFromPrices(); res != nil {
		dm.Resolution = res
		dm.Status = domain.MarketStatusResolved
		dm.ResolvedAt = &now
	}
	return dm
}

// ResolutionFromPrices maps collapsed outcome prices to an outcome: a yes
// price at or above 0.99 is YES, at or below 0.01 is NO. Anything between is
// not clearly resolved (possibly closed but awaiting the oracle).
func (m *APIMarket) ResolutionFromPrices() *domain.Resolution {
	yes := m.yesPrice()
	if yes == nil {
		return nil
	}
	switch {
	case *yes >= 0.99:
		r := domain.ResolutionYes
		return &r
	case *yes <= 0.01:
		r := domain.ResolutionNo
		return &r
	}
	return nil
}

// ExtractSnapshot builds a price snapshot from the discovery payload so the
// initial price point needs no extra per-market request. Returns nil when
// the market carries no usable prices.
func (m *APIMarket) ExtractSnapshot(now time.Time) *domain.PriceSnapshot {
	yes := m.yesPrice()
	if yes == nil || m.MarketID() == "" {
		return nil
	}
	snap := &domain.PriceSnapshot{
		Platform:   domain.PlatformPolymarket,
		MarketID:   m.MarketID(),
		YesPrice:   yes,
		Volume:     pickFloat(m.Volume, m.VolumeNum),
		Liquidity:  pickFloat(m.Liquidity, m.LiquidityNum),
		SnapshotAt: now,
	}
	if len(m.OutcomePrices) > 1 {
		if no, err := strconv.ParseFloat(m.OutcomePrices[1], 64); err == nil {
			snap.NoPrice = &no
			spread := *yes - no
			if spread < 0 {
				spread = -spread
			}
			snap.Spread = &spread
		}
	}
	return snap
}

func (m *APIMarket) yesPrice() *float64 {
	if len(m.OutcomePrices) == 0 {
		return nil
	}
	v, err := strconv.ParseFloat(m.OutcomePrices[0], 64)
	if err != nil {
		return nil
	}
	return &v
}

func pickFloat(vals ...*flexFloat) *float64 {
	for _, v := range vals {
		if v != nil {
			f := float64(*v)
			return &f
		}
	}
	return nil
}

func truncateDescription(s string) string {
	if len(s) > descriptionCap {
		return s[:descriptionCap]
	}
	return s
}

func parseEndDate(candidates ...string) *time.Time {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, c); err == nil {
			return &t
		}
	}
	return nil
}
