// Package domain defines the canonical records shared by every layer of the
// collector: markets, price snapshots, news context, whale alerts, the error
// taxonomy, and the store interfaces the persistence layer implements.
package domain

import "time"

// Platform identifies which upstream exchange a record came from.
type Platform string

const (
	PlatformPolymarket Platform = "polymarket"
	PlatformKalshi     Platform = "kalshi"
)

// MarketStatus represents the lifecycle state of a market. Transitions are
// monotone: active -> closed -> resolved, with closed skippable when a
// resolution is observed directly.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// Resolution is the terminal outcome of a binary market.
type Resolution string

const (
	ResolutionYes Resolution = "YES"
	ResolutionNo  Resolution = "NO"
)

// Label returns 1 for YES and 0 for NO, the binary training label.
func (r Resolution) Label() int {
	if r == ResolutionYes {
		return 1
	}
	return 0
}

// Market is one logical prediction-market contract. Identity is the
// (Platform, MarketID) pair; everything else may drift between observations.
type Market struct {
	Platform    Platform
	MarketID    string
	Slug        string
	Title       string
	Description string
	Category    string
	Outcomes    []string
	Volume      float64
	Liquidity   float64
	EndDate     *time.Time
	Status      MarketStatus
	Resolution  *Resolution
	ResolvedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Resolved reports whether the market carries a terminal outcome.
func (m *Market) Resolved() bool {
	return m.Status == MarketStatusResolved && m.Resolution != nil
}

// PastEnd reports whether the market's end date has passed as of now.
// Markets without an end date never pass.
func (m *Market) PastEnd(now time.Time) bool {
	return m.EndDate != nil && !m.EndDate.After(now)
}

// PriceSnapshot is one immutable point-in-time price observation. Snapshots
// are append-only; the series ordered by SnapshotAt is the market's price
// history.
type PriceSnapshot struct {
	Platform   Platform
	MarketID   string
	YesPrice   *float64
	NoPrice    *float64
	Volume     *float64
	Liquidity  *float64
	Spread     *float64
	SnapshotAt time.Time
}

// NewsItem is one captured headline tied to a market. Same append-only
// discipline as snapshots.
type NewsItem struct {
	MarketID   string
	Headline   string
	Source     string
	URL        string
	CapturedAt time.Time
}
