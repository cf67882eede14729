package domain

import "time"

// WhaleAlert is one large-trade alert read from the external wwatcher store.
// The collector never writes these; they are joined against markets at export
// time. MarketID may be empty, in which case linkage falls back to fuzzy
// title matching.
type WhaleAlert struct {
	ID          int64
	MarketID    string
	MarketTitle string
	Side        string // "YES" or "NO", may be empty
	Value       *float64
	Price       *float64
	Wallet      string
	WinRate     *float64
	CreatedAt   time.Time
}
