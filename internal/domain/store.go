package domain

import (
	"context"
	"time"
)

// MarketFilter narrows market list queries.
type MarketFilter struct {
	Status   []MarketStatus
	Platform Platform // empty means all platforms
}

// StatusCounts summarises tracked markets for the status command.
type StatusCounts struct {
	Active    int64
	Closed    int64
	Resolved  int64
	Snapshots int64
	News      int64
}

// MarketStore persists market metadata under the (platform, market_id)
// uniqueness invariant. All mutating calls are serialized by the single
// writer process; implementations must make Upsert safe to repeat with
// identical input.
type MarketStore interface {
	// Upsert inserts the market if absent, otherwise updates mutable fields
	// (volume, liquidity, status, title/description drift). CreatedAt is
	// never overwritten and resolution fields are only written while NULL.
	Upsert(ctx context.Context, m Market) error
	UpsertBatch(ctx context.Context, markets []Market) error
	GetByID(ctx context.Context, platform Platform, marketID string) (Market, error)
	List(ctx context.Context, f MarketFilter) ([]Market, error)
	// ListUnresolvedPastEnd returns active or closed markets whose end date
	// is at or before now, ordered by end date.
	ListUnresolvedPastEnd(ctx context.Context, now time.Time) ([]Market, error)
	// MarkClosed transitions an active market to closed. Resolved markets
	// are left untouched.
	MarkClosed(ctx context.Context, platform Platform, marketID string) error
	// RecordResolution sets resolution, resolved_at, and status=resolved
	// exactly once. Calls against an already-resolved market are no-ops; a
	// conflicting outcome is reported via the returned Conflict flag so the
	// caller can log the upstream anomaly.
	RecordResolution(ctx context.Context, platform Platform, marketID string, outcome Resolution, resolvedAt time.Time) (ResolutionResult, error)
	Counts(ctx context.Context) (StatusCounts, error)
	ListCategories(ctx context.Context) ([]CategoryCount, error)
}

// ResolutionResult describes what RecordResolution actually did.
type ResolutionResult struct {
	Applied  bool       // resolution fields were written by this call
	Conflict bool       // market was already resolved with a different outcome
	Existing Resolution // the outcome already on record when Applied is false
}

// CategoryCount is one row of the categories report.
type CategoryCount struct {
	Category string
	Total    int64
	Resolved int64
}

// SnapshotStore persists the append-only price time-series. Snapshots are
// never mutated, deduplicated, or deleted.
type SnapshotStore interface {
	Insert(ctx context.Context, s PriceSnapshot) error
	InsertBatch(ctx context.Context, snaps []PriceSnapshot) (int, error)
	// ListByMarket returns the market's snapshots in chronological order.
	// A non-nil before restricts the series to observations strictly before
	// that instant (the export causality mask).
	ListByMarket(ctx context.Context, platform Platform, marketID string, before *time.Time) ([]PriceSnapshot, error)
	CountByMarket(ctx context.Context, platform Platform, marketID string) (int64, error)
}

// NewsStore persists captured headlines, append-only.
type NewsStore interface {
	Insert(ctx context.Context, item NewsItem) error
	ListByMarket(ctx context.Context, marketID string, before *time.Time) ([]NewsItem, error)
}

// AlertStore is the read-only view of the external wwatcher alert table.
type AlertStore interface {
	ListAll(ctx context.Context) ([]WhaleAlert, error)
}
