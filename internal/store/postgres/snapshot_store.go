package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polylab/collector/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. The table
// is append-only: no updates, no deletes, no dedup.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const insertSnapshotQuery = `
	INSERT INTO price_snapshots (
		platform, market_id, yes_price, no_price,
		volume, liquidity, spread, snapshot_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func snapshotArgs(s *domain.PriceSnapshot) []any {
	at := s.SnapshotAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return []any{
		string(s.Platform), s.MarketID, s.YesPrice, s.NoPrice,
		s.Volume, s.Liquidity, s.Spread, at,
	}
}

// Insert appends a single snapshot.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.PriceSnapshot) error {
	if _, err := s.pool.Exec(ctx, insertSnapshotQuery, snapshotArgs(&snap)...); err != nil {
		return fmt.Errorf("postgres: insert snapshot %s/%s: %w", snap.Platform, snap.MarketID, err)
	}
	return nil
}

// InsertBatch appends snapshots in a single batch and returns how many were
// written.
func (s *SnapshotStore) InsertBatch(ctx context.Context, snaps []domain.PriceSnapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for i := range snaps {
		batch.Queue(insertSnapshotQuery, snapshotArgs(&snaps[i])...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range snaps {
		if _, err := br.Exec(); err != nil {
			return i, fmt.Errorf("postgres: insert snapshot batch item %d: %w", i, err)
		}
	}
	return len(snaps), nil
}

// ListByMarket returns the market's snapshots in chronological order. A
// non-nil before restricts the series to observations strictly before that
// instant.
func (s *SnapshotStore) ListByMarket(ctx context.Context, platform domain.Platform, marketID string, before *time.Time) ([]domain.PriceSnapshot, error) {
	query := `
		SELECT platform, market_id, yes_price, no_price,
			volume, liquidity, spread, snapshot_at
		FROM price_snapshots
		WHERE platform = $1 AND market_id = $2`
	args := []any{string(platform), marketID}
	if before != nil {
		query += " AND snapshot_at < $3"
		args = append(args, *before)
	}
	query += " ORDER BY snapshot_at"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots %s/%s: %w", platform, marketID, err)
	}
	defer rows.Close()

	var snaps []domain.PriceSnapshot
	for rows.Next() {
		var snap domain.PriceSnapshot
		var pf string
		if err := rows.Scan(
			&pf, &snap.MarketID, &snap.YesPrice, &snap.NoPrice,
			&snap.Volume, &snap.Liquidity, &snap.Spread, &snap.SnapshotAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snap.Platform = domain.Platform(pf)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: snapshot rows: %w", err)
	}
	return snaps, nil
}

// CountByMarket returns how many snapshots exist for a market.
func (s *SnapshotStore) CountByMarket(ctx context.Context, platform domain.Platform, marketID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM price_snapshots WHERE platform = $1 AND market_id = $2`,
		string(platform), marketID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count snapshots %s/%s: %w", platform, marketID, err)
	}
	return n, nil
}
