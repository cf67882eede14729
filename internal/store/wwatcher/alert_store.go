// Package wwatcher reads the external whale-alert database maintained by the
// wwatcher process. Access is strictly read-only; the table is owned by
// another service and its column names are normalised here (outcome -> side,
// wallet_id -> wallet, unix created_at -> time.Time).
package wwatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polylab/collector/internal/domain"
)

// AlertStore implements domain.AlertStore over the wwatcher alerts table.
type AlertStore struct {
	pool *pgxpool.Pool
}

// New connects to the wwatcher database with its own pool so exporter reads
// never contend with collector writes.
func New(ctx context.Context, dsn string) (*AlertStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("wwatcher: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("wwatcher: ping: %w (%v)", domain.ErrStoreUnavailable, err)
	}
	return &AlertStore{pool: pool}, nil
}

// Close shuts down the pool.
func (s *AlertStore) Close() {
	s.pool.Close()
}

// ListAll returns every whale alert on record.
func (s *AlertStore) ListAll(ctx context.Context) ([]domain.WhaleAlert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(market_id, ''), COALESCE(market_title, ''),
			COALESCE(outcome, ''), value, price, win_rate,
			COALESCE(wallet_id, ''), created_at
		FROM alerts
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("wwatcher: list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.WhaleAlert
	for rows.Next() {
		var a domain.WhaleAlert
		var createdUnix int64
		if err := rows.Scan(
			&a.ID, &a.MarketID, &a.MarketTitle,
			&a.Side, &a.Value, &a.Price, &a.WinRate,
			&a.Wallet, &createdUnix,
		); err != nil {
			return nil, fmt.Errorf("wwatcher: scan alert: %w", err)
		}
		a.CreatedAt = time.Unix(createdUnix, 0).UTC()
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("wwatcher: alert rows: %w", err)
	}
	return alerts, nil
}
