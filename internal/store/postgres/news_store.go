package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polylab/collector/internal/domain"
)

// NewsStore implements domain.NewsStore using PostgreSQL, append-only.
type NewsStore struct {
	pool *pgxpool.Pool
}

// NewNewsStore creates a NewsStore backed by the given pool.
func NewNewsStore(pool *pgxpool.Pool) *NewsStore {
	return &NewsStore{pool: pool}
}

// Insert appends one captured headline.
func (s *NewsStore) Insert(ctx context.Context, item domain.NewsItem) error {
	at := item.CapturedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO news_context (market_id, headline, source, url, captured_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		item.MarketID, item.Headline, item.Source, item.URL, at)
	if err != nil {
		return fmt.Errorf("postgres: insert news for %s: %w", item.MarketID, err)
	}
	return nil
}

// ListByMarket returns a market's headlines in capture order, optionally
// restricted to items captured strictly before the given instant.
func (s *NewsStore) ListByMarket(ctx context.Context, marketID string, before *time.Time) ([]domain.NewsItem, error) {
	query := `
		SELECT market_id, headline, source, url, captured_at
		FROM news_context
		WHERE market_id = $1`
	args := []any{marketID}
	if before != nil {
		query += " AND captured_at < $2"
		args = append(args, *before)
	}
	query += " ORDER BY captured_at"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list news for %s: %w", marketID, err)
	}
	defer rows.Close()

	var items []domain.NewsItem
	for rows.Next() {
		var item domain.NewsItem
		if err := rows.Scan(&item.MarketID, &item.Headline, &item.Source, &item.URL, &item.CapturedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan news item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: news rows: %w", err)
	}
	return items, nil
}
