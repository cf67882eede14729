package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polylab/collector/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// upsertQuery keeps the identity invariants in SQL: created_at is never
// overwritten, status never moves backwards, and resolution fields are
// written only while NULL.
const upsertQuery = `
	INSERT INTO markets (
		platform, market_id, slug, title, description, category,
		outcomes, volume, liquidity, end_date, status,
		resolution, resolved_at, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11,
		$12, $13, NOW(), NOW()
	)
	ON CONFLICT (platform, market_id) DO UPDATE SET
		slug        = EXCLUDED.slug,
		title       = EXCLUDED.title,
		description = EXCLUDED.description,
		category    = EXCLUDED.category,
		outcomes    = EXCLUDED.outcomes,
		volume      = EXCLUDED.volume,
		liquidity   = EXCLUDED.liquidity,
		end_date    = EXCLUDED.end_date,
		status      = CASE
			WHEN markets.status = 'resolved' THEN markets.status
			WHEN markets.status = 'closed' AND EXCLUDED.status = 'active' THEN markets.status
			ELSE EXCLUDED.status
		END,
		resolution  = COALESCE(markets.resolution, EXCLUDED.resolution),
		resolved_at = COALESCE(markets.resolved_at, EXCLUDED.resolved_at),
		updated_at  = NOW()`

func upsertArgs(m *domain.Market) []any {
	var resolution *string
	if m.Resolution != nil {
		s := string(*m.Resolution)
		resolution = &s
	}
	return []any{
		string(m.Platform), m.MarketID, m.Slug, m.Title, m.Description, m.Category,
		m.Outcomes, m.Volume, m.Liquidity, m.EndDate, string(m.Status),
		resolution, m.ResolvedAt,
	}
}

// Upsert inserts or updates a single market.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	if _, err := s.pool.Exec(ctx, upsertQuery, upsertArgs(&m)...); err != nil {
		return fmt.Errorf("postgres: upsert market %s/%s: %w", m.Platform, m.MarketID, err)
	}
	return nil
}

// UpsertBatch upserts multiple markets in a single batch round trip.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range markets {
		batch.Queue(upsertQuery, upsertArgs(&markets[i])...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

const marketCols = `platform, market_id, slug, title, description, category,
	outcomes, volume, liquidity, end_date, status,
	resolution, resolved_at, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var platform, status string
	var resolution *string
	err := row.Scan(
		&platform, &m.MarketID, &m.Slug, &m.Title, &m.Description, &m.Category,
		&m.Outcomes, &m.Volume, &m.Liquidity, &m.EndDate, &status,
		&resolution, &m.ResolvedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Platform = domain.Platform(platform)
	m.Status = domain.MarketStatus(status)
	if resolution != nil {
		r := domain.Resolution(*resolution)
		m.Resolution = &r
	}
	return m, nil
}

// GetByID retrieves a market by its (platform, market_id) identity.
func (s *MarketStore) GetByID(ctx context.Context, platform domain.Platform, marketID string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE platform = $1 AND market_id = $2`,
		string(platform), marketID)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: market %s/%s: %w", platform, marketID, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s/%s: %w", platform, marketID, err)
	}
	return m, nil
}

// List returns markets matching the filter, newest first.
func (s *MarketStore) List(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets`
	var conds []string
	var args []any

	if len(f.Status) > 0 {
		statuses := make([]string, len(f.Status))
		for i, st := range f.Status {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.Platform != "" {
		args = append(args, string(f.Platform))
		conds = append(conds, fmt.Sprintf("platform = $%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

// ListUnresolvedPastEnd returns active or closed markets whose end date is
// at or before now, ordered by end date.
func (s *MarketStore) ListUnresolvedPastEnd(ctx context.Context, now time.Time) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE status IN ('active', 'closed')
		   AND end_date IS NOT NULL AND end_date <= $1
		 ORDER BY end_date`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unresolved past end: %w", err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: market rows: %w", err)
	}
	return markets, nil
}

// MarkClosed transitions an active market to closed. Resolved markets are
// left untouched.
func (s *MarketStore) MarkClosed(ctx context.Context, platform domain.Platform, marketID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = 'closed', updated_at = NOW()
		 WHERE platform = $1 AND market_id = $2 AND status = 'active'`,
		string(platform), marketID)
	if err != nil {
		return fmt.Errorf("postgres: mark closed %s/%s: %w", platform, marketID, err)
	}
	return nil
}

// RecordResolution writes the terminal outcome exactly once. A repeat call
// with the same outcome is a no-op; a different outcome reports a conflict
// without overwriting the record.
func (s *MarketStore) RecordResolution(ctx context.Context, platform domain.Platform, marketID string, outcome domain.Resolution, resolvedAt time.Time) (domain.ResolutionResult, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET status = 'resolved', resolution = $3, resolved_at = $4, updated_at = NOW()
		 WHERE platform = $1 AND market_id = $2 AND resolution IS NULL`,
		string(platform), marketID, string(outcome), resolvedAt)
	if err != nil {
		return domain.ResolutionResult{}, fmt.Errorf("postgres: record resolution %s/%s: %w", platform, marketID, err)
	}
	if tag.RowsAffected() > 0 {
		return domain.ResolutionResult{Applied: true}, nil
	}

	var existing *string
	err = s.pool.QueryRow(ctx,
		`SELECT resolution FROM markets WHERE platform = $1 AND market_id = $2`,
		string(platform), marketID).Scan(&existing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ResolutionResult{}, fmt.Errorf("postgres: market %s/%s: %w", platform, marketID, domain.ErrNotFound)
		}
		return domain.ResolutionResult{}, fmt.Errorf("postgres: read resolution %s/%s: %w", platform, marketID, err)
	}
	if existing == nil {
		// Resolution was NULL yet the guarded update matched nothing; retry
		// territory, report as not applied.
		return domain.ResolutionResult{}, nil
	}

	res := domain.ResolutionResult{Existing: domain.Resolution(*existing)}
	res.Conflict = res.Existing != outcome
	return res, nil
}

// Counts returns summary counts for the status command.
func (s *MarketStore) Counts(ctx context.Context) (domain.StatusCounts, error) {
	var c domain.StatusCounts
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'closed'),
			COUNT(*) FILTER (WHERE status = 'resolved')
		FROM markets`).Scan(&c.Active, &c.Closed, &c.Resolved)
	if err != nil {
		return domain.StatusCounts{}, fmt.Errorf("postgres: count markets: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM price_snapshots`).Scan(&c.Snapshots); err != nil {
		return domain.StatusCounts{}, fmt.Errorf("postgres: count snapshots: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM news_context`).Scan(&c.News); err != nil {
		return domain.StatusCounts{}, fmt.Errorf("postgres: count news: %w", err)
	}
	return c, nil
}

// ListCategories returns per-category market counts, largest first.
func (s *MarketStore) ListCategories(ctx context.Context) ([]domain.CategoryCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category,
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'resolved')
		FROM markets
		GROUP BY category
		ORDER BY COUNT(*) DESC, category`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list categories: %w", err)
	}
	defer rows.Close()

	var out []domain.CategoryCount
	for rows.Next() {
		var cc domain.CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Total, &cc.Resolved); err != nil {
			return nil, fmt.Errorf("postgres: scan category: %w", err)
		}
		out = append(out, cc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: category rows: %w", err)
	}
	return out, nil
}
