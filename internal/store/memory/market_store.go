// Package memory implements the domain store interfaces with in-process
// maps. It backs unit tests and the storage.driver="memory" mode, and keeps
// the same invariants as the PostgreSQL implementation: identity on
// (platform, market_id), monotone status, write-once resolution, append-only
// snapshots and news.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/polylab/collector/internal/domain"
)

type marketKey struct {
	platform domain.Platform
	marketID string
}

// MarketStore implements domain.MarketStore in memory.
type MarketStore struct {
	mu      sync.RWMutex
	markets map[marketKey]domain.Market
	order   []marketKey // insertion order, newest listed first

	snapshots *SnapshotStore // optional, for Counts
	news      *NewsStore     // optional, for Counts
}

// NewMarketStore creates an empty MarketStore.
func NewMarketStore() *MarketStore {
	return &MarketStore{markets: make(map[marketKey]domain.Market)}
}

// AttachCounters wires the snapshot and news stores used by Counts.
func (s *MarketStore) AttachCounters(snaps *SnapshotStore, news *NewsStore) {
	s.snapshots = snaps
	s.news = news
}

// Upsert inserts or updates a market, preserving created_at, monotone
// status, and write-once resolution.
func (s *MarketStore) Upsert(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(m)
	return nil
}

// UpsertBatch upserts markets one by one under a single lock.
func (s *MarketStore) UpsertBatch(_ context.Context, markets []domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range markets {
		s.upsertLocked(markets[i])
	}
	return nil
}

func (s *MarketStore) upsertLocked(m domain.Market) {
	key := marketKey{m.Platform, m.MarketID}
	now := time.Now().UTC()

	existing, ok := s.markets[key]
	if !ok {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.UpdatedAt = now
		s.markets[key] = m
		s.order = append(s.order, key)
		return
	}

	next := m
	next.CreatedAt = existing.CreatedAt
	next.UpdatedAt = now
	next.Status = mergeStatus(existing.Status, m.Status)
	if existing.Resolution != nil {
		next.Resolution = existing.Resolution
		next.ResolvedAt = existing.ResolvedAt
		next.Status = domain.MarketStatusResolved
	}
	s.markets[key] = next
}

func mergeStatus(old, incoming domain.MarketStatus) domain.MarketStatus {
	if old == domain.MarketStatusResolved {
		return old
	}
	if old == domain.MarketStatusClosed && incoming == domain.MarketStatusActive {
		return old
	}
	return incoming
}

// GetByID returns a market by identity or domain.ErrNotFound.
func (s *MarketStore) GetByID(_ context.Context, platform domain.Platform, marketID string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[marketKey{platform, marketID}]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %s/%s: %w", platform, marketID, domain.ErrNotFound)
	}
	return m, nil
}

// List returns markets matching the filter, newest first.
func (s *MarketStore) List(_ context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Market
	for i := len(s.order) - 1; i >= 0; i-- {
		m := s.markets[s.order[i]]
		if f.Platform != "" && m.Platform != f.Platform {
			continue
		}
		if len(f.Status) > 0 && !statusIn(m.Status, f.Status) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func statusIn(st domain.MarketStatus, set []domain.MarketStatus) bool {
	for _, s := range set {
		if st == s {
			return true
		}
	}
	return false
}

// ListUnresolvedPastEnd returns active or closed markets with an end date
// at or before now, ordered by end date.
func (s *MarketStore) ListUnresolvedPastEnd(_ context.Context, now time.Time) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Market
	for _, key := range s.order {
		m := s.markets[key]
		if m.Status != domain.MarketStatusActive && m.Status != domain.MarketStatusClosed {
			continue
		}
		if m.EndDate == nil || m.EndDate.After(now) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EndDate.Before(*out[j].EndDate)
	})
	return out, nil
}

// MarkClosed transitions an active market to closed.
func (s *MarketStore) MarkClosed(_ context.Context, platform domain.Platform, marketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := marketKey{platform, marketID}
	m, ok := s.markets[key]
	if !ok {
		return fmt.Errorf("memory: market %s/%s: %w", platform, marketID, domain.ErrNotFound)
	}
	if m.Status != domain.MarketStatusActive {
		return nil
	}
	m.Status = domain.MarketStatusClosed
	m.UpdatedAt = time.Now().UTC()
	s.markets[key] = m
	return nil
}

// RecordResolution writes the terminal outcome exactly once.
func (s *MarketStore) RecordResolution(_ context.Context, platform domain.Platform, marketID string, outcome domain.Resolution, resolvedAt time.Time) (domain.ResolutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := marketKey{platform, marketID}
	m, ok := s.markets[key]
	if !ok {
		return domain.ResolutionResult{}, fmt.Errorf("memory: market %s/%s: %w", platform, marketID, domain.ErrNotFound)
	}
	if m.Resolution != nil {
		res := domain.ResolutionResult{Existing: *m.Resolution}
		res.Conflict = *m.Resolution != outcome
		return res, nil
	}

	m.Status = domain.MarketStatusResolved
	m.Resolution = &outcome
	m.ResolvedAt = &resolvedAt
	m.UpdatedAt = time.Now().UTC()
	s.markets[key] = m
	return domain.ResolutionResult{Applied: true}, nil
}

// Counts returns summary counts for the status command.
func (s *MarketStore) Counts(ctx context.Context) (domain.StatusCounts, error) {
	s.mu.RLock()
	var c domain.StatusCounts
	for _, m := range s.markets {
		switch m.Status {
		case domain.MarketStatusActive:
			c.Active++
		case domain.MarketStatusClosed:
			c.Closed++
		case domain.MarketStatusResolved:
			c.Resolved++
		}
	}
	s.mu.RUnlock()

	if s.snapshots != nil {
		c.Snapshots = s.snapshots.total()
	}
	if s.news != nil {
		c.News = s.news.total()
	}
	return c, nil
}

// ListCategories returns per-category counts, largest first.
func (s *MarketStore) ListCategories(_ context.Context) ([]domain.CategoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byCat := make(map[string]*domain.CategoryCount)
	for _, m := range s.markets {
		cc, ok := byCat[m.Category]
		if !ok {
			cc = &domain.CategoryCount{Category: m.Category}
			byCat[m.Category] = cc
		}
		cc.Total++
		if m.Status == domain.MarketStatusResolved {
			cc.Resolved++
		}
	}

	out := make([]domain.CategoryCount, 0, len(byCat))
	for _, cc := range byCat {
		out = append(out, *cc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}
