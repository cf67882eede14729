package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/polylab/collector/internal/domain"
)

func activeMarket(id string, end time.Time) domain.Market {
	return domain.Market{
		Platform: domain.PlatformPolymarket,
		MarketID: id,
		Title:    "Market " + id,
		Category: "Politics",
		Volume:   100,
		EndDate:  &end,
		Status:   domain.MarketStatusActive,
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMarketStore()
	end := time.Now().Add(24 * time.Hour)
	m := activeMarket("m1", end)

	if err := s.Upsert(ctx, m); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	first, _ := s.GetByID(ctx, m.Platform, m.MarketID)

	if err := s.Upsert(ctx, m); err != nil {
		t.Fatalf("repeat upsert: %v", err)
	}
	second, _ := s.GetByID(ctx, m.Platform, m.MarketID)

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed across idempotent upsert: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	all, _ := s.List(ctx, domain.MarketFilter{})
	if len(all) != 1 {
		t.Errorf("duplicate row after repeat upsert: %d", len(all))
	}
}

func TestUpsert_RefreshesMutableFields(t *testing.T) {
	ctx := context.Background()
	s := NewMarketStore()
	end := time.Now().Add(time.Hour)
	m := activeMarket("m1", end)
	_ = s.Upsert(ctx, m)

	m.Volume = 999
	m.Title = "Renamed"
	_ = s.Upsert(ctx, m)

	got, _ := s.GetByID(ctx, m.Platform, m.MarketID)
	if got.Volume != 999 || got.Title != "Renamed" {
		t.Errorf("mutable fields not refreshed: %+v", got)
	}
}

func TestUpsert_StatusMonotone(t *testing.T) {
	ctx := context.Background()
	s := NewMarketStore()
	end := time.Now().Add(-time.Hour)
	m := activeMarket("m1", end)
	_ = s.Upsert(ctx, m)

	if err := s.MarkClosed(ctx, m.Platform, m.MarketID); err != nil {
		t.Fatalf("MarkClosed: %v", err)
	}

	// A later discovery sweep still sees the market as active upstream.
	_ = s.Upsert(ctx, m)
	got, _ := s.GetByID(ctx, m.Platform, m.MarketID)
	if got.Status != domain.MarketStatusClosed {
		t.Errorf("closed market reopened by upsert: %s", got.Status)
	}

	if _, err := s.RecordResolution(ctx, m.Platform, m.MarketID, domain.ResolutionYes, time.Now()); err != nil {
		t.Fatalf("RecordResolution: %v", err)
	}
	_ = s.Upsert(ctx, m)
	got, _ = s.GetByID(ctx, m.Platform, m.MarketID)
	if got.Status != domain.MarketStatusResolved {
		t.Errorf("resolved market downgraded by upsert: %s", got.Status)
	}
	if got.Resolution == nil || *got.Resolution != domain.ResolutionYes {
		t.Errorf("resolution lost on upsert: %v", got.Resolution)
	}
}

func TestRecordResolution_ExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMarketStore()
	m := activeMarket("m1", time.Now())
	_ = s.Upsert(ctx, m)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	res, err := s.RecordResolution(ctx, m.Platform, m.MarketID, domain.ResolutionNo, at)
	if err != nil {
		t.Fatalf("first resolution: %v", err)
	}
	if !res.Applied {
		t.Error("first resolution not applied")
	}

	// Same outcome again: no-op.
	res, err = s.RecordResolution(ctx, m.Platform, m.MarketID, domain.ResolutionNo, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("repeat resolution: %v", err)
	}
	if res.Applied || res.Conflict {
		t.Errorf("repeat with same outcome should be a silent no-op: %+v", res)
	}

	// Conflicting outcome: reported, not overwritten.
	res, err = s.RecordResolution(ctx, m.Platform, m.MarketID, domain.ResolutionYes, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("conflicting resolution: %v", err)
	}
	if !res.Conflict || res.Existing != domain.ResolutionNo {
		t.Errorf("conflict not reported: %+v", res)
	}

	got, _ := s.GetByID(ctx, m.Platform, m.MarketID)
	if *got.Resolution != domain.ResolutionNo {
		t.Errorf("resolution overwritten: %s", *got.Resolution)
	}
	if !got.ResolvedAt.Equal(at) {
		t.Errorf("resolved_at overwritten: %v", got.ResolvedAt)
	}
}

func TestRecordResolution_UnknownMarket(t *testing.T) {
	s := NewMarketStore()
	_, err := s.RecordResolution(context.Background(), domain.PlatformKalshi, "nope", domain.ResolutionYes, time.Now())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListUnresolvedPastEnd(t *testing.T) {
	ctx := context.Background()
	s := NewMarketStore()
	now := time.Now()

	past1 := activeMarket("past1", now.Add(-2*time.Hour))
	past2 := activeMarket("past2", now.Add(-30*time.Minute))
	future := activeMarket("future", now.Add(2*time.Hour))
	noEnd := activeMarket("noend", now)
	noEnd.EndDate = nil
	done := activeMarket("done", now.Add(-3*time.Hour))

	for _, m := range []domain.Market{past2, past1, future, noEnd, done} {
		_ = s.Upsert(ctx, m)
	}
	_, _ = s.RecordResolution(ctx, done.Platform, done.MarketID, domain.ResolutionYes, now)

	due, err := s.ListUnresolvedPastEnd(ctx, now)
	if err != nil {
		t.Fatalf("ListUnresolvedPastEnd: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due markets, got %d", len(due))
	}
	if due[0].MarketID != "past1" || due[1].MarketID != "past2" {
		t.Errorf("not ordered by end date: %s, %s", due[0].MarketID, due[1].MarketID)
	}
}

func TestListCategories(t *testing.T) {
	ctx := context.Background()
	s := NewMarketStore()

	a := activeMarket("a", time.Now())
	a.Category = "Sports"
	b := activeMarket("b", time.Now())
	b.Category = "Sports"
	c := activeMarket("c", time.Now())
	c.Category = "Weather"
	for _, m := range []domain.Market{a, b, c} {
		_ = s.Upsert(ctx, m)
	}
	_, _ = s.RecordResolution(ctx, b.Platform, b.MarketID, domain.ResolutionNo, time.Now())

	cats, err := s.ListCategories(ctx)
	if err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(cats))
	}
	if cats[0].Category != "Sports" || cats[0].Total != 2 || cats[0].Resolved != 1 {
		t.Errorf("sports row wrong: %+v", cats[0])
	}
}

func TestCounts(t *testing.T) {
	ctx := context.Background()
	markets := NewMarketStore()
	snaps := NewSnapshotStore()
	news := NewNewsStore()
	markets.AttachCounters(snaps, news)

	m := activeMarket("m1", time.Now())
	_ = markets.Upsert(ctx, m)
	_ = snaps.Insert(ctx, domain.PriceSnapshot{Platform: m.Platform, MarketID: m.MarketID})
	_ = news.Insert(ctx, domain.NewsItem{MarketID: m.MarketID, Headline: "h"})

	c, err := markets.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if c.Active != 1 || c.Snapshots != 1 || c.News != 1 {
		t.Errorf("counts wrong: %+v", c)
	}
}
