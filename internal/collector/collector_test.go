package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/polylab/collector/internal/cache"
	"github.com/polylab/collector/internal/domain"
	"github.com/polylab/collector/internal/notify"
	"github.com/polylab/collector/internal/store/memory"
)

type fakeClient struct {
	platform    domain.Platform
	markets     []domain.Market
	snapshots   []domain.PriceSnapshot
	resolutions map[string]*domain.Resolution
	settled     []domain.Market

	discoverCalls int
	priceCalls    int
}

func (f *fakeClient) Platform() domain.Platform { return f.platform }

func (f *fakeClient) DiscoverMarkets(ctx context.Context) ([]domain.Market, []domain.PriceSnapshot, error) {
	f.discoverCalls++
	return f.markets, f.snapshots, nil
}

func (f *fakeClient) FetchPrices(ctx context.Context, markets []domain.Market) ([]domain.PriceSnapshot, error) {
	f.priceCalls++
	snaps := make([]domain.PriceSnapshot, 0, len(markets))
	for _, m := range markets {
		yes := 0.63
		snaps = append(snaps, domain.PriceSnapshot{
			Platform:   f.platform,
			MarketID:   m.MarketID,
			YesPrice:   &yes,
			SnapshotAt: time.Now().UTC(),
		})
	}
	return snaps, nil
}

func (f *fakeClient) CheckResolution(ctx context.Context, marketID string) (*domain.Resolution, error) {
	return f.resolutions[marketID], nil
}

func (f *fakeClient) FetchResolvedMarkets(ctx context.Context) ([]domain.Market, error) {
	return f.settled, nil
}

type passGuard struct{}

func (passGuard) Check(ctx context.Context) error { return nil }

type trippedGuard struct{}

func (trippedGuard) Check(ctx context.Context) error {
	return domain.ErrGuardTripped
}

type testEnv struct {
	markets   *memory.MarketStore
	snapshots *memory.SnapshotStore
	news      *memory.NewsStore
	journal   *cache.Journal
}

func newTestEnv() testEnv {
	markets := memory.NewMarketStore()
	snaps := memory.NewSnapshotStore()
	news := memory.NewNewsStore()
	markets.AttachCounters(snaps, news)
	return testEnv{markets: markets, snapshots: snaps, news: news, journal: cache.NewJournal()}
}

func newTestCollector(env testEnv, guard Guard, opts Options, clients ...PlatformClient) *Collector {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(clients, env.markets, env.snapshots, env.news, env.journal, guard, opts, logger)
}

func testMarket(platform domain.Platform, id string, end time.Time) domain.Market {
	return domain.Market{
		Platform: platform,
		MarketID: id,
		Slug:     id,
		Title:    "Will the thing happen",
		Category: "Politics",
		Status:   domain.MarketStatusActive,
		EndDate:  &end,
	}
}

func TestDiscoverSnapshotResolveLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	past := time.Now().UTC().Add(-2 * time.Hour)
	future := time.Now().UTC().Add(48 * time.Hour)
	yes := domain.ResolutionYes
	client := &fakeClient{
		platform: domain.PlatformPolymarket,
		markets: []domain.Market{
			testMarket(domain.PlatformPolymarket, "0xdone", past),
			testMarket(domain.PlatformPolymarket, "0xlive", future),
		},
		snapshots: []domain.PriceSnapshot{
			{Platform: domain.PlatformPolymarket, MarketID: "0xdone", SnapshotAt: time.Now().UTC()},
		},
		resolutions: map[string]*domain.Resolution{
			"0xdone": &yes,
			// 0xlive intentionally absent: still trading.
		},
	}
	c := newTestCollector(env, passGuard{}, Options{}, client)

	if err := c.RunDiscover(ctx); err != nil {
		t.Fatalf("RunDiscover: %v", err)
	}
	counts, err := env.markets.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Active != 2 || counts.Snapshots != 1 {
		t.Fatalf("after discover: %+v", counts)
	}

	if err := c.RunSnapshot(ctx); err != nil {
		t.Fatalf("RunSnapshot: %v", err)
	}
	n, err := env.snapshots.CountByMarket(ctx, domain.PlatformPolymarket, "0xdone")
	if err != nil {
		t.Fatalf("CountByMarket: %v", err)
	}
	if n != 2 {
		t.Fatalf("snapshots for 0xdone = %d, want 2 (discover + snapshot)", n)
	}

	if err := c.RunResolve(ctx); err != nil {
		t.Fatalf("RunResolve: %v", err)
	}
	m, err := env.markets.GetByID(ctx, domain.PlatformPolymarket, "0xdone")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !m.Resolved() || *m.Resolution != domain.ResolutionYes {
		t.Fatalf("0xdone not resolved YES: status=%s resolution=%v", m.Status, m.Resolution)
	}
	if m.ResolvedAt == nil {
		t.Fatal("0xdone has no resolved_at")
	}

	live, err := env.markets.GetByID(ctx, domain.PlatformPolymarket, "0xlive")
	if err != nil {
		t.Fatalf("GetByID live: %v", err)
	}
	if live.Status != domain.MarketStatusActive {
		t.Fatalf("0xlive status = %s, want active", live.Status)
	}
}

func TestResolveClosesAwaitingOracle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	past := time.Now().UTC().Add(-time.Hour)
	client := &fakeClient{
		platform: domain.PlatformKalshi,
		markets:  []domain.Market{testMarket(domain.PlatformKalshi, "FED-24DEC", past)},
		// No resolution yet: the market is past end but unsettled.
		resolutions: map[string]*domain.Resolution{},
	}
	c := newTestCollector(env, passGuard{}, Options{}, client)

	if err := c.RunDiscover(ctx); err != nil {
		t.Fatalf("RunDiscover: %v", err)
	}
	if err := c.RunResolve(ctx); err != nil {
		t.Fatalf("RunResolve: %v", err)
	}
	m, err := env.markets.GetByID(ctx, domain.PlatformKalshi, "FED-24DEC")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if m.Status != domain.MarketStatusClosed {
		t.Fatalf("status = %s, want closed", m.Status)
	}
	if m.Resolution != nil {
		t.Fatalf("resolution = %v, want nil", m.Resolution)
	}

	// A second sweep must not error or regress the state.
	if err := c.RunResolve(ctx); err != nil {
		t.Fatalf("second RunResolve: %v", err)
	}
	m, _ = env.markets.GetByID(ctx, domain.PlatformKalshi, "FED-24DEC")
	if m.Status != domain.MarketStatusClosed {
		t.Fatalf("status after second sweep = %s, want closed", m.Status)
	}
}

func TestBackfillIngestsSettledMarkets(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	no := domain.ResolutionNo
	end := time.Now().UTC().Add(-72 * time.Hour)
	resolvedAt := end.Add(time.Hour)
	client := &fakeClient{
		platform: domain.PlatformKalshi,
		settled: []domain.Market{{
			Platform:   domain.PlatformKalshi,
			MarketID:   "CPI-24NOV",
			Slug:       "CPI-24NOV",
			Title:      "CPI above 3 percent",
			Status:     domain.MarketStatusResolved,
			EndDate:    &end,
			Resolution: &no,
			ResolvedAt: &resolvedAt,
		}},
	}
	c := newTestCollector(env, passGuard{}, Options{}, client)

	if err := c.RunBackfill(ctx); err != nil {
		t.Fatalf("RunBackfill: %v", err)
	}
	m, err := env.markets.GetByID(ctx, domain.PlatformKalshi, "CPI-24NOV")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !m.Resolved() || *m.Resolution != domain.ResolutionNo {
		t.Fatalf("backfilled market not resolved NO: %+v", m)
	}

	// Idempotent: a repeat run changes nothing.
	if err := c.RunBackfill(ctx); err != nil {
		t.Fatalf("second RunBackfill: %v", err)
	}
	counts, _ := env.markets.Counts(ctx)
	if counts.Resolved != 1 {
		t.Fatalf("resolved count = %d, want 1", counts.Resolved)
	}
}

func TestSnapshotCapturesHeadlines(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	future := time.Now().UTC().Add(24 * time.Hour)
	client := &fakeClient{
		platform: domain.PlatformPolymarket,
		markets:  []domain.Market{testMarket(domain.PlatformPolymarket, "0xnews", future)},
	}
	fetcher := headlineStub{items: []domain.NewsItem{
		{MarketID: "0xnews", Headline: "Big development", Source: "bing news", CapturedAt: time.Now().UTC()},
	}}
	c := newTestCollector(env, passGuard{}, Options{Fetcher: fetcher, NewsSample: 10}, client)

	if err := c.RunDiscover(ctx); err != nil {
		t.Fatalf("RunDiscover: %v", err)
	}
	if err := c.RunSnapshot(ctx); err != nil {
		t.Fatalf("RunSnapshot: %v", err)
	}
	items, err := env.news.ListByMarket(ctx, "0xnews", nil)
	if err != nil {
		t.Fatalf("ListByMarket: %v", err)
	}
	if len(items) != 1 || items[0].Headline != "Big development" {
		t.Fatalf("news = %+v", items)
	}
}

type headlineStub struct {
	items []domain.NewsItem
}

func (h headlineStub) Search(ctx context.Context, marketID, query string) ([]domain.NewsItem, error) {
	return h.items, nil
}

func TestGuardSkipsPhaseAndJournals(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	client := &fakeClient{
		platform: domain.PlatformPolymarket,
		markets:  []domain.Market{testMarket(domain.PlatformPolymarket, "0xblocked", time.Now().Add(time.Hour))},
	}
	c := newTestCollector(env, trippedGuard{}, Options{}, client)

	if err := c.runGuarded(ctx, PhaseDiscover, c.RunDiscover); err != nil {
		t.Fatalf("runGuarded: %v", err)
	}
	if client.discoverCalls != 0 {
		t.Fatalf("discover ran %d times behind a tripped guard", client.discoverCalls)
	}
	tripped, err := env.journal.GuardTripped(ctx)
	if err != nil {
		t.Fatalf("GuardTripped: %v", err)
	}
	if !tripped {
		t.Fatal("journal does not show the guard as tripped")
	}
	if last, _ := env.journal.LastSuccess(ctx, PhaseDiscover); !last.IsZero() {
		t.Fatalf("skipped phase recorded a success at %v", last)
	}
}

func TestRunGuardedRecordsSuccess(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	client := &fakeClient{platform: domain.PlatformPolymarket}
	c := newTestCollector(env, passGuard{}, Options{}, client)

	before := time.Now().UTC()
	if err := c.runGuarded(ctx, PhaseDiscover, c.RunDiscover); err != nil {
		t.Fatalf("runGuarded: %v", err)
	}
	last, err := env.journal.LastSuccess(ctx, PhaseDiscover)
	if err != nil {
		t.Fatalf("LastSuccess: %v", err)
	}
	if last.Before(before) {
		t.Fatalf("LastSuccess = %v, want >= %v", last, before)
	}
	tripped, _ := env.journal.GuardTripped(ctx)
	if tripped {
		t.Fatal("guard flag should be cleared after a clean check")
	}
}

func TestStatusSurface(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	yes := domain.ResolutionYes
	past := time.Now().UTC().Add(-time.Hour)
	client := &fakeClient{
		platform:    domain.PlatformPolymarket,
		markets:     []domain.Market{testMarket(domain.PlatformPolymarket, "0xs", past)},
		resolutions: map[string]*domain.Resolution{"0xs": &yes},
	}
	c := newTestCollector(env, passGuard{}, Options{}, client)

	if err := c.runGuarded(ctx, PhaseDiscover, c.RunDiscover); err != nil {
		t.Fatalf("discover: %v", err)
	}
	if err := c.runGuarded(ctx, PhaseResolve, c.RunResolve); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Counts.Resolved != 1 {
		t.Fatalf("resolved = %d, want 1", st.Counts.Resolved)
	}
	if st.LastSuccess[PhaseDiscover].IsZero() || st.LastSuccess[PhaseResolve].IsZero() {
		t.Fatalf("missing journal entries: %+v", st.LastSuccess)
	}
	if !st.LastSuccess[PhaseSnapshot].IsZero() {
		t.Fatal("snapshot should have no recorded success")
	}
	if st.GuardTripped {
		t.Fatal("guard should not be tripped")
	}
}

func TestSchedulerRunsBackfillImmediately(t *testing.T) {
	env := newTestEnv()

	no := domain.ResolutionNo
	end := time.Now().UTC().Add(-time.Hour)
	client := &fakeClient{
		platform: domain.PlatformKalshi,
		settled: []domain.Market{{
			Platform:   domain.PlatformKalshi,
			MarketID:   "NOW-SETTLED",
			Status:     domain.MarketStatusResolved,
			EndDate:    &end,
			Resolution: &no,
			ResolvedAt: &end,
		}},
	}
	c := newTestCollector(env, passGuard{}, Options{}, client)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := NewScheduler(c, Intervals{
		Discover: time.Hour,
		Snapshot: time.Hour,
		Resolve:  time.Hour,
		Backfill: time.Hour,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run: %v", err)
	}

	counts, err := env.markets.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Resolved != 1 {
		t.Fatalf("backfill did not run at startup: %+v", counts)
	}
	if client.discoverCalls != 0 {
		t.Fatalf("discover fired %d times before its interval", client.discoverCalls)
	}
}

type recordingNotifier struct {
	events []string
}

func (r *recordingNotifier) Notify(ctx context.Context, event, title, message string) error {
	r.events = append(r.events, event)
	return nil
}

func TestGuardTripRaisesAlert(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	rec := &recordingNotifier{}
	client := &fakeClient{platform: domain.PlatformPolymarket}
	c := newTestCollector(env, trippedGuard{}, Options{Notifier: rec}, client)

	if err := c.runGuarded(ctx, PhaseSnapshot, c.RunSnapshot); err != nil {
		t.Fatalf("runGuarded: %v", err)
	}
	if len(rec.events) != 1 || rec.events[0] != notify.EventGuardTripped {
		t.Fatalf("events = %v, want one %s", rec.events, notify.EventGuardTripped)
	}
}

// staleListStore replays a fixed due list, standing in for a sweep that
// started from a listing taken before another process resolved the market.
type staleListStore struct {
	*memory.MarketStore
	stale []domain.Market
}

func (s *staleListStore) ListUnresolvedPastEnd(_ context.Context, _ time.Time) ([]domain.Market, error) {
	return s.stale, nil
}

func TestResolutionConflictRaisesAlert(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	past := time.Now().UTC().Add(-time.Hour)
	yes := domain.ResolutionYes
	no := domain.ResolutionNo
	market := testMarket(domain.PlatformPolymarket, "0xc", past)
	if err := env.markets.Upsert(ctx, market); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := env.markets.RecordResolution(ctx, domain.PlatformPolymarket, "0xc", yes, past); err != nil {
		t.Fatalf("RecordResolution: %v", err)
	}

	client := &fakeClient{
		platform:    domain.PlatformPolymarket,
		resolutions: map[string]*domain.Resolution{"0xc": &no},
	}
	rec := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stale := &staleListStore{MarketStore: env.markets, stale: []domain.Market{market}}
	c := New([]PlatformClient{client}, stale, env.snapshots, env.news, env.journal,
		passGuard{}, Options{Notifier: rec}, logger)

	if err := c.RunResolve(ctx); err != nil {
		t.Fatalf("RunResolve: %v", err)
	}
	if len(rec.events) != 1 || rec.events[0] != notify.EventResolutionConflict {
		t.Fatalf("events = %v, want one %s", rec.events, notify.EventResolutionConflict)
	}
	m, err := env.markets.GetByID(ctx, domain.PlatformPolymarket, "0xc")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if m.Resolution == nil || *m.Resolution != domain.ResolutionYes {
		t.Fatalf("stored resolution changed: %+v", m.Resolution)
	}
}
