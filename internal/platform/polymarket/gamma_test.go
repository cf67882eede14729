package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/polylab/collector/internal/domain"
)

type noLimit struct{}

func (noLimit) Wait(context.Context, string) error { return nil }

func marketJSON(id, slug, question string, yes, no float64) map[string]any {
	return map[string]any{
		"id":             id,
		"conditionId":    "0xcond" + id,
		"question":       question,
		"slug":           slug,
		"description":    "desc",
		"groupItemTitle": "Politics",
		"outcomes":       `["Yes","No"]`,
		"outcomePrices":  fmt.Sprintf(`["%g","%g"]`, yes, no),
		"volume":         "1500.5",
		"liquidityNum":   300.25,
		"endDate":        "2026-11-03T00:00:00Z",
		"active":         "true",
		"closed":         false,
	}
}

func TestDiscoverMarkets_PaginatesAndSnapshots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if r.URL.Query().Get("active") != "true" {
			t.Errorf("discover must filter active markets, got %q", r.URL.RawQuery)
		}
		var page []map[string]any
		switch offset {
		case 0:
			for i := 0; i < 100; i++ {
				page = append(page, marketJSON(fmt.Sprintf("m%d", i), fmt.Sprintf("slug-%d", i), "Q?", 0.6, 0.4))
			}
		case 100:
			// One new market plus a duplicate from the first page.
			page = append(page, marketJSON("m0", "slug-0", "Q?", 0.6, 0.4))
			page = append(page, marketJSON("m100", "slug-100", "Q?", 0.3, 0.7))
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, noLimit{}, 0)
	markets, snaps, err := g.DiscoverMarkets(context.Background())
	if err != nil {
		t.Fatalf("DiscoverMarkets failed: %v", err)
	}
	if len(markets) != 101 {
		t.Errorf("expected 101 unique markets, got %d", len(markets))
	}
	if len(snaps) != 101 {
		t.Errorf("expected an opportunistic snapshot per market, got %d", len(snaps))
	}

	m := markets[0]
	if m.Platform != domain.PlatformPolymarket {
		t.Errorf("platform = %s", m.Platform)
	}
	if m.MarketID != "0xcondm0" {
		t.Errorf("market id should prefer conditionId, got %s", m.MarketID)
	}
	if m.Category != "Politics" {
		t.Errorf("category = %q", m.Category)
	}
	if m.Volume != 1500.5 {
		t.Errorf("string volume not parsed, got %v", m.Volume)
	}
	if m.Liquidity != 300.25 {
		t.Errorf("liquidityNum fallback not used, got %v", m.Liquidity)
	}
	if m.EndDate == nil || m.EndDate.Year() != 2026 {
		t.Errorf("end date not parsed: %v", m.EndDate)
	}
	if len(m.Outcomes) != 2 || m.Outcomes[0] != "Yes" {
		t.Errorf("encoded outcomes not decoded: %v", m.Outcomes)
	}

	s := snaps[0]
	if s.YesPrice == nil || *s.YesPrice != 0.6 {
		t.Errorf("yes price = %v", s.YesPrice)
	}
	if s.Spread == nil || *s.Spread < 0.199 || *s.Spread > 0.201 {
		t.Errorf("spread = %v", s.Spread)
	}
}

func TestDiscoverMarkets_StopsWhenNothingNew(t *testing.T) {
	var pages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		// Same full page every time: the recycled-offset case.
		var page []map[string]any
		for i := 0; i < 100; i++ {
			page = append(page, marketJSON(fmt.Sprintf("m%d", i), "s", "Q?", 0.5, 0.5))
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, noLimit{}, 0)
	markets, _, err := g.DiscoverMarkets(context.Background())
	if err != nil {
		t.Fatalf("DiscoverMarkets failed: %v", err)
	}
	if len(markets) != 100 {
		t.Errorf("expected 100 markets, got %d", len(markets))
	}
	if pages != 2 {
		t.Errorf("expected walk to stop after recycled page, got %d pages", pages)
	}
}

func TestFetchPrices_CapsBatchAndKeepsIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug := r.URL.Query().Get("slug")
		if slug == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{
			marketJSON("other-id", slug, "Q?", 0.8, 0.2),
		})
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, noLimit{}, 2)
	markets := []domain.Market{
		{Platform: domain.PlatformPolymarket, MarketID: "id-1", Slug: "a"},
		{Platform: domain.PlatformPolymarket, MarketID: "id-2", Slug: "missing"},
		{Platform: domain.PlatformPolymarket, MarketID: "id-3", Slug: "never-queried"},
	}
	snaps, err := g.FetchPrices(context.Background(), markets)
	if err != nil {
		t.Fatalf("FetchPrices failed: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot (batch cap 2, one 404), got %d", len(snaps))
	}
	if snaps[0].MarketID != "id-1" {
		t.Errorf("snapshot must keep the tracked market id, got %s", snaps[0].MarketID)
	}
	if snaps[0].YesPrice == nil || *snaps[0].YesPrice != 0.8 {
		t.Errorf("yes price = %v", snaps[0].YesPrice)
	}
}

func TestCheckResolution(t *testing.T) {
	cases := []struct {
		name   string
		market map[string]any
		status int
		want   *domain.Resolution
	}{
		{
			name: "yes won",
			market: map[string]any{
				"id": "1", "closed": true, "resolved": true,
				"outcomePrices": `["1","0"]`,
			},
			want: resolutionPtr(domain.ResolutionYes),
		},
		{
			name: "no won",
			market: map[string]any{
				"id": "1", "closed": true,
				"outcomePrices": `["0.005","0.995"]`,
			},
			want: resolutionPtr(domain.ResolutionNo),
		},
		{
			name: "closed awaiting oracle",
			market: map[string]any{
				"id": "1", "closed": true,
				"outcomePrices": `["0.7","0.3"]`,
			},
			want: nil,
		},
		{
			name: "still open",
			market: map[string]any{
				"id": "1", "closed": false,
				"outcomePrices": `["0.99","0.01"]`,
			},
			want: nil,
		},
		{
			name:   "unknown market",
			status: http.StatusNotFound,
			want:   nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.status != 0 {
					w.WriteHeader(tc.status)
					return
				}
				json.NewEncoder(w).Encode(tc.market)
			}))
			defer srv.Close()

			g := NewGammaClient(srv.URL, noLimit{}, 0)
			got, err := g.CheckResolution(context.Background(), "mkt")
			if err != nil {
				t.Fatalf("CheckResolution failed: %v", err)
			}
			if (got == nil) != (tc.want == nil) {
				t.Fatalf("resolution = %v, want %v", got, tc.want)
			}
			if got != nil && *got != *tc.want {
				t.Errorf("resolution = %s, want %s", *got, *tc.want)
			}
		})
	}
}

func TestFetchResolvedMarkets_BackfillMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("closed") != "true" {
			t.Errorf("backfill must query closed markets, got %q", r.URL.RawQuery)
		}
		if r.URL.Query().Get("offset") != "0" {
			json.NewEncoder(w).Encode([]map[string]any{})
			return
		}
		resolved := marketJSON("r1", "s1", "Resolved?", 1, 0)
		resolved["resolved"] = true
		pending := marketJSON("r2", "s2", "Pending?", 0.6, 0.4)
		json.NewEncoder(w).Encode([]map[string]any{resolved, pending})
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, noLimit{}, 0)
	markets, err := g.FetchResolvedMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchResolvedMarkets failed: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(markets))
	}

	if markets[0].Status != domain.MarketStatusResolved {
		t.Errorf("resolved market status = %s", markets[0].Status)
	}
	if markets[0].Resolution == nil || *markets[0].Resolution != domain.ResolutionYes {
		t.Errorf("resolved market outcome = %v", markets[0].Resolution)
	}
	if markets[0].ResolvedAt == nil {
		t.Error("resolved market missing resolved_at")
	}
	if markets[1].Status != domain.MarketStatusClosed {
		t.Errorf("unresolved closed market status = %s", markets[1].Status)
	}
	if markets[1].Resolution != nil {
		t.Errorf("closed market must not carry an outcome, got %v", *markets[1].Resolution)
	}
}

func TestAPIMarket_FlexibleDecoding(t *testing.T) {
	raw := `{
		"id": "42",
		"question": "Will it rain?",
		"outcomes": ["Yes","No"],
		"outcomePrices": "[\"0.55\",\"0.45\"]",
		"volume": 12.5,
		"active": true,
		"closed": "false",
		"description": "` + longString(2500) + `"
	}`
	var m APIMarket
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if m.MarketID() != "42" {
		t.Errorf("fallback to id failed: %s", m.MarketID())
	}
	if !bool(m.Active) || bool(m.Closed) {
		t.Errorf("flexible booleans: active=%v closed=%v", m.Active, m.Closed)
	}
	if m.Volume == nil || float64(*m.Volume) != 12.5 {
		t.Errorf("numeric volume = %v", m.Volume)
	}
	dm := m.ToDomainMarket(time.Now())
	if len(dm.Description) != descriptionCap {
		t.Errorf("description not capped: %d", len(dm.Description))
	}
	if len(m.OutcomePrices) != 2 || m.OutcomePrices[0] != "0.55" {
		t.Errorf("string-encoded prices = %v", m.OutcomePrices)
	}
}

func resolutionPtr(r domain.Resolution) *domain.Resolution { return &r }

func longString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}
