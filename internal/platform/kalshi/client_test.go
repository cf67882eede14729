package kalshi

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/polylab/collector/internal/domain"
)

type noLimit struct{}

func (noLimit) Wait(context.Context, string) error { return nil }

func kalshiMarket(ticker, status string, yesBid, yesAsk float64) map[string]any {
	return map[string]any{
		"ticker":        ticker,
		"title":         "Will X happen by November?",
		"subtitle":      "Settles YES if X",
		"category":      "Economics",
		"status":        status,
		"yes_bid":       yesBid,
		"yes_ask":       yesAsk,
		"volume":        1200,
		"open_interest": 450,
		"close_time":    "2026-11-30T15:00:00Z",
	}
}

func TestDiscoverMarkets_CursorPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "open" {
			t.Errorf("discover must request open markets, got %q", r.URL.RawQuery)
		}
		resp := map[string]any{}
		switch r.URL.Query().Get("cursor") {
		case "":
			resp["markets"] = []map[string]any{kalshiMarket("AAA-26", "open", 40, 44)}
			resp["cursor"] = "page2"
		case "page2":
			resp["markets"] = []map[string]any{kalshiMarket("BBB-26", "open", 62, 66)}
			resp["cursor"] = ""
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, noLimit{})
	markets, snaps, err := c.DiscoverMarkets(context.Background())
	if err != nil {
		t.Fatalf("DiscoverMarkets failed: %v", err)
	}
	if len(markets) != 2 || len(snaps) != 2 {
		t.Fatalf("expected 2 markets and 2 snapshots, got %d/%d", len(markets), len(snaps))
	}

	m := markets[0]
	if m.Platform != domain.PlatformKalshi || m.MarketID != "AAA-26" || m.Slug != "AAA-26" {
		t.Errorf("identity fields wrong: %+v", m)
	}
	if m.Status != domain.MarketStatusActive {
		t.Errorf("open must map to active, got %s", m.Status)
	}
	if m.Liquidity != 450 {
		t.Errorf("open_interest should back liquidity, got %v", m.Liquidity)
	}
	if m.EndDate == nil || m.EndDate.Month() != time.November {
		t.Errorf("close_time not parsed: %v", m.EndDate)
	}

	// Cents 40/44 -> mid 0.42.
	s := snaps[0]
	if s.YesPrice == nil || math.Abs(*s.YesPrice-0.42) > 1e-9 {
		t.Errorf("yes mid price = %v", s.YesPrice)
	}
	if s.NoPrice == nil || math.Abs(*s.NoPrice-0.58) > 1e-9 {
		t.Errorf("no price = %v", s.NoPrice)
	}
}

func TestFetchPrices_FiltersToTracked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"markets": []map[string]any{
				kalshiMarket("TRACKED-26", "open", 30, 34),
				kalshiMarket("OTHER-26", "open", 50, 54),
			},
			"cursor": "",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, noLimit{})
	snaps, err := c.FetchPrices(context.Background(), []domain.Market{
		{Platform: domain.PlatformKalshi, MarketID: "TRACKED-26"},
	})
	if err != nil {
		t.Fatalf("FetchPrices failed: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 tracked snapshot, got %d", len(snaps))
	}
	if snaps[0].MarketID != "TRACKED-26" {
		t.Errorf("snapshot market = %s", snaps[0].MarketID)
	}
}

func TestCheckResolution(t *testing.T) {
	cases := []struct {
		name   string
		status string
		result string
		code   int
		want   *domain.Resolution
	}{
		{name: "settled yes", status: "settled", result: "yes", want: resolutionPtr(domain.ResolutionYes)},
		{name: "settled no uppercase", status: "settled", result: " NO ", want: resolutionPtr(domain.ResolutionNo)},
		{name: "settled void", status: "settled", result: "", want: nil},
		{name: "still open", status: "open", result: "", want: nil},
		{name: "unknown ticker", code: http.StatusNotFound, want: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.code != 0 {
					w.WriteHeader(tc.code)
					return
				}
				m := kalshiMarket("T-26", tc.status, 99, 100)
				m["result"] = tc.result
				json.NewEncoder(w).Encode(map[string]any{"market": m})
			}))
			defer srv.Close()

			c := NewClient(srv.URL, noLimit{})
			got, err := c.CheckResolution(context.Background(), "T-26")
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

func TestFetchResolvedMarkets_Settled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "settled" {
			t.Errorf("backfill must request settled markets, got %q", r.URL.RawQuery)
		}
		m := kalshiMarket("DONE-26", "settled", 100, 100)
		m["result"] = "no"
		json.NewEncoder(w).Encode(map[string]any{"markets": []map[string]any{m}, "cursor": ""})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, noLimit{})
	markets, err := c.FetchResolvedMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchResolvedMarkets failed: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("expected 1 market, got %d", len(markets))
	}
	m := markets[0]
	if m.Status != domain.MarketStatusResolved {
		t.Errorf("status = %s", m.Status)
	}
	if m.Resolution == nil || *m.Resolution != domain.ResolutionNo {
		t.Errorf("resolution = %v", m.Resolution)
	}
	if m.ResolvedAt == nil {
		t.Error("missing resolved_at")
	}
}

func TestCentsToFrac(t *testing.T) {
	cases := []struct {
		in   *float64
		want *float64
	}{
		{nil, nil},
		{f(45), f(0.45)},
		{f(0.45), f(0.45)}, // already fractional
		{f(1), f(1)},
		{f(100), f(1)},
	}
	for _, tc := range cases {
		got := centsToFrac(tc.in)
		if (got == nil) != (tc.want == nil) {
			t.Fatalf("centsToFrac(%v) = %v", tc.in, got)
		}
		if got != nil && math.Abs(*got-*tc.want) > 1e-9 {
			t.Errorf("centsToFrac(%v) = %v, want %v", *tc.in, *got, *tc.want)
		}
	}
}

func f(v float64) *float64 { return &v }

func resolutionPtr(r domain.Resolution) *domain.Resolution { return &r }
