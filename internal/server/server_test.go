package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/polylab/collector/internal/cache"
	"github.com/polylab/collector/internal/collector"
	"github.com/polylab/collector/internal/domain"
	"github.com/polylab/collector/internal/server/handler"
	"github.com/polylab/collector/internal/store/memory"
)

type okGuard struct{}

func (okGuard) Check(ctx context.Context) error { return nil }

func newTestServer(t *testing.T, apiKey string) (*httptest.Server, *memory.MarketStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	markets := memory.NewMarketStore()
	snaps := memory.NewSnapshotStore()
	news := memory.NewNewsStore()
	markets.AttachCounters(snaps, news)

	c := collector.New(nil, markets, snaps, news, cache.NewJournal(),
		okGuard{}, collector.Options{}, logger)

	srv := NewServer(Config{Port: 0, APIKey: apiKey}, Handlers{
		Health:  handler.NewHealthHandler(),
		Status:  handler.NewStatusHandler(c, logger),
		Markets: handler.NewMarketHandler(markets, logger),
	}, logger)

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, markets
}

func seedMarket(t *testing.T, markets *memory.MarketStore, id string, status domain.MarketStatus) {
	t.Helper()
	end := time.Now().UTC().Add(24 * time.Hour)
	err := markets.Upsert(context.Background(), domain.Market{
		Platform: domain.PlatformPolymarket,
		MarketID: id,
		Slug:     "will-it-happen",
		Title:    "Will it happen?",
		Category: "Politics",
		Status:   status,
		EndDate:  &end,
		Outcomes: []string{"Yes", "No"},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, "")

	var body map[string]string
	if code := getJSON(t, ts, "/api/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts, markets := newTestServer(t, "")
	seedMarket(t, markets, "0x1", domain.MarketStatusActive)
	seedMarket(t, markets, "0x2", domain.MarketStatusClosed)

	var body struct {
		Active int64 `json:"active_markets"`
		Closed int64 `json:"closed_markets"`
	}
	if code := getJSON(t, ts, "/api/status", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Active != 1 || body.Closed != 1 {
		t.Fatalf("counts = %+v", body)
	}
}

func TestMarketEndpoints(t *testing.T) {
	ts, markets := newTestServer(t, "")
	seedMarket(t, markets, "0xa", domain.MarketStatusActive)

	var list struct {
		Markets []struct {
			MarketID string `json:"market_id"`
			Platform string `json:"platform"`
		} `json:"markets"`
		Total int `json:"total"`
	}
	if code := getJSON(t, ts, "/api/markets?status=active", &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if list.Total != 1 || len(list.Markets) != 1 || list.Markets[0].MarketID != "0xa" {
		t.Fatalf("list = %+v", list)
	}

	if code := getJSON(t, ts, "/api/markets?status=bogus", nil); code != http.StatusBadRequest {
		t.Fatalf("bad status filter = %d", code)
	}

	var m struct {
		Title string `json:"title"`
	}
	if code := getJSON(t, ts, "/api/markets/polymarket/0xa", &m); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if m.Title != "Will it happen?" {
		t.Fatalf("market = %+v", m)
	}

	if code := getJSON(t, ts, "/api/markets/polymarket/0xmissing", nil); code != http.StatusNotFound {
		t.Fatalf("missing market = %d", code)
	}
}

func TestAuthRequired(t *testing.T) {
	ts, _ := newTestServer(t, "sekrit")

	if code := getJSON(t, ts, "/api/status", nil); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d", code)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer = %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key = %d", resp.StatusCode)
	}
}
