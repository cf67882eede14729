// Package kalshi is the REST client for the Kalshi public trade API.
//
// Resolution logic: Kalshi market objects carry a status field. When status
// is "settled" the result field names the winning side ("yes" / "no").
// Prices ride inline on the market response as cent-denominated bid/ask
// pairs, so no separate price endpoint is needed.
package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/polylab/collector/internal/domain"
	"github.com/polylab/collector/internal/fetch"
)

// pageLimit stays well under Kalshi's 1000 cap.
const pageLimit = 200

// Client polls the Kalshi public API through a rate-limited fetcher. The
// read-only endpoints used here need no authentication.
type Client struct {
	baseURL string
	client  *fetch.Client
}

// NewClient creates a Kalshi client. baseURL is the API root, e.g.
// "https://api.elections.kalshi.com/trade-api/v2".
func NewClient(baseURL string, limiter domain.RateLimiter) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  fetch.NewClient(domain.PlatformKalshi, limiter),
	}
}

// Platform identifies this adapter.
func (c *Client) Platform() domain.Platform { return domain.PlatformKalshi }

// DiscoverMarkets pages through all open markets. The discovery response
// carries prices inline, so each market also yields its first snapshot.
func (c *Client) DiscoverMarkets(ctx context.Context) ([]domain.Market, []domain.PriceSnapshot, error) {
	raw, err := c.pageMarkets(ctx, "open")
	if err != nil {
		return nil, nil, fmt.Errorf("kalshi: discover markets: %w", err)
	}

	now := time.Now().UTC()
	markets := make([]domain.Market, 0, len(raw))
	var snapshots []domain.PriceSnapshot
	for i := range raw {
		markets = append(markets, raw[i].ToDomainMarket(now))
		if snap := raw[i].ExtractSnapshot(now); snap != nil {
			snapshots = append(snapshots, *snap)
		}
	}
	return markets, snapshots, nil
}

// FetchPrices refreshes prices for the tracked markets by re-querying the
// open market list in bulk, since Kalshi includes prices in the market
// response. Markets not in the tracked set are dropped.
func (c *Client) FetchPrices(ctx context.Context, markets []domain.Market) ([]domain.PriceSnapshot, error) {
	raw, err := c.pageMarkets(ctx, "open")
	if err != nil {
		return nil, fmt.Errorf("kalshi: fetch prices: %w", err)
	}

	tracked := make(map[string]struct{}, len(markets))
	for i := range markets {
		tracked[markets[i].MarketID] = struct{}{}
	}

	now := time.Now().UTC()
	var snapshots []domain.PriceSnapshot
	for i := range raw {
		if _, ok := tracked[raw[i].Ticker]; !ok {
			continue
		}
		if snap := raw[i].ExtractSnapshot(now); snap != nil {
			snapshots = append(snapshots, *snap)
		}
	}
	return snapshots, nil
}

// CheckResolution queries a single market's settlement. A nil result with
// nil error means not settled; unknown tickers are treated the same way.
func (c *Client) CheckResolution(ctx context.Context, marketID string) (*domain.Resolution, error) {
	body, err := c.client.Do(ctx, fetch.Request{
		URL: c.baseURL + "/markets/" + url.PathEscape(marketID),
	})
	if err != nil {
		var perr *domain.PermanentFetchError
		if errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("kalshi: check resolution %s: %w", marketID, err)
	}

	var resp marketResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode market %s: %w", marketID, err)
	}
	if resp.Market.Status != "settled" {
		return nil, nil
	}
	return resp.Market.ResolutionFromResult(), nil
}

// FetchResolvedMarkets pages through settled markets for backfill.
func (c *Client) FetchResolvedMarkets(ctx context.Context) ([]domain.Market, error) {
	raw, err := c.pageMarkets(ctx, "settled")
	if err != nil {
		return nil, fmt.Errorf("kalshi: fetch resolved markets: %w", err)
	}

	now := time.Now().UTC()
	markets := make([]domain.Market, 0, len(raw))
	for i := range raw {
		markets = append(markets, raw[i].ToSettledMarket(now))
	}
	return markets, nil
}

// pageMarkets walks /markets with cursor pagination until the cursor runs
// out or a page comes back empty.
func (c *Client) pageMarkets(ctx context.Context, status string) ([]APIMarket, error) {
	var all []APIMarket
	cursor := ""
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(pageLimit))
		if status != "" {
			q.Set("status", status)
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		body, err := c.client.Do(ctx, fetch.Request{URL: c.baseURL + "/markets", Query: q})
		if err != nil {
			return nil, err
		}

		var resp marketsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode markets page: %w", err)
		}
		all = append(all, resp.Markets...)
		if resp.Cursor == "" || len(resp.Markets) == 0 {
			break
		}
		cursor = resp.Cursor
	}
	return all, nil
}
