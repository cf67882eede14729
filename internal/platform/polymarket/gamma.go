// Package polymarket is the REST client for the Polymarket Gamma API,
// which provides market discovery, price reads, and resolution checks.
//
// Resolution logic: Gamma market objects carry closed and resolved booleans.
// Once resolved, the outcomePrices array collapses to 1.0/0.0 and the side
// priced at 1 is the winner, mapped here to YES / NO.
package polymarket

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

const (
	pageLimit         = 100 // Gamma API max per page
	discoverMaxOffset = 5000
	backfillMaxOffset = 20000

	defaultSnapshotBatch = 200
)

// GammaClient polls the Polymarket Gamma API through a rate-limited fetcher.
type GammaClient struct {
	baseURL       string
	client        *fetch.Client
	snapshotBatch int
}

// NewGammaClient creates a Gamma client. baseURL is the API root, e.g.
// "https://gamma-api.polymarket.com". snapshotBatch caps how many markets a
// single price-refresh cycle re-queries.
func NewGammaClient(baseURL string, limiter domain.RateLimiter, snapshotBatch int) *GammaClient {
	if snapshotBatch <= 0 {
		snapshotBatch = defaultSnapshotBatch
	}
	return &GammaClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        fetch.NewClient(domain.PlatformPolymarket, limiter),
		snapshotBatch: snapshotBatch,
	}
}

// Platform identifies this adapter.
func (g *GammaClient) Platform() domain.Platform { return domain.PlatformPolymarket }

// DiscoverMarkets pages through all active markets and returns them together
// with the price snapshots embedded in the discovery payload, so the first
// price point costs no extra API calls.
func (g *GammaClient) DiscoverMarkets(ctx context.Context) ([]domain.Market, []domain.PriceSnapshot, error) {
	base := url.Values{}
	base.Set("active", "true")
	base.Set("closed", "false")
	base.Set("archived", "false")

	raw, err := g.pageMarkets(ctx, base, discoverMaxOffset)
	if err != nil {
		return nil, nil, fmt.Errorf("polymarket/gamma: discover markets: %w", err)
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

// FetchPrices refreshes current prices for the given markets by re-querying
// each one's slug, capped to the snapshot batch size. Per-market failures
// are skipped; only context cancellation aborts the sweep.
func (g *GammaClient) FetchPrices(ctx context.Context, markets []domain.Market) ([]domain.PriceSnapshot, error) {
	subset := markets
	if len(subset) > g.snapshotBatch {
		subset = subset[:g.snapshotBatch]
	}

	var snapshots []domain.PriceSnapshot
	for i := range subset {
		mkt := &subset[i]
		if mkt.Slug == "" {
			continue
		}

		q := url.Values{}
		q.Set("slug", mkt.Slug)
		q.Set("limit", "1")
		body, err := g.client.Do(ctx, fetch.Request{URL: g.baseURL + "/markets", Query: q})
		if err != nil {
			if ctx.Err() != nil {
				return snapshots, ctx.Err()
			}
			continue
		}

		var batch []APIMarket
		if err := json.Unmarshal(body, &batch); err != nil || len(batch) == 0 {
			continue
		}

		now := time.Now().UTC()
		if snap := batch[0].ExtractSnapshot(now); snap != nil {
			// Key on the tracked identity, not the response's.
			snap.MarketID = mkt.MarketID
			snapshots = append(snapshots, *snap)
		}
	}
	return snapshots, nil
}

// CheckResolution queries the Gamma API for a single market's resolution.
// A nil result with nil error means the market has not clearly resolved;
// unknown market IDs are treated the same way.
func (g *GammaClient) CheckResolution(ctx context.Context, marketID string) (*domain.Resolution, error) {
	body, err := g.client.Do(ctx, fetch.Request{
		URL: g.baseURL + "/markets/" + url.PathEscape(marketID),
	})
	if err != nil {
		var perr *domain.PermanentFetchError
		if errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("polymarket/gamma: check resolution %s: %w", marketID, err)
	}

	var m APIMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode market %s: %w", marketID, err)
	}
	if !bool(m.Closed) && !bool(m.Resolved) {
		return nil, nil
	}
	return m.ResolutionFromPrices(), nil
}

// FetchResolvedMarkets pages through closed markets for backfill, digging
// deeper than discovery does.
func (g *GammaClient) FetchResolvedMarkets(ctx context.Context) ([]domain.Market, error) {
	base := url.Values{}
	base.Set("closed", "true")

	raw, err := g.pageMarkets(ctx, base, backfillMaxOffset)
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: fetch resolved markets: %w", err)
	}

	now := time.Now().UTC()
	markets := make([]domain.Market, 0, len(raw))
	for i := range raw {
		markets = append(markets, raw[i].ToResolvedMarket(now))
	}
	return markets, nil
}

// pageMarkets walks /markets with limit/offset pagination up to maxOffset,
// deduplicating by market ID. The Gamma API can recycle results at high
// offsets, so a page yielding nothing new ends the walk.
func (g *GammaClient) pageMarkets(ctx context.Context, base url.Values, maxOffset int) ([]APIMarket, error) {
	var all []APIMarket
	seen := make(map[string]struct{})

	for offset := 0; offset <= maxOffset; offset += pageLimit {
		q := url.Values{}
		for k, vs := range base {
			q[k] = vs
		}
		q.Set("limit", strconv.Itoa(pageLimit))
		q.Set("offset", strconv.Itoa(offset))

		body, err := g.client.Do(ctx, fetch.Request{URL: g.baseURL + "/markets", Query: q})
		if err != nil {
			return nil, err
		}

		var batch []APIMarket
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, fmt.Errorf("decode markets page offset=%d: %w", offset, err)
		}
		if len(batch) == 0 {
			break
		}

		newCount := 0
		for i := range batch {
			id := batch[i].MarketID()
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			all = append(all, batch[i])
			newCount++
		}
		if newCount == 0 {
			break
		}
		if len(batch) < pageLimit {
			break
		}
	}
	return all, nil
}
