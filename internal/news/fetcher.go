// Package news fetches market-related headlines from a SearXNG instance.
// Disabled by default; when enabled, the daemon samples active markets each
// snapshot cycle and stores what it finds as append-only news context.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/polylab/collector/internal/domain"
)

// Fetcher queries a SearXNG search endpoint for news headlines.
type Fetcher struct {
	baseURL    string
	httpClient *http.Client
	maxResults int
}

// NewFetcher creates a Fetcher against the given SearXNG root, e.g.
// "http://localhost:8080".
func NewFetcher(baseURL string, maxResults int) *Fetcher {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		maxResults: maxResults,
	}
}

type searchResponse struct {
	Results []struct {
		Title  string `json:"title"`
		Engine string `json:"engine"`
		URL    string `json:"url"`
	} `json:"results"`
}

// Search returns headlines matching the query, capped at maxResults. The
// marketID is stamped on each item so callers can insert them directly.
func (f *Fetcher) Search(ctx context.Context, marketID, query string) ([]domain.NewsItem, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("categories", "news")
	params.Set("language", "en")
	params.Set("pageno", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("news: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news: search %q: %w", query, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("news: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news: search %q: HTTP %d", query, resp.StatusCode)
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("news: decode response: %w", err)
	}

	now := time.Now().UTC()
	results := sr.Results
	if len(results) > f.maxResults {
		results = results[:f.maxResults]
	}
	items := make([]domain.NewsItem, 0, len(results))
	for _, r := range results {
		items = append(items, domain.NewsItem{
			MarketID:   marketID,
			Headline:   r.Title,
			Source:     r.Engine,
			URL:        r.URL,
			CapturedAt: now,
		})
	}
	return items, nil
}
