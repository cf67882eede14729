package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/polylab/collector/internal/domain"
)

// MarketHandler serves read-only market endpoints backed directly by the
// market store.
type MarketHandler struct {
	markets domain.MarketStore
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler over the given store.
func NewMarketHandler(markets domain.MarketStore, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

type marketResponse struct {
	Platform   string   `json:"platform"`
	MarketID   string   `json:"market_id"`
	Slug       string   `json:"slug"`
	Title      string   `json:"title"`
	Category   string   `json:"category"`
	Volume     float64  `json:"volume"`
	Liquidity  float64  `json:"liquidity"`
	Status     string   `json:"status"`
	Resolution *string  `json:"resolution"`
	EndDate    *string  `json:"end_date"`
	ResolvedAt *string  `json:"resolved_at"`
	Outcomes   []string `json:"outcomes"`
}

func toMarketResponse(m domain.Market) marketResponse {
	resp := marketResponse{
		Platform:  string(m.Platform),
		MarketID:  m.MarketID,
		Slug:      m.Slug,
		Title:     m.Title,
		Category:  m.Category,
		Volume:    m.Volume,
		Liquidity: m.Liquidity,
		Status:    string(m.Status),
		Outcomes:  m.Outcomes,
	}
	if m.Resolution != nil {
		r := string(*m.Resolution)
		resp.Resolution = &r
	}
	if m.EndDate != nil {
		d := m.EndDate.UTC().Format(time.RFC3339)
		resp.EndDate = &d
	}
	if m.ResolvedAt != nil {
		d := m.ResolvedAt.UTC().Format(time.RFC3339)
		resp.ResolvedAt = &d
	}
	return resp
}

// ListMarkets returns tracked markets, optionally filtered by status and
// platform.
// GET /api/markets?status=active&platform=polymarket&limit=50
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.MarketFilter{
		Platform: domain.Platform(q.Get("platform")),
	}
	if s := q.Get("status"); s != "" {
		status := domain.MarketStatus(s)
		switch status {
		case domain.MarketStatusActive, domain.MarketStatusClosed, domain.MarketStatusResolved:
			filter.Status = []domain.MarketStatus{status}
		default:
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(s))
			return
		}
	}

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	markets, err := h.markets.List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}
	total := len(markets)
	if len(markets) > limit {
		markets = markets[:limit]
	}

	out := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		out = append(out, toMarketResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": out,
		"total":   total,
		"limit":   limit,
	})
}

// GetMarket returns one market by platform and ID.
// GET /api/markets/{platform}/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	platform := domain.Platform(r.PathValue("platform"))
	id := r.PathValue("id")
	if platform == "" || id == "" {
		writeError(w, http.StatusBadRequest, "missing platform or market id")
		return
	}

	m, err := h.markets.GetByID(r.Context(), platform, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load market")
		return
	}
	writeJSON(w, http.StatusOK, toMarketResponse(m))
}
