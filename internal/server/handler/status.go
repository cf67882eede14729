package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/polylab/collector/internal/collector"
	"github.com/polylab/collector/internal/domain"
)

// StatusSource is the slice of the collector the status handlers read from.
type StatusSource interface {
	Status(ctx context.Context) (collector.Status, error)
	Categories(ctx context.Context) ([]domain.CategoryCount, error)
}

// StatusHandler serves the ingestion status and category breakdown.
type StatusHandler struct {
	source StatusSource
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler over the given source.
func NewStatusHandler(source StatusSource, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{source: source, logger: logger}
}

type statusResponse struct {
	Active       int64             `json:"active_markets"`
	Closed       int64             `json:"closed_markets"`
	Resolved     int64             `json:"resolved_markets"`
	Snapshots    int64             `json:"snapshots"`
	News         int64             `json:"news_headlines"`
	GuardTripped bool              `json:"guard_tripped"`
	LastSuccess  map[string]string `json:"last_success"`
}

// GetStatus responds with store counters, guard state, and per-phase last
// success timestamps.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.source.Status(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: status failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read status")
		return
	}

	last := make(map[string]string, len(st.LastSuccess))
	for phase, at := range st.LastSuccess {
		if at.IsZero() {
			last[phase] = ""
			continue
		}
		last[phase] = at.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Active:       st.Counts.Active,
		Closed:       st.Counts.Closed,
		Resolved:     st.Counts.Resolved,
		Snapshots:    st.Counts.Snapshots,
		News:         st.Counts.News,
		GuardTripped: st.GuardTripped,
		LastSuccess:  last,
	})
}

type categoryResponse struct {
	Category string `json:"category"`
	Total    int64  `json:"total"`
	Resolved int64  `json:"resolved"`
}

// GetCategories responds with per-category market counts.
// GET /api/categories
func (h *StatusHandler) GetCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.source.Categories(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: categories failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	out := make([]categoryResponse, 0, len(categories))
	for _, c := range categories {
		out = append(out, categoryResponse{
			Category: c.Category,
			Total:    c.Total,
			Resolved: c.Resolved,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}
