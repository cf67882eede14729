package memory

import (
	"context"
	"sync"
	"time"

	"github.com/polylab/collector/internal/domain"
)

// NewsStore implements domain.NewsStore in memory, append-only.
type NewsStore struct {
	mu    sync.RWMutex
	items []domain.NewsItem
}

// NewNewsStore creates an empty NewsStore.
func NewNewsStore() *NewsStore {
	return &NewsStore{}
}

// Insert appends one headline.
func (s *NewsStore) Insert(_ context.Context, item domain.NewsItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.CapturedAt.IsZero() {
		item.CapturedAt = time.Now().UTC()
	}
	s.items = append(s.items, item)
	return nil
}

// ListByMarket returns a market's headlines in capture order, optionally
// restricted to items captured strictly before the given instant.
func (s *NewsStore) ListByMarket(_ context.Context, marketID string, before *time.Time) ([]domain.NewsItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.NewsItem
	for i := range s.items {
		it := s.items[i]
		if it.MarketID != marketID {
			continue
		}
		if before != nil && !it.CapturedAt.Before(*before) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *NewsStore) total() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.items))
}
