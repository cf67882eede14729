package memory

import (
	"context"
	"sync"

	"github.com/polylab/collector/internal/domain"
)

// AlertStore implements domain.AlertStore in memory, used in exporter tests
// in place of the external wwatcher database.
type AlertStore struct {
	mu     sync.RWMutex
	alerts []domain.WhaleAlert
}

// NewAlertStore creates an AlertStore seeded with the given alerts.
func NewAlertStore(alerts ...domain.WhaleAlert) *AlertStore {
	return &AlertStore{alerts: alerts}
}

// Add appends alerts after construction.
func (s *AlertStore) Add(alerts ...domain.WhaleAlert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alerts...)
}

// ListAll returns every alert on record.
func (s *AlertStore) ListAll(_ context.Context) ([]domain.WhaleAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.WhaleAlert, len(s.alerts))
	copy(out, s.alerts)
	return out, nil
}
