package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/polylab/collector/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore in memory, append-only.
type SnapshotStore struct {
	mu    sync.RWMutex
	snaps []domain.PriceSnapshot
}

// NewSnapshotStore creates an empty SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Insert appends one snapshot.
func (s *SnapshotStore) Insert(_ context.Context, snap domain.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(snap)
	return nil
}

// InsertBatch appends snapshots and returns how many were written.
func (s *SnapshotStore) InsertBatch(_ context.Context, snaps []domain.PriceSnapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range snaps {
		s.appendLocked(snaps[i])
	}
	return len(snaps), nil
}

func (s *SnapshotStore) appendLocked(snap domain.PriceSnapshot) {
	if snap.SnapshotAt.IsZero() {
		snap.SnapshotAt = time.Now().UTC()
	}
	s.snaps = append(s.snaps, snap)
}

// ListByMarket returns the market's snapshots in chronological order,
// optionally restricted to observations strictly before the given instant.
func (s *SnapshotStore) ListByMarket(_ context.Context, platform domain.Platform, marketID string, before *time.Time) ([]domain.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.PriceSnapshot
	for i := range s.snaps {
		sn := s.snaps[i]
		if sn.Platform != platform || sn.MarketID != marketID {
			continue
		}
		if before != nil && !sn.SnapshotAt.Before(*before) {
			continue
		}
		out = append(out, sn)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SnapshotAt.Before(out[j].SnapshotAt)
	})
	return out, nil
}

// CountByMarket returns how many snapshots exist for a market.
func (s *SnapshotStore) CountByMarket(_ context.Context, platform domain.Platform, marketID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for i := range s.snaps {
		if s.snaps[i].Platform == platform && s.snaps[i].MarketID == marketID {
			n++
		}
	}
	return n, nil
}

func (s *SnapshotStore) total() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.snaps))
}
