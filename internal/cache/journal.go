// Package cache provides the in-process fallback for the phase journal used
// when Redis is disabled. State is process-local, so the status command
// cannot see a running daemon's progress in this mode.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/polylab/collector/internal/domain"
)

// Journal implements domain.PhaseJournal with a mutex-guarded map.
type Journal struct {
	mu      sync.RWMutex
	last    map[string]time.Time
	tripped bool
}

// NewJournal creates an empty Journal.
func NewJournal() *Journal {
	return &Journal{last: make(map[string]time.Time)}
}

func (j *Journal) RecordSuccess(_ context.Context, phase string, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.last[phase] = at
	return nil
}

func (j *Journal) LastSuccess(_ context.Context, phase string) (time.Time, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.last[phase], nil
}

func (j *Journal) SetGuardTripped(_ context.Context, tripped bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tripped = tripped
	return nil
}

func (j *Journal) GuardTripped(_ context.Context) (bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.tripped, nil
}

// Compile-time interface check.
var _ domain.PhaseJournal = (*Journal)(nil)
