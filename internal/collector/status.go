package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/polylab/collector/internal/domain"
)

// Status is the operational summary behind the status command: what is in the
// store, when each phase last completed, and whether the guard is holding
// writes back.
type Status struct {
	Counts       domain.StatusCounts
	LastSuccess  map[string]time.Time
	GuardTripped bool
}

// Status reads the store counters and the phase journal. Journal read errors
// surface; a journal entry that was simply never written reads as zero time.
func (c *Collector) Status(ctx context.Context) (Status, error) {
	counts, err := c.markets.Counts(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("status: counts: %w", err)
	}
	last := make(map[string]time.Time, 4)
	for _, phase := range []string{PhaseDiscover, PhaseSnapshot, PhaseResolve, PhaseBackfill} {
		at, err := c.journal.LastSuccess(ctx, phase)
		if err != nil {
			return Status{}, fmt.Errorf("status: journal %s: %w", phase, err)
		}
		last[phase] = at
	}
	tripped, err := c.journal.GuardTripped(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("status: journal guard: %w", err)
	}
	return Status{
		Counts:       counts,
		LastSuccess:  last,
		GuardTripped: tripped,
	}, nil
}

// Categories returns the per-category market counts behind the categories
// command.
func (c *Collector) Categories(ctx context.Context) ([]domain.CategoryCount, error) {
	return c.markets.ListCategories(ctx)
}
