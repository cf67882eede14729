package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polylab/collector/internal/domain"
	"github.com/polylab/collector/internal/notify"
)

const (
	initialRetryBackoff = 1 * time.Second
	maxRetryBackoff     = 5 * time.Minute
)

// Intervals carries the four phase timers.
type Intervals struct {
	Discover time.Duration
	Snapshot time.Duration
	Resolve  time.Duration
	Backfill time.Duration
}

// Scheduler drives the collector phases on independent timers until the
// context is cancelled. A failed phase retries with exponential backoff
// instead of waiting out its full interval.
type Scheduler struct {
	collector *Collector
	intervals Intervals
	logger    *slog.Logger
}

// NewScheduler builds a Scheduler over an already-wired Collector.
func NewScheduler(c *Collector, intervals Intervals, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		collector: c,
		intervals: intervals,
		logger:    logger.With("component", "scheduler"),
	}
}

// Run blocks until ctx is cancelled. Backfill fires immediately at startup so
// a fresh deployment has settled markets to work with; the other phases wait
// out their first interval.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting",
		"discover", s.intervals.Discover,
		"snapshot", s.intervals.Snapshot,
		"resolve", s.intervals.Resolve,
		"backfill", s.intervals.Backfill)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.loop(gctx, PhaseDiscover, s.intervals.Discover, false, s.collector.RunDiscover)
	})
	g.Go(func() error {
		return s.loop(gctx, PhaseSnapshot, s.intervals.Snapshot, false, s.collector.RunSnapshot)
	})
	g.Go(func() error {
		return s.loop(gctx, PhaseResolve, s.intervals.Resolve, false, s.collector.RunResolve)
	})
	g.Go(func() error {
		return s.loop(gctx, PhaseBackfill, s.intervals.Backfill, true, s.collector.RunBackfill)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loop runs one phase forever. Phase failures never stop the loop; they are
// logged and retried after a growing backoff that resets on the next success.
func (s *Scheduler) loop(ctx context.Context, phase string, interval time.Duration, immediate bool, fn func(context.Context) error) error {
	wait := interval
	if immediate {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	var backoff time.Duration
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		err := s.collector.runGuarded(ctx, phase, fn)
		if err == nil {
			backoff = 0
			timer.Reset(interval)
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if backoff == 0 {
			backoff = initialRetryBackoff
			// Alert on the first failure of a streak only; retries are
			// already visible in the logs.
			s.collector.alert(ctx, notify.EventPhaseFailure,
				"Phase failure",
				fmt.Sprintf("%s phase failed: %v", phase, err))
		} else {
			backoff *= 2
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}
		}
		// Upstream flakiness is expected; only non-transient failures log
		// at error level.
		if domain.IsTransient(err) {
			s.logger.Warn("phase failed",
				"phase", phase, "error", err, "retry_in", backoff)
		} else {
			s.logger.Error("phase failed",
				"phase", phase, "error", err, "retry_in", backoff)
		}
		timer.Reset(backoff)
	}
}
