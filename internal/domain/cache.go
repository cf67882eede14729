package domain

import (
	"context"
	"time"
)

// RateLimiter paces outbound requests to one upstream platform. Wait blocks
// until a request slot is available or the context is cancelled. It must be
// safe for concurrent use.
type RateLimiter interface {
	Wait(ctx context.Context, key string) error
}

// PhaseJournal records the last successful completion of each ingestion
// phase plus the current guard state, so the status command can tell "quiet
// because caught up" from "stuck because erroring" while the daemon runs.
type PhaseJournal interface {
	RecordSuccess(ctx context.Context, phase string, at time.Time) error
	LastSuccess(ctx context.Context, phase string) (time.Time, error)
	SetGuardTripped(ctx context.Context, tripped bool) error
	GuardTripped(ctx context.Context) (bool, error)
}
