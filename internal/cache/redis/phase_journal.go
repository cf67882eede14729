package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polylab/collector/internal/domain"
)

const (
	phaseKeyPrefix = "collector:phase:last_success:"
	guardKey       = "collector:guard:tripped"
)

// PhaseJournal implements domain.PhaseJournal on Redis so the status command
// can read the daemon's phase progress from another process.
type PhaseJournal struct {
	rdb *redis.Client
}

// NewPhaseJournal creates a PhaseJournal backed by the given Client.
func NewPhaseJournal(c *Client) *PhaseJournal {
	return &PhaseJournal{rdb: c.Underlying()}
}

// RecordSuccess stores the completion instant of a phase.
func (j *PhaseJournal) RecordSuccess(ctx context.Context, phase string, at time.Time) error {
	if err := j.rdb.Set(ctx, phaseKeyPrefix+phase, at.UnixMilli(), 0).Err(); err != nil {
		return fmt.Errorf("redis: record phase %s: %w", phase, err)
	}
	return nil
}

// LastSuccess returns the last recorded completion of a phase, or the zero
// time when the phase has never completed.
func (j *PhaseJournal) LastSuccess(ctx context.Context, phase string) (time.Time, error) {
	val, err := j.rdb.Get(ctx, phaseKeyPrefix+phase).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("redis: read phase %s: %w", phase, err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: parse phase %s timestamp %q: %w", phase, val, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// SetGuardTripped publishes the storage guard state.
func (j *PhaseJournal) SetGuardTripped(ctx context.Context, tripped bool) error {
	val := "0"
	if tripped {
		val = "1"
	}
	if err := j.rdb.Set(ctx, guardKey, val, 0).Err(); err != nil {
		return fmt.Errorf("redis: set guard state: %w", err)
	}
	return nil
}

// GuardTripped reports the last published guard state.
func (j *PhaseJournal) GuardTripped(ctx context.Context) (bool, error) {
	val, err := j.rdb.Get(ctx, guardKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis: read guard state: %w", err)
	}
	return val == "1", nil
}

// Compile-time interface check.
var _ domain.PhaseJournal = (*PhaseJournal)(nil)
