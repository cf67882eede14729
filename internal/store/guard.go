// Package store holds storage concerns shared by the concrete backends,
// currently the disk usage guard that protects the database volume.
package store

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/polylab/collector/internal/domain"
)

// DiskGuard suppresses write phases when the filesystem holding the database
// crosses a usage threshold. Reads and the status surface stay available
// while the guard is tripped.
type DiskGuard struct {
	path      string
	threshold float64 // usage ratio in [0,1]

	// usage is swappable in tests.
	usage func(ctx context.Context, path string) (float64, error)
}

// NewDiskGuard creates a guard watching the filesystem containing path.
// threshold is a usage ratio; 0.90 means "trip at 90% full".
func NewDiskGuard(path string, threshold float64) *DiskGuard {
	return &DiskGuard{
		path:      path,
		threshold: threshold,
		usage:     diskUsage,
	}
}

func diskUsage(ctx context.Context, path string) (float64, error) {
	st, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return st.UsedPercent / 100, nil
}

// Usage reports the current usage ratio of the watched filesystem.
func (g *DiskGuard) Usage(ctx context.Context) (float64, error) {
	return g.usage(ctx, g.path)
}

// Check returns nil when writes may proceed and an error wrapping
// domain.ErrGuardTripped once usage is at or above the threshold. A failure
// to stat the filesystem also trips the guard: when in doubt, stop writing.
func (g *DiskGuard) Check(ctx context.Context) error {
	ratio, err := g.usage(ctx, g.path)
	if err != nil {
		return fmt.Errorf("disk guard: stat %s: %v: %w", g.path, err, domain.ErrGuardTripped)
	}
	if ratio >= g.threshold {
		return fmt.Errorf("disk guard: %s at %.1f%% (threshold %.1f%%): %w",
			g.path, ratio*100, g.threshold*100, domain.ErrGuardTripped)
	}
	return nil
}
