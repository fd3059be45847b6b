// Package retention runs the periodic half of spec.md §2's "Recovery &
// Retention" row: deleting persisted events older than a configured
// age. Startup recovery, the other half, lives in
// internal/orchestrator.Service.Recover since it needs the same
// workflow/event state the service already owns. Grounded on the
// teacher's ticker-plus-select shutdown idiom in graph/engine.go's
// metrics-sampling goroutine.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/forgeflow/orchestrator/internal/workflowstore"
)

// Sweeper periodically prunes events older than MaxAge from Store.
type Sweeper struct {
	Store    workflowstore.Store
	MaxAge   time.Duration
	Interval time.Duration
	Log      zerolog.Logger
}

// Run blocks, pruning on every tick until ctx is cancelled. A MaxAge of
// zero disables pruning entirely (spec.md §4.1's `Configure(trace_retention_days)`:
// "0 disables persistence" extends naturally to "0 disables pruning" —
// there is nothing to prune if nothing is retained beyond the live log).
func (sw *Sweeper) Run(ctx context.Context) {
	if sw.MaxAge <= 0 {
		return
	}
	interval := sw.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.sweep(ctx)
		}
	}
}

func (sw *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-sw.MaxAge)
	removed, err := sw.Store.PruneEvents(ctx, cutoff)
	if err != nil {
		sw.Log.Error().Err(err).Msg("retention: prune events failed")
		return
	}
	if removed > 0 {
		sw.Log.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("retention: pruned events")
	}
}
