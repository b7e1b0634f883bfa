// Package recovery sweeps work that was claimed but never finished, which
// happens when the process dies between claiming a row and completing it.
package recovery

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftline/driftline/internal/store"
)

// Job resets sources and items stuck in an in-flight state for longer than
// the threshold.
type Job struct {
	store     *store.Store
	threshold time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewJob creates a recovery job.
func NewJob(st *store.Store, threshold time.Duration, log zerolog.Logger) *Job {
	if threshold <= 0 {
		threshold = 10 * time.Minute
	}
	return &Job{
		store:     st,
		threshold: threshold,
		log:       log.With().Str("component", "recovery").Logger(),
		now:       time.Now,
	}
}

// Run executes one sweep. A reset row rejoins the normal selection path on
// the next scheduler tick; nothing is re-enqueued directly.
func (j *Job) Run(ctx context.Context) {
	cutoff := j.now().Add(-j.threshold)

	sources, err := j.store.ResetStuckSources(cutoff)
	if err != nil {
		j.log.Error().Err(err).Msg("resetting stuck sources")
	} else if sources > 0 {
		j.log.Warn().Int64("count", sources).Msg("reset stuck sources")
	}

	if ctx.Err() != nil {
		return
	}

	items, err := j.store.ResetStuckItems(cutoff)
	if err != nil {
		j.log.Error().Err(err).Msg("resetting stuck items")
	} else if items > 0 {
		j.log.Warn().Int64("count", items).Msg("reset stuck items")
	}
}
