// Package sched owns the periodic job runner. Every recurring loop in the
// daemon registers here so startup and shutdown happen in one place.
package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Runner wraps a cron scheduler with interval-style registration.
type Runner struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewRunner creates an empty runner. Jobs run sequentially per entry; a slow
// tick delays its own next run, not other jobs.
func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{
		cron: cron.New(),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Every registers fn to run at the given interval once Start is called.
func (r *Runner) Every(name string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := r.cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	r.log.Debug().Str("job", name).Dur("interval", interval).Msg("job registered")
	return nil
}

// Start begins running registered jobs in the background.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for in-flight jobs, up to the context's
// deadline.
func (r *Runner) Stop(ctx context.Context) {
	done := r.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn().Msg("shutdown deadline reached with jobs still running")
	}
}
