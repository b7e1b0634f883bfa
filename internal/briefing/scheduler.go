package briefing

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/driftline/driftline/internal/credit"
	"github.com/driftline/driftline/internal/store"
)

// Scheduler evaluates every active briefing each tick and executes the due
// ones.
type Scheduler struct {
	store *store.Store
	gate  *credit.Gate
	exec  *Executor
	log   zerolog.Logger
	now   func() time.Time
}

// NewScheduler creates the briefing scheduler.
func NewScheduler(st *store.Store, gate *credit.Gate, exec *Executor, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store: st,
		gate:  gate,
		exec:  exec,
		log:   log.With().Str("component", "briefing_scheduler").Logger(),
		now:   time.Now,
	}
}

// Tick runs one evaluation pass. Briefings fail independently: one bad
// timezone or storage error does not stop the rest of the batch.
func (s *Scheduler) Tick(ctx context.Context) {
	briefings, err := s.store.ActiveBriefings()
	if err != nil {
		s.log.Error().Err(err).Msg("loading active briefings")
		return
	}
	if len(briefings) == 0 {
		return
	}

	funded, err := s.gate.AccountsWithCredit()
	if err != nil {
		s.log.Error().Err(err).Msg("loading funded accounts")
		return
	}

	now := s.now()
	executed := 0
	var errs *multierror.Error
	for _, b := range briefings {
		if ctx.Err() != nil {
			return
		}
		if _, ok := funded[b.AccountID]; !ok {
			s.log.Debug().Int64("briefing_id", b.ID).Int64("account_id", b.AccountID).Msg("account has no credit, briefing skipped")
			continue
		}

		due, err := Due(b, now)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if !due {
			continue
		}

		if _, err := s.exec.Execute(b); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		executed++
	}

	if err := errs.ErrorOrNil(); err != nil {
		s.log.Error().Err(err).Msg("briefing tick finished with failures")
	}
	if executed > 0 {
		s.log.Info().Int("executed", executed).Int("evaluated", len(briefings)).Msg("briefing tick")
	}
}
