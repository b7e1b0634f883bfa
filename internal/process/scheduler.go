// Package process drives item enrichment: the scheduler selects processable
// items for accounts that still hold credit, the worker enriches them and
// charges the account in the same transaction that records the result.
package process

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftline/driftline/internal/credit"
	"github.com/driftline/driftline/internal/queue"
	"github.com/driftline/driftline/internal/store"
)

// overscanFactor widens the candidate query so that a batch can still fill
// up when many of the oldest items belong to accounts without credit.
const overscanFactor = 4

// Scheduler periodically selects items eligible for enrichment and enqueues
// them.
type Scheduler struct {
	store     *store.Store
	queue     queue.Queue
	gate      *credit.Gate
	batchSize int
	log       zerolog.Logger
	now       func() time.Time
}

// NewScheduler creates the processing scheduler.
func NewScheduler(st *store.Store, q queue.Queue, gate *credit.Gate, batchSize int, log zerolog.Logger) *Scheduler {
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Scheduler{
		store:     st,
		queue:     q,
		gate:      gate,
		batchSize: batchSize,
		log:       log.With().Str("component", "processing_scheduler").Logger(),
		now:       time.Now,
	}
}

// Tick runs one scheduling pass. The credit check happens once per tick, not
// per item: accounts without credit are filtered out of the candidate set
// before anything is enqueued.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.queue.CanAccept() {
		s.log.Debug().Int("depth", s.queue.Size()).Msg("processing queue saturated, skipping tick")
		return
	}

	funded, err := s.gate.AccountsWithCredit()
	if err != nil {
		s.log.Error().Err(err).Msg("loading funded accounts")
		return
	}
	if len(funded) == 0 {
		return
	}

	candidates, err := s.store.ProcessableItems(s.batchSize * overscanFactor)
	if err != nil {
		s.log.Error().Err(err).Msg("selecting processable items")
		return
	}

	enqueued := 0
	for _, item := range candidates {
		if ctx.Err() != nil {
			return
		}
		if enqueued >= s.batchSize {
			break
		}
		if _, ok := funded[item.AccountID]; !ok {
			continue
		}

		ok, err := s.store.MarkItemQueued(item.ID, s.now())
		if err != nil {
			s.log.Error().Err(err).Int64("item_id", item.ID).Msg("marking item queued")
			continue
		}
		if !ok {
			continue
		}

		if !s.queue.Enqueue(item.ID) {
			if err := s.store.ClearItemQueued(item.ID); err != nil {
				s.log.Error().Err(err).Int64("item_id", item.ID).Msg("releasing queued item")
			}
			s.log.Warn().Int64("item_id", item.ID).Msg("processing queue full, item deferred to next tick")
			break
		}
		enqueued++
	}

	if enqueued > 0 {
		s.log.Info().Int("enqueued", enqueued).Int("candidates", len(candidates)).Msg("processing tick")
	}
}
