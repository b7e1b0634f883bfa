// Package ingest drives the source fetch lifecycle: the scheduler moves due
// sources IDLE -> QUEUED onto the fetch queue, the worker takes them through
// QUEUED -> FETCHING -> IDLE and persists what it finds.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftline/driftline/internal/queue"
	"github.com/driftline/driftline/internal/store"
)

// Scheduler periodically selects due sources and enqueues them.
type Scheduler struct {
	store     *store.Store
	queue     queue.Queue
	batchSize int
	log       zerolog.Logger
	now       func() time.Time
}

// NewScheduler creates the fetch scheduler.
func NewScheduler(st *store.Store, q queue.Queue, batchSize int, log zerolog.Logger) *Scheduler {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Scheduler{
		store:     st,
		queue:     q,
		batchSize: batchSize,
		log:       log.With().Str("component", "fetch_scheduler").Logger(),
		now:       time.Now,
	}
}

// Tick runs one scheduling pass. Errors are logged, never propagated: a bad
// tick must not stop the periodic loop.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.queue.CanAccept() {
		// No partial admission under backpressure; the whole tick waits.
		s.log.Debug().Int("depth", s.queue.Size()).Msg("fetch queue saturated, skipping tick")
		return
	}

	now := s.now()
	due, err := s.store.DueSources(now, s.batchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("selecting due sources")
		return
	}
	if len(due) == 0 {
		return
	}

	enqueued := 0
	for _, src := range due {
		if ctx.Err() != nil {
			return
		}
		ok, err := s.store.MarkSourceQueued(src.ID, now)
		if err != nil {
			s.log.Error().Err(err).Int64("source_id", src.ID).Msg("marking source queued")
			continue
		}
		if !ok {
			// Lost the claim to a concurrent tick or manual trigger.
			continue
		}

		if !s.queue.Enqueue(src.ID) {
			// Queue filled up mid-batch; put the source back so it is not
			// orphaned in QUEUED with no queue entry.
			if err := s.store.RevertSourceQueued(src.ID); err != nil {
				s.log.Error().Err(err).Int64("source_id", src.ID).Msg("reverting queued source")
			}
			s.log.Warn().Int64("source_id", src.ID).Msg("fetch queue full, source deferred to next tick")
			break
		}
		enqueued++
	}

	if enqueued > 0 {
		s.log.Info().Int("enqueued", enqueued).Int("due", len(due)).Msg("fetch tick")
	}
}

// TriggerNow enqueues a single source immediately, bypassing batch
// selection. It goes through the same IDLE -> QUEUED gate, so a source
// already in flight is rejected rather than double-enqueued.
func (s *Scheduler) TriggerNow(id int64) error {
	src, err := s.store.GetSource(id)
	if err != nil {
		return err
	}
	if src == nil || src.Status == store.SourceDeleted {
		return fmt.Errorf("source %d not found", id)
	}
	if src.Status == store.SourcePaused {
		return fmt.Errorf("source %d is paused", id)
	}

	ok, err := s.store.MarkSourceQueued(id, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("source %d is already queued or fetching", id)
	}

	if !s.queue.Enqueue(id) {
		if err := s.store.RevertSourceQueued(id); err != nil {
			s.log.Error().Err(err).Int64("source_id", id).Msg("reverting queued source")
		}
		return fmt.Errorf("fetch queue is full, try again later")
	}
	return nil
}
