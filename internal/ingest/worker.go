package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftline/driftline/internal/store"
)

// Fetcher retrieves candidate items from a source's address.
type Fetcher interface {
	Fetch(ctx context.Context, src store.Source, since *time.Time) ([]store.CandidateItem, error)
}

// Worker processes one queued source per invocation.
type Worker struct {
	store   *store.Store
	fetcher Fetcher
	log     zerolog.Logger
	now     func() time.Time
}

// NewWorker creates a fetch worker.
func NewWorker(st *store.Store, f Fetcher, log zerolog.Logger) *Worker {
	return &Worker{
		store:   st,
		fetcher: f,
		log:     log.With().Str("component", "fetch_worker").Logger(),
		now:     time.Now,
	}
}

// Process handles a single source ID taken off the fetch queue.
func (w *Worker) Process(ctx context.Context, sourceID int64) {
	src, err := w.store.GetSource(sourceID)
	if err != nil {
		w.log.Error().Err(err).Int64("source_id", sourceID).Msg("loading source")
		return
	}
	if src == nil {
		return
	}
	if src.Status == store.SourcePaused || src.Status == store.SourceDeleted {
		// Paused or removed after it was queued; release the claim without
		// fetching so it is not left stuck in QUEUED.
		if err := w.store.RevertSourceQueued(sourceID); err != nil {
			w.log.Error().Err(err).Int64("source_id", sourceID).Msg("releasing skipped source")
		}
		return
	}

	ok, err := w.store.MarkSourceFetching(sourceID, w.now())
	if err != nil {
		w.log.Error().Err(err).Int64("source_id", sourceID).Msg("marking source fetching")
		return
	}
	if !ok {
		// Recovery or a concurrent worker already moved it on.
		return
	}

	candidates, err := w.fetcher.Fetch(ctx, *src, src.LastFetchedAt)
	if err != nil {
		w.log.Warn().Err(err).Int64("source_id", sourceID).Str("address", src.Address).Msg("fetch failed")
		if serr := w.store.FailSourceFetch(sourceID, err.Error(), w.now()); serr != nil {
			w.log.Error().Err(serr).Int64("source_id", sourceID).Msg("recording fetch failure")
		}
		return
	}

	inserted := 0
	for _, c := range candidates {
		if c.GUID == "" {
			continue
		}
		isNew, err := w.store.InsertItem(sourceID, c)
		if err != nil {
			w.log.Error().Err(err).Int64("source_id", sourceID).Str("guid", c.GUID).Msg("inserting item")
			continue
		}
		if isNew {
			inserted++
		}
	}

	if err := w.store.CompleteSourceFetch(sourceID, w.now()); err != nil {
		w.log.Error().Err(err).Int64("source_id", sourceID).Msg("completing fetch")
		return
	}
	w.log.Info().
		Int64("source_id", sourceID).
		Int("found", len(candidates)).
		Int("new", inserted).
		Msg("source fetched")
}
