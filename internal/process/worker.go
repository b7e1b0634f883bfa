package process

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftline/driftline/internal/enrich"
	"github.com/driftline/driftline/internal/store"
)

// Enricher produces structured analysis for one item's content.
type Enricher interface {
	EnrichWithScore(ctx context.Context, req enrich.Request) (*enrich.Result, error)
}

// Worker processes one queued item per invocation.
type Worker struct {
	store      *store.Store
	enricher   Enricher
	maxRetries int
	log        zerolog.Logger
	now        func() time.Time
}

// NewWorker creates a processing worker.
func NewWorker(st *store.Store, e Enricher, maxRetries int, log zerolog.Logger) *Worker {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Worker{
		store:      st,
		enricher:   e,
		maxRetries: maxRetries,
		log:        log.With().Str("component", "processing_worker").Logger(),
		now:        time.Now,
	}
}

// Process handles a single item ID taken off the processing queue.
func (w *Worker) Process(ctx context.Context, itemID int64) {
	item, err := w.store.GetItem(itemID)
	if err != nil {
		w.log.Error().Err(err).Int64("item_id", itemID).Msg("loading item")
		return
	}
	if item == nil {
		return
	}
	if item.Status != store.ItemNew && item.Status != store.ItemSummarized {
		// Raced with another worker or a manual state change.
		if err := w.store.ClearItemQueued(itemID); err != nil {
			w.log.Error().Err(err).Int64("item_id", itemID).Msg("releasing stale item")
		}
		return
	}

	if item.Status == store.ItemSummarized {
		// Enrichment already ran; only the deferred charge is outstanding.
		charged, err := w.store.ChargeProcessedItem(itemID, item.AccountID, w.now())
		if err != nil {
			w.log.Error().Err(err).Int64("item_id", itemID).Msg("charging summarized item")
			return
		}
		if !charged {
			w.log.Debug().Int64("item_id", itemID).Int64("account_id", item.AccountID).Msg("account balance exhausted, item stays summarized")
		}
		return
	}

	content := ""
	if item.Content != nil {
		content = *item.Content
	}
	result, err := w.enricher.EnrichWithScore(ctx, enrich.Request{
		AccountID: item.AccountID,
		Title:     item.Title,
		Content:   content,
	})
	if err != nil {
		terminal, ferr := w.store.FailItemEnrichment(itemID, err.Error(), w.maxRetries)
		if ferr != nil {
			w.log.Error().Err(ferr).Int64("item_id", itemID).Msg("recording enrichment failure")
			return
		}
		evt := w.log.Warn().Err(err).Int64("item_id", itemID)
		if terminal {
			evt.Msg("enrichment failed, retries exhausted")
		} else {
			evt.Msg("enrichment failed, will retry")
		}
		return
	}

	charged, err := w.store.FinishItemEnrichment(itemID, item.AccountID, store.Enrichment{
		Summary:   result.Summary,
		Tags:      result.Tags,
		Sentiment: result.Sentiment,
		Score:     result.Score,
		Reasoning: result.Reasoning,
	}, w.now())
	if err != nil {
		w.log.Error().Err(err).Int64("item_id", itemID).Msg("persisting enrichment")
		return
	}
	if charged {
		w.log.Info().Int64("item_id", itemID).Float64("score", result.Score).Msg("item processed")
	} else {
		// The account spent its last credit between the tick's gate check and
		// now. Output is kept; the charge is retried on a later tick.
		w.log.Info().Int64("item_id", itemID).Int64("account_id", item.AccountID).Msg("item summarized, charge deferred")
	}
}
