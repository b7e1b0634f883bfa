package briefing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftline/driftline/internal/store"
)

const defaultMaxItems = 10

// Executor turns one due briefing into a stored report.
type Executor struct {
	store *store.Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewExecutor creates a briefing executor.
func NewExecutor(st *store.Store, log zerolog.Logger) *Executor {
	return &Executor{
		store: st,
		log:   log.With().Str("component", "briefing_executor").Logger(),
		now:   time.Now,
	}
}

// Execute runs a briefing: it gathers the top processed items from the
// briefing's sources since its last run, composes a report, and stamps the
// execution time. A run with no matching items still produces a report and
// advances last_executed_at, so a quiet period is recorded rather than
// retried forever.
func (e *Executor) Execute(b store.Briefing) (*store.Report, error) {
	now := e.now()

	sourceIDs, err := e.store.BriefingSourceIDs(b.ID)
	if err != nil {
		return nil, fmt.Errorf("briefing %d: loading sources: %w", b.ID, err)
	}

	since := e.windowStart(b, now)
	maxItems := b.MaxItems
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}

	var items []store.Item
	if len(sourceIDs) > 0 {
		items, err = e.store.ProcessedItemsSince(sourceIDs, since, maxItems)
		if err != nil {
			return nil, fmt.Errorf("briefing %d: selecting items: %w", b.ID, err)
		}
	}

	report := &store.Report{
		ID:           uuid.NewString(),
		BriefingID:   b.ID,
		AccountID:    b.AccountID,
		Title:        reportTitle(b, now),
		BodyMarkdown: composeBody(b, items, since, now),
		ItemCount:    len(items),
		GeneratedAt:  now,
	}
	if err := e.store.SaveReport(*report); err != nil {
		return nil, fmt.Errorf("briefing %d: saving report: %w", b.ID, err)
	}
	if err := e.store.UpdateBriefingExecuted(b.ID, now); err != nil {
		return nil, fmt.Errorf("briefing %d: stamping execution: %w", b.ID, err)
	}

	e.log.Info().
		Int64("briefing_id", b.ID).
		Str("report_id", report.ID).
		Int("items", len(items)).
		Msg("briefing executed")
	return report, nil
}

// windowStart picks the start of the item window: the last execution when
// one exists, otherwise one full cadence period back.
func (e *Executor) windowStart(b store.Briefing, now time.Time) time.Time {
	if b.LastExecutedAt != nil {
		return *b.LastExecutedAt
	}
	if b.Cadence == store.CadenceWeekly {
		return now.AddDate(0, 0, -7)
	}
	return now.AddDate(0, 0, -1)
}

func reportTitle(b store.Briefing, now time.Time) string {
	when := now
	if loc, err := time.LoadLocation(b.Timezone); err == nil {
		when = now.In(loc)
	}
	return fmt.Sprintf("%s, %s", b.Name, when.Format("Monday 2 January 2006"))
}

func composeBody(b store.Briefing, items []store.Item, since, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", reportTitle(b, now))
	fmt.Fprintf(&sb, "Covering %s to %s.\n\n",
		since.UTC().Format("2006-01-02 15:04 MST"),
		now.UTC().Format("2006-01-02 15:04 MST"))

	if len(items) == 0 {
		sb.WriteString("No new items in this period.\n")
		return sb.String()
	}

	for _, item := range items {
		fmt.Fprintf(&sb, "## %s\n\n", item.Title)
		if item.Link != "" {
			fmt.Fprintf(&sb, "[Read more](%s)\n\n", item.Link)
		}
		if item.Score != nil {
			fmt.Fprintf(&sb, "Relevance: %.1f/10", *item.Score)
			if item.Sentiment != nil {
				fmt.Fprintf(&sb, " | Sentiment: %s", *item.Sentiment)
			}
			sb.WriteString("\n\n")
		}
		if item.Summary != nil && *item.Summary != "" {
			fmt.Fprintf(&sb, "%s\n\n", *item.Summary)
		}
		if len(item.Tags) > 0 {
			fmt.Fprintf(&sb, "Tags: %s\n\n", strings.Join(item.Tags, ", "))
		}
	}
	return sb.String()
}
