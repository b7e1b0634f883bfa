package store

import "time"

// SourceStatus is the operational status of a source. It is independent of
// the fetch lifecycle: a paused source keeps whatever fetch state it had.
type SourceStatus string

const (
	SourceActive  SourceStatus = "active"
	SourcePaused  SourceStatus = "paused"
	SourceError   SourceStatus = "error"
	SourceDeleted SourceStatus = "deleted"
)

// FetchStatus is the fetch lifecycle state of a source.
type FetchStatus string

const (
	FetchIdle     FetchStatus = "idle"
	FetchQueued   FetchStatus = "queued"
	FetchFetching FetchStatus = "fetching"
)

// SourceKind selects which fetch collaborator handles a source.
type SourceKind string

const (
	KindFeed SourceKind = "feed"
	KindPage SourceKind = "page"
)

// ItemStatus is the processing lifecycle state of an item.
// "summarized" means enrichment output is stored but the credit decrement
// was deferred; the item is re-selected once the account has balance again.
// "processed" and "error" are terminal.
type ItemStatus string

const (
	ItemNew        ItemStatus = "new"
	ItemSummarized ItemStatus = "summarized"
	ItemProcessed  ItemStatus = "processed"
	ItemError      ItemStatus = "error"
)

// Cadence is how often a briefing runs.
type Cadence string

const (
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

// BriefingStatus is the operational status of a briefing.
type BriefingStatus string

const (
	BriefingActive BriefingStatus = "active"
	BriefingPaused BriefingStatus = "paused"
)

// Source is a polling target (feed or page) owned by an account.
type Source struct {
	ID                     int64
	AccountID              int64
	Name                   string
	Kind                   SourceKind
	Address                string
	Status                 SourceStatus
	FetchStatus            FetchStatus
	RefreshIntervalMinutes int
	LastFetchedAt          *time.Time
	LastError              *string
	QueuedAt               *time.Time
	FetchStartedAt         *time.Time
	CreatedAt              time.Time
}

// Item is a unit of ingested content derived from a source.
type Item struct {
	ID          int64
	SourceID    int64
	AccountID   int64 // joined from the owning source
	GUID        string
	Title       string
	Link        string
	Author      *string
	PublishedAt *time.Time
	Content     *string
	Status      ItemStatus
	Summary     *string
	Tags        []string
	Sentiment   *string
	Score       *float64
	Reasoning   *string
	RetryCount  int
	LastError   *string
	QueuedAt    *time.Time
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

// CandidateItem is what a fetch collaborator found at a source.
type CandidateItem struct {
	GUID        string
	Title       string
	Link        string
	Author      string
	PublishedAt *time.Time
	Content     string
}

// Enrichment is the persisted output of an AI enrichment call.
type Enrichment struct {
	Summary   string
	Tags      []string
	Sentiment string
	Score     float64
	Reasoning string
}

// Briefing is a recurring delivery configuration for an account.
type Briefing struct {
	ID             int64
	AccountID      int64
	Name           string
	Cadence        Cadence
	ScheduleTime   string // "HH:MM" in the briefing's timezone
	Timezone       string // IANA name, e.g. "Europe/Berlin"
	DayOfWeek      *int   // 0=Sunday..6=Saturday, weekly only
	Criteria       *string
	MaxItems       int
	Status         BriefingStatus
	LastExecutedAt *time.Time
	CreatedAt      time.Time
}

// Report is a generated briefing run.
type Report struct {
	ID           string // UUID
	BriefingID   int64
	AccountID    int64
	Title        string
	BodyMarkdown string
	ItemCount    int
	GeneratedAt  time.Time
}

// Stats contains aggregate counts for the status surface.
type Stats struct {
	Sources          int
	SourcesFetching  int
	SourcesQueued    int
	SourcesError     int
	Items            int
	ItemsNew         int
	ItemsProcessed   int
	ItemsError       int
	Briefings        int
	Reports          int
	CreditedAccounts int
}
