// Package fetch retrieves candidate items from external sources. Feeds go
// through gofeed, plain pages through readability extraction. All outbound
// requests share one HTTP client and one rate limiter.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/store"
)

// Client dispatches fetches to the right collaborator by source kind.
type Client struct {
	feeds *FeedFetcher
	pages *PageFetcher
}

// NewClient builds the fetch client from configuration.
func NewClient(cfg config.Fetch, log zerolog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	httpClient := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 1)

	flog := log.With().Str("component", "fetch").Logger()
	return &Client{
		feeds: NewFeedFetcher(httpClient, limiter, cfg.UserAgent, flog),
		pages: NewPageFetcher(httpClient, limiter, cfg.UserAgent, flog),
	}
}

// Validate checks that an address is fetchable and returns its title.
func (c *Client) Validate(ctx context.Context, kind store.SourceKind, address string) (string, error) {
	switch kind {
	case store.KindFeed:
		return c.feeds.Validate(ctx, address)
	case store.KindPage:
		return c.pages.Validate(ctx, address)
	default:
		return "", fmt.Errorf("unknown source kind %q", kind)
	}
}

// Fetch retrieves candidate items for a source. since, when set, bounds the
// result to items published after it; collaborators are not required to
// filter perfectly because ingest dedupes on (source, guid) anyway.
func (c *Client) Fetch(ctx context.Context, src store.Source, since *time.Time) ([]store.CandidateItem, error) {
	switch src.Kind {
	case store.KindFeed:
		return c.feeds.Fetch(ctx, src.Address, since)
	case store.KindPage:
		return c.pages.Fetch(ctx, src.Address)
	default:
		return nil, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}
