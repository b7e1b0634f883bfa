package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/driftline/driftline/internal/store"
)

const maxPerFeed = 50

// FeedFetcher retrieves RSS/Atom feeds.
type FeedFetcher struct {
	parser  *gofeed.Parser
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewFeedFetcher creates a feed fetcher using the shared HTTP client.
func NewFeedFetcher(client *http.Client, limiter *rate.Limiter, userAgent string, log zerolog.Logger) *FeedFetcher {
	parser := gofeed.NewParser()
	parser.Client = client
	if userAgent != "" {
		parser.UserAgent = userAgent
	}
	return &FeedFetcher{parser: parser, limiter: limiter, log: log}
}

// Validate parses the feed and returns its title.
func (f *FeedFetcher) Validate(ctx context.Context, address string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}
	feed, err := f.parser.ParseURLWithContext(address, ctx)
	if err != nil {
		return "", fmt.Errorf("parsing feed: %w", err)
	}
	return strings.TrimSpace(feed.Title), nil
}

// Fetch returns candidate items from the feed, newest entries first as the
// feed presents them, capped at maxPerFeed.
func (f *FeedFetcher) Fetch(ctx context.Context, address string, since *time.Time) ([]store.CandidateItem, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	feed, err := f.parser.ParseURLWithContext(address, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	var items []store.CandidateItem
	for _, entry := range feed.Items {
		if len(items) >= maxPerFeed {
			break
		}
		c := candidateFromEntry(entry)
		if c == nil {
			continue
		}
		if since != nil && c.PublishedAt != nil && c.PublishedAt.Before(*since) {
			continue
		}
		items = append(items, *c)
	}
	return items, nil
}

func candidateFromEntry(entry *gofeed.Item) *store.CandidateItem {
	guid := entry.GUID
	if guid == "" {
		guid = entry.Link
	}
	if guid == "" {
		return nil
	}

	title := strings.TrimSpace(entry.Title)
	if title == "" {
		return nil
	}

	var publishedAt *time.Time
	if entry.PublishedParsed != nil {
		publishedAt = entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		publishedAt = entry.UpdatedParsed
	}

	var author string
	if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		author = entry.Authors[0].Name
	}

	var content string
	if entry.Content != "" {
		content = stripHTML(entry.Content)
	} else if entry.Description != "" {
		content = stripHTML(entry.Description)
	}

	return &store.CandidateItem{
		GUID:        guid,
		Title:       title,
		Link:        entry.Link,
		Author:      author,
		PublishedAt: publishedAt,
		Content:     content,
	}
}

// stripHTML removes tags without pulling in a full HTML parser; feed bodies
// only need to be readable prompt input, not rendered.
func stripHTML(text string) string {
	var result strings.Builder
	inTag := false
	for _, r := range text {
		if r == '<' {
			inTag = true
			result.WriteRune(' ')
			continue
		}
		if r == '>' {
			inTag = false
			continue
		}
		if !inTag {
			result.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(result.String()), " ")
}
