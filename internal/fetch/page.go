package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/driftline/driftline/internal/store"
)

// PageFetcher monitors plain web pages. Each fetch extracts the readable
// text and yields at most one candidate whose guid is a digest of that text,
// so an unchanged page dedupes to nothing and a changed page becomes a new
// item.
type PageFetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	log       zerolog.Logger
}

// NewPageFetcher creates a page fetcher using the shared HTTP client.
func NewPageFetcher(client *http.Client, limiter *rate.Limiter, userAgent string, log zerolog.Logger) *PageFetcher {
	return &PageFetcher{client: client, limiter: limiter, userAgent: userAgent, log: log}
}

// Validate fetches the page and returns its extracted title.
func (p *PageFetcher) Validate(ctx context.Context, address string) (string, error) {
	article, err := p.extract(ctx, address)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(article.Title), nil
}

// Fetch returns the page's current readable content as a single candidate.
func (p *PageFetcher) Fetch(ctx context.Context, address string) ([]store.CandidateItem, error) {
	article, err := p.extract(ctx, address)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) < 100 {
		return nil, fmt.Errorf("no extractable content at %s", address)
	}

	digest := sha256.Sum256([]byte(text))
	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = address
	}

	return []store.CandidateItem{{
		GUID:    hex.EncodeToString(digest[:16]),
		Title:   title,
		Link:    address,
		Content: text,
	}}, nil
}

func (p *PageFetcher) extract(ctx context.Context, address string) (readability.Article, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return readability.Article{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return readability.Article{}, err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return readability.Article{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readability.Article{}, fmt.Errorf("fetching %s: %s", address, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return readability.Article{}, err
	}

	parsedURL, _ := url.Parse(address)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return readability.Article{}, fmt.Errorf("extracting content: %w", err)
	}
	return article, nil
}
