// Package feed fetches subscription feeds and normalizes their entries.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/notifyhub/feeddigest/internal/domain"
)

// Entry is one feed item as discovered, before filtering.
type Entry struct {
	Title       string
	Link        string
	PublishedAt time.Time
}

// Fetcher returns a source's current entries in feed order, which for every
// supported feed is newest first.
type Fetcher interface {
	Fetch(ctx context.Context, key domain.QueueKey) ([]Entry, error)
}

// HTTPFetcher resolves a source key against a feed gateway base URL
// (an RSSHub instance by default) and parses RSS, Atom, or JSON Feed.
type HTTPFetcher struct {
	baseURL string
	parser  *gofeed.Parser
}

func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	p := gofeed.NewParser()
	p.Client = &http.Client{Timeout: timeout}
	p.UserAgent = "feeddigest/1.0"
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &HTTPFetcher{baseURL: baseURL, parser: p}
}

// URL returns the feed address for key.
func (f *HTTPFetcher) URL(key domain.QueueKey) (string, error) {
	k := strings.TrimLeft(string(key), "/")
	if strings.HasPrefix(k, "http://") || strings.HasPrefix(k, "https://") {
		return k, nil
	}
	u, err := url.Parse(f.baseURL + k)
	if err != nil {
		return "", fmt.Errorf("build feed url for %q: %w", key, err)
	}
	return u.String(), nil
}

// Fetch downloads and parses the feed for key. Entries without a link or a
// parseable date are dropped; the updated date stands in for a missing
// published date.
func (f *HTTPFetcher) Fetch(ctx context.Context, key domain.QueueKey) ([]Entry, error) {
	feedURL, err := f.URL(key)
	if err != nil {
		return nil, err
	}
	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil || strings.TrimSpace(it.Link) == "" {
			continue
		}
		published := it.PublishedParsed
		if published == nil {
			published = it.UpdatedParsed
		}
		if published == nil {
			continue
		}
		entries = append(entries, Entry{
			Title:       strings.TrimSpace(it.Title),
			Link:        strings.TrimSpace(it.Link),
			PublishedAt: published.UTC(),
		})
	}
	return entries, nil
}

// compile-time check that HTTPFetcher implements Fetcher
var _ Fetcher = (*HTTPFetcher)(nil)
