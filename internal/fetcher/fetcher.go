// Package fetcher downloads source pages and extracts their readable text.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
)

const (
	// DefaultTimeout bounds a single page download.
	DefaultTimeout = 15 * time.Second
	maxPageBytes   = 4 << 20
	userAgent      = "Mozilla/5.0 (compatible; daily-brief/1.0)"
)

// PageFetcher enriches search records with the full article text.
type PageFetcher struct {
	client  *http.Client
	timeout time.Duration
}

func NewPageFetcher(client *http.Client, timeout time.Duration) *PageFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &PageFetcher{client: client, timeout: timeout}
}

// Enrich downloads rec.URL and returns a copy of rec with the read time
// recomputed from the full text, a longer snippet and a filled-in image.
// On failure the original record is returned together with the error.
func (f *PageFetcher) Enrich(ctx context.Context, rec newsletter.SourceRecord) (newsletter.SourceRecord, error) {
	pageURL, err := url.Parse(rec.URL)
	if err != nil {
		return rec, fmt.Errorf("fetcher: invalid url %q: %w", rec.URL, err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.URL, nil)
	if err != nil {
		return rec, fmt.Errorf("fetcher: failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return rec, fmt.Errorf("fetcher: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rec, fmt.Errorf("fetcher: unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return rec, fmt.Errorf("fetcher: unsupported content type %q", ct)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxPageBytes), pageURL)
	if err != nil {
		return rec, fmt.Errorf("fetcher: failed to parse article: %w", err)
	}

	text := strings.Join(strings.Fields(article.TextContent), " ")
	if text == "" {
		return rec, fmt.Errorf("fetcher: no readable text at %s", rec.URL)
	}

	out := rec
	out.EstimatedReadMinutes = newsletter.EstimateReadMinutes(text)
	if excerpt := strings.TrimSpace(article.Excerpt); excerpt != "" && !strings.HasPrefix(text, excerpt) {
		text = excerpt + " " + text
	}
	if len(text) > len(out.Snippet) {
		out.Snippet = text
	}
	if out.ImageURL == "" {
		out.ImageURL = article.Image
	}
	if out.Title == "" {
		out.Title = strings.TrimSpace(article.Title)
	}
	return out, nil
}
