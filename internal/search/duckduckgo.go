package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DuckDuckGo scrapes DuckDuckGo's lite HTML interface. It needs no API key.
type DuckDuckGo struct {
	maxResults int
	client     *http.Client
	baseURL    string
}

// NewDuckDuckGo creates a DuckDuckGo searcher.
func NewDuckDuckGo(maxResults int, client *http.Client) *DuckDuckGo {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &DuckDuckGo{maxResults: maxResults, client: client, baseURL: "https://lite.duckduckgo.com/lite/"}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search posts the query to the lite endpoint and parses the result table.
func (d *DuckDuckGo) Search(ctx context.Context, query string, freshness newsletter.Freshness) ([]Result, error) {
	form := url.Values{}
	form.Set("q", query)
	if df := ddgFreshness(freshness); df != "" {
		form.Set("df", df)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, newsletter.FatalError(d.Name(), 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, d.Name(), err)
	}
	defer resp.Body.Close()

	// DuckDuckGo answers 202 with a challenge page when it throttles.
	if resp.StatusCode == http.StatusAccepted {
		return nil, newsletter.TransientError(d.Name(), resp.StatusCode, fmt.Errorf("rate limited"))
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, classifyStatus(d.Name(), resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, newsletter.TransientError(d.Name(), resp.StatusCode, fmt.Errorf("parse html: %w", err))
	}

	return d.parse(doc), nil
}

func (d *DuckDuckGo) parse(doc *goquery.Document) []Result {
	var snippets []string
	doc.Find("td.result-snippet").Each(func(_ int, s *goquery.Selection) {
		snippets = append(snippets, strings.TrimSpace(s.Text()))
	})

	var results []Result
	doc.Find("a.result-link").EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		target := resolveRedirect(href)
		if target == "" {
			return true
		}
		res := Result{URL: target, Title: strings.TrimSpace(s.Text())}
		if i < len(snippets) {
			res.Snippet = snippets[i]
		}
		results = append(results, res)
		return len(results) < d.maxResults
	})
	return results
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") && strings.HasPrefix(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func ddgFreshness(f newsletter.Freshness) string {
	if !f.Date.IsZero() {
		// No single-day filter on the lite endpoint; the date travels in
		// the query text instead.
		return ""
	}
	switch f.Range {
	case newsletter.PastDay:
		return "d"
	case newsletter.PastWeek:
		return "w"
	case newsletter.PastMonth:
		return "m"
	case newsletter.PastYear:
		return "y"
	}
	return ""
}
