package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
)

// Tavily calls the Tavily search API.
type Tavily struct {
	apiKey     string
	maxResults int
	client     *http.Client
	baseURL    string
}

// NewTavily constructs a Tavily search provider. A nil client gets a default
// one; per-call deadlines come from the caller's context.
func NewTavily(apiKey string, maxResults int, client *http.Client) *Tavily {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Tavily{apiKey: apiKey, maxResults: maxResults, client: client, baseURL: "https://api.tavily.com/search"}
}

func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	Query         string `json:"query"`
	Topic         string `json:"topic"`
	MaxResults    int    `json:"max_results"`
	TimeRange     string `json:"time_range,omitempty"`
	StartDate     string `json:"start_date,omitempty"`
	EndDate       string `json:"end_date,omitempty"`
	IncludeImages bool   `json:"include_images"`
}

type tavilyResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
	} `json:"results"`
	Images []string `json:"images"`
}

// Search posts a query to Tavily.
func (t *Tavily) Search(ctx context.Context, query string, freshness newsletter.Freshness) ([]Result, error) {
	if strings.TrimSpace(t.apiKey) == "" {
		return nil, newsletter.FatalError(t.Name(), 0, errors.New("API key is missing"))
	}

	body := tavilyRequest{
		Query:         query,
		Topic:         "news",
		MaxResults:    t.maxResults,
		IncludeImages: true,
	}
	switch {
	case !freshness.Date.IsZero():
		body.StartDate = freshness.Date.Format(newsletter.DateLayout)
		body.EndDate = freshness.Date.Format(newsletter.DateLayout)
	case freshness.Range != "":
		body.TimeRange = rangeWord(freshness.Range)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, newsletter.FatalError(t.Name(), 0, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, newsletter.FatalError(t.Name(), 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, t.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, classifyStatus(t.Name(), resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, newsletter.TransientError(t.Name(), resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}

	results := make([]Result, 0, len(decoded.Results))
	for i, r := range decoded.Results {
		res := Result{
			URL:         r.URL,
			Title:       r.Title,
			Snippet:     r.Content,
			Score:       r.Score,
			PublishedAt: parseLooseDate(r.PublishedDate),
		}
		if i < len(decoded.Images) {
			res.ImageURL = decoded.Images[i]
		}
		results = append(results, res)
		if len(results) >= t.maxResults {
			break
		}
	}
	return results, nil
}

// rangeWord maps a DateRange onto the day/week/month/year vocabulary shared
// by several providers.
func rangeWord(r newsletter.DateRange) string {
	switch r {
	case newsletter.PastDay:
		return "day"
	case newsletter.PastWeek:
		return "week"
	case newsletter.PastMonth:
		return "month"
	case newsletter.PastYear:
		return "year"
	}
	return ""
}

var looseDateLayouts = []string{
	time.RFC3339,
	time.RFC1123,
	time.RFC1123Z,
	"Mon, 02 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseLooseDate parses the date formats providers commonly return and
// yields the zero time when none match.
func parseLooseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range looseDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
