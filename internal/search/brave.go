package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
)

// Brave uses the Brave Search API. An API key is required via X-Subscription-Token.
type Brave struct {
	apiKey     string
	maxResults int
	client     *http.Client
	baseURL    string
}

// NewBrave constructs a Brave search provider.
func NewBrave(apiKey string, maxResults int, client *http.Client) *Brave {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Brave{apiKey: apiKey, maxResults: maxResults, client: client, baseURL: "https://api.search.brave.com/res/v1/web/search"}
}

func (b *Brave) Name() string { return "brave" }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			PageAge     string `json:"page_age"`
			Thumbnail   struct {
				Src string `json:"src"`
			} `json:"thumbnail"`
		} `json:"results"`
	} `json:"web"`
}

// Search executes a Brave query.
func (b *Brave) Search(ctx context.Context, query string, freshness newsletter.Freshness) ([]Result, error) {
	if strings.TrimSpace(b.apiKey) == "" {
		return nil, newsletter.FatalError(b.Name(), 0, errors.New("API key is missing"))
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(b.maxResults))
	if f := braveFreshness(freshness); f != "" {
		params.Set("freshness", f)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, newsletter.FatalError(b.Name(), 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, b.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, classifyStatus(b.Name(), resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, newsletter.TransientError(b.Name(), resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}

	results := make([]Result, 0, len(decoded.Web.Results))
	for _, r := range decoded.Web.Results {
		results = append(results, Result{
			URL:         r.URL,
			Title:       r.Title,
			Snippet:     r.Description,
			PublishedAt: parseLooseDate(r.PageAge),
			ImageURL:    r.Thumbnail.Src,
		})
		if len(results) >= b.maxResults {
			break
		}
	}
	return results, nil
}

// braveFreshness renders the constraint as Brave's freshness parameter:
// pd/pw/pm/py or an explicit YYYY-MM-DDtoYYYY-MM-DD window.
func braveFreshness(f newsletter.Freshness) string {
	if !f.Date.IsZero() {
		day := f.Date.Format(newsletter.DateLayout)
		return day + "to" + day
	}
	switch f.Range {
	case newsletter.PastDay:
		return "pd"
	case newsletter.PastWeek:
		return "pw"
	case newsletter.PastMonth:
		return "pm"
	case newsletter.PastYear:
		return "py"
	}
	return ""
}
