// Package search issues web searches through a pluggable Provider and turns
// the raw results into SourceRecords.
package search

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
	"github.com/ryosukesatoh/daily-brief/internal/retry"
)

// Result is one raw hit returned by a Provider.
type Result struct {
	URL         string
	Title       string
	Snippet     string
	PublishedAt time.Time
	ImageURL    string
	// Score is the provider's relevance score when it reports one.
	Score float64
}

// Provider executes a query against a web search service. Implementations
// report failures as *newsletter.ProviderError so callers can tell
// transient failures from fatal ones.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, freshness newsletter.Freshness) ([]Result, error)
}

// New creates a provider by name.
func New(name, apiKey string, maxResults int, client *http.Client) (Provider, error) {
	switch name {
	case "", "duckduckgo":
		return NewDuckDuckGo(maxResults, client), nil
	case "tavily":
		return NewTavily(apiKey, maxResults, client), nil
	case "brave":
		return NewBrave(apiKey, maxResults, client), nil
	default:
		return nil, fmt.Errorf("search: %w %q", ErrUnsupportedProvider, name)
	}
}

// ErrUnsupportedProvider is returned when an unsupported provider is specified
var ErrUnsupportedProvider = fmt.Errorf("unsupported search provider")

// classifyStatus maps an HTTP status to a provider error.
func classifyStatus(provider string, status int, body string) error {
	err := fmt.Errorf("unexpected status %d: %s", status, body)
	if retry.HTTPStatusRetryable(status) {
		return newsletter.TransientError(provider, status, err)
	}
	return newsletter.FatalError(provider, status, err)
}

// classifyTransport maps a transport failure to a provider error. Parent
// context cancellation is returned untouched.
func classifyTransport(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
		return ctx.Err()
	}
	return newsletter.TransientError(provider, 0, err)
}
