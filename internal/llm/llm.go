// Package llm holds the text generation clients used by the summarizer.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
	"github.com/ryosukesatoh/daily-brief/internal/retry"
)

// Generator turns a prompt into model text. Implementations report failures
// as *newsletter.ProviderError.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Options configures a Generator.
type Options struct {
	APIKey   string
	Model    string
	Endpoint string
	Client   *http.Client
}

// ErrUnsupportedProvider is returned when an unsupported provider is specified
var ErrUnsupportedProvider = fmt.Errorf("unsupported llm provider")

// New creates a generator by provider name.
func New(provider string, opts Options) (Generator, error) {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 120 * time.Second}
	}
	switch provider {
	case "", "anthropic":
		return NewAnthropic(opts), nil
	case "openai":
		return NewOpenAI(opts), nil
	default:
		return nil, fmt.Errorf("llm: %w %q", ErrUnsupportedProvider, provider)
	}
}

func classifyStatus(provider string, status int, msg string) error {
	err := fmt.Errorf("unexpected status %d: %s", status, msg)
	if retry.HTTPStatusRetryable(status) {
		return newsletter.TransientError(provider, status, err)
	}
	return newsletter.FatalError(provider, status, err)
}

func classifyTransport(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
		return ctx.Err()
	}
	return newsletter.TransientError(provider, 0, err)
}
