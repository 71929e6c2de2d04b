package llm

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

const (
	anthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion  = "2023-06-01"
	defaultModel      = "claude-sonnet-4-20250514"
)

// Anthropic uses the Anthropic Messages API.
type Anthropic struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

func NewAnthropic(opts Options) *Anthropic {
	a := &Anthropic{
		apiKey:   opts.APIKey,
		model:    opts.Model,
		endpoint: opts.Endpoint,
		client:   opts.Client,
	}
	if a.model == "" {
		a.model = defaultModel
	}
	if a.endpoint == "" {
		a.endpoint = anthropicEndpoint
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: 120 * time.Second}
	}
	return a
}

// Anthropic API request/response types

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Generate sends a single user message and returns the first text block.
func (a *Anthropic) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if strings.TrimSpace(a.apiKey) == "" {
		return "", newsletter.FatalError("anthropic", 0, errors.New("API key is missing"))
	}

	jsonData, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", newsletter.FatalError("anthropic", 0, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", newsletter.FatalError("anthropic", 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", classifyTransport(ctx, "anthropic", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransport(ctx, "anthropic", fmt.Errorf("failed to read response: %w", err))
	}

	var apiResp anthropicResponse
	jsonErr := json.Unmarshal(respBody, &apiResp)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(respBody))
		if jsonErr == nil && apiResp.Error != nil {
			msg = apiResp.Error.Type + " - " + apiResp.Error.Message
		}
		return "", classifyStatus("anthropic", resp.StatusCode, msg)
	}
	if jsonErr != nil {
		return "", newsletter.TransientError("anthropic", resp.StatusCode, fmt.Errorf("failed to parse response: %w", jsonErr))
	}
	if apiResp.Error != nil {
		// "overloaded_error" arrives in-band on some gateways.
		err := fmt.Errorf("API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
		if apiResp.Error.Type == "overloaded_error" || apiResp.Error.Type == "rate_limit_error" {
			return "", newsletter.TransientError("anthropic", resp.StatusCode, err)
		}
		return "", newsletter.FatalError("anthropic", resp.StatusCode, err)
	}

	for _, c := range apiResp.Content {
		if c.Type == "" || c.Type == "text" {
			return c.Text, nil
		}
	}
	return "", newsletter.TransientError("anthropic", resp.StatusCode, errors.New("empty response"))
}
