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
	openAIEndpoint = "https://api.openai.com/v1/chat/completions"
	openAIModel    = "gpt-4o-mini"
	systemPrompt   = "You are a careful news editor. Answer only with the JSON object requested."
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

func NewOpenAI(opts Options) *OpenAI {
	o := &OpenAI{
		apiKey:   opts.APIKey,
		model:    opts.Model,
		endpoint: opts.Endpoint,
		client:   opts.Client,
	}
	if o.model == "" {
		o.model = openAIModel
	}
	if o.endpoint == "" {
		o.endpoint = openAIEndpoint
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: 120 * time.Second}
	}
	return o
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate posts the prompt as a user message.
func (o *OpenAI) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if o.apiKey == "" {
		return "", newsletter.FatalError("openai", 0, errors.New("client misconfigured: API key is missing"))
	}

	body, err := json.Marshal(map[string]any{
		"model":      o.model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return "", newsletter.FatalError("openai", 0, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", newsletter.FatalError("openai", 0, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", classifyTransport(ctx, "openai", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", classifyStatus("openai", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", newsletter.TransientError("openai", resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if len(decoded.Choices) == 0 {
		return "", newsletter.TransientError("openai", resp.StatusCode, errors.New("no choices in response"))
	}
	return decoded.Choices[0].Message.Content, nil
}
