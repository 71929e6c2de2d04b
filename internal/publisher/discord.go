package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
	"github.com/ryosukesatoh/daily-brief/internal/render"
	"github.com/ryosukesatoh/daily-brief/internal/retry"
)

type discordEmbedFooter struct {
	Text string `json:"text"`
}

type discordEmbedImage struct {
	URL string `json:"url"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	URL         string              `json:"url,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
	Thumbnail   *discordEmbedImage  `json:"thumbnail,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

type discordWebhookPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordPublisher publishes issues to a Discord channel via webhook.
type DiscordPublisher struct {
	webhookURL  string
	client      *http.Client
	retryConfig retry.Config
}

// NewDiscordPublisher creates a new DiscordPublisher.
func NewDiscordPublisher(webhookURL string, cfg retry.Config) *DiscordPublisher {
	return &DiscordPublisher{
		webhookURL:  webhookURL,
		client:      &http.Client{Timeout: 30 * time.Second},
		retryConfig: cfg,
	}
}

// Publish sends the issue to Discord as a series of rich embeds.
func (d *DiscordPublisher) Publish(ctx context.Context, issue Issue) error {
	embeds := d.buildEmbeds(issue.Newsletter)
	batches := batchEmbeds(embeds)

	for i, batch := range batches {
		err := retry.WithBackoff(ctx, d.retryConfig, func(ctx context.Context) error {
			return d.sendWebhook(ctx, batch)
		})
		if err != nil {
			return fmt.Errorf("discord: failed to send batch %d: %w", i+1, err)
		}

		// Delay between batches to avoid rate limits.
		if i < len(batches)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}
	}
	return nil
}

// buildEmbeds creates the header embed and one embed per entry.
func (d *DiscordPublisher) buildEmbeds(n *newsletter.Newsletter) []discordEmbed {
	embeds := make([]discordEmbed, 0, n.EntryCount()+1)

	header := discordEmbed{
		Title:       truncate(n.Title, 256),
		Description: truncate(n.Subtitle, 4096),
		Color:       0x5865F2, // Discord blurple
		Footer:      &discordEmbedFooter{Text: n.GeneratedAt.Format("2006-01-02")},
		Timestamp:   n.GeneratedAt.Format(time.RFC3339),
	}
	var headings []string
	for _, s := range n.Sections {
		headings = append(headings, fmt.Sprintf("%s (%d)", render.Heading(s.Category), len(s.Entries)))
	}
	if len(headings) > 0 {
		header.Fields = []discordEmbedField{{
			Name:  "Sections",
			Value: truncate(formatBullets(headings), 1024),
		}}
	}
	embeds = append(embeds, header)

	for _, s := range n.Sections {
		for _, e := range s.Entries {
			em := discordEmbed{
				Title:       truncate(e.Headline, 256),
				URL:         e.SourceURL,
				Description: truncate(e.Summary, 4096),
				Color:       0x5865F2,
			}
			footer := render.Heading(s.Category)
			if e.ReadTimeLabel != "" {
				footer += " | " + e.ReadTimeLabel
			}
			em.Footer = &discordEmbedFooter{Text: truncate(footer, 2048)}
			if e.ImageURL != "" {
				em.Thumbnail = &discordEmbedImage{URL: e.ImageURL}
			}
			embeds = append(embeds, em)
		}
	}

	return embeds
}

// batchEmbeds splits embeds into batches respecting Discord limits:
// max 10 embeds per message, max 6000 total characters per message.
func batchEmbeds(embeds []discordEmbed) [][]discordEmbed {
	var batches [][]discordEmbed
	var current []discordEmbed
	currentChars := 0

	for _, e := range embeds {
		ec := embedCharCount(e)

		if len(current) > 0 && (len(current) >= 10 || currentChars+ec > 6000) {
			batches = append(batches, current)
			current = nil
			currentChars = 0
		}

		current = append(current, e)
		currentChars += ec
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}

// sendWebhook posts a batch of embeds to the Discord webhook.
func (d *DiscordPublisher) sendWebhook(ctx context.Context, embeds []discordEmbed) error {
	body, err := json.Marshal(discordWebhookPayload{Embeds: embeds})
	if err != nil {
		return newsletter.FatalError("discord", 0, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return newsletter.FatalError("discord", 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return newsletter.TransientError("discord", 0, fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if retry.HTTPStatusRetryable(resp.StatusCode) {
			return newsletter.TransientError("discord", resp.StatusCode, err)
		}
		return newsletter.FatalError("discord", resp.StatusCode, err)
	}

	return nil
}

// truncate shortens s to max characters, preferring a sentence boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	cut := s[:max-1]
	// Try to cut at a sentence boundary.
	if idx := strings.LastIndexAny(cut, ".!?"); idx > max/2 {
		return cut[:idx+1]
	}
	return cut + "…"
}

// formatBullets formats items as a bulleted list.
func formatBullets(items []string) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("• ")
		b.WriteString(it)
	}
	return b.String()
}

// embedCharCount returns the total character count of an embed for batching purposes.
func embedCharCount(e discordEmbed) int {
	n := len(e.Title) + len(e.Description)
	for _, f := range e.Fields {
		n += len(f.Name) + len(f.Value)
	}
	if e.Footer != nil {
		n += len(e.Footer.Text)
	}
	return n
}
