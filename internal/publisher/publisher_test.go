package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
	"github.com/ryosukesatoh/daily-brief/internal/retry"
)

func sampleIssue() Issue {
	n := &newsletter.Newsletter{
		Title:       "Research Newsletter",
		Subtitle:    "Top stories for Wednesday, January 15, 2025",
		GeneratedAt: time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC),
		Format:      newsletter.FormatMarkdown,
		Sections: []newsletter.CategoryResult{
			{
				Category: "machine learning",
				State:    newsletter.StateDone,
				Entries: []newsletter.DigestEntry{
					{
						Headline:      "Test Story One",
						Summary:       "This is a summary of story one.",
						ReadTimeLabel: "2 min read",
						SourceURL:     "http://example.com/1",
						Category:      "machine learning",
						ImageURL:      "http://example.com/1.png",
					},
					{
						Headline:      "Test Story Two",
						Summary:       "This is a summary of story two.",
						ReadTimeLabel: "1 min read",
						SourceURL:     "http://example.com/2",
						Category:      "machine learning",
					},
				},
			},
		},
		Warnings: []string{"Space: search failed"},
	}
	return Issue{Newsletter: n, Body: "# Research Newsletter\n\nbody text\n", Format: newsletter.FormatMarkdown}
}

func TestStdoutPublish(t *testing.T) {
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	pub := NewStdoutPublisher()
	err := pub.Publish(context.Background(), sampleIssue())

	w.Close()
	os.Stdout = oldStdout

	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	var buf bytes.Buffer
	buf.ReadFrom(r)
	output := buf.String()

	for _, want := range []string{
		"Research Newsletter",
		"2 stories",
		"body text",
		"Space: search failed",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %q", want)
		}
	}
}

func TestFilePublish(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "issues")
	pub := NewFilePublisher(dir)
	issue := sampleIssue()

	if err := pub.Publish(context.Background(), issue); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	path := filepath.Join(dir, "2025-01-15-research-newsletter.md")
	if got := pub.Path(issue); got != path {
		t.Errorf("Expected path %q, got %q", path, got)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read published file: %v", err)
	}
	if string(data) != issue.Body {
		t.Errorf("Expected file to contain the body, got %q", string(data))
	}
}

func TestFilePublishExtensionFollowsFormat(t *testing.T) {
	dir := t.TempDir()
	pub := NewFilePublisher(dir)
	tests := map[string]string{
		"":                        ".md",
		newsletter.FormatMarkdown: ".md",
		newsletter.FormatHTML:     ".html",
		newsletter.FormatText:     ".txt",
	}
	for format, ext := range tests {
		issue := sampleIssue()
		issue.Format = format
		if got := filepath.Ext(pub.Path(issue)); got != ext {
			t.Errorf("format %q: expected extension %q, got %q", format, ext, got)
		}
	}

	issue := sampleIssue()
	issue.Format = "pdf"
	if err := pub.Publish(context.Background(), issue); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Research Newsletter":   "research-newsletter",
		"  AI & Robots: Weekly ": "ai-robots-weekly",
		"!!!":                   "newsletter",
	}
	for in, want := range tests {
		if got := slug(in); got != want {
			t.Errorf("slug(%q) = %q, expected %q", in, got, want)
		}
	}
}

func TestWebPublisherServesLatest(t *testing.T) {
	wp := NewWebPublisher("127.0.0.1:0", nil)
	srv := httptest.NewServer(wp.server.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/latest.json")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 before the first issue, got %d", resp.StatusCode)
	}

	if err := wp.Publish(context.Background(), sampleIssue()); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	resp, err = http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(page), "<h1>Research Newsletter</h1>") || !strings.Contains(string(page), "Test Story One") {
		t.Errorf("Expected rendered HTML page, got %s", page)
	}

	resp, err = http.Get(srv.URL + "/latest.json")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	var n newsletter.Newsletter
	if err := json.NewDecoder(resp.Body).Decode(&n); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if n.Title != "Research Newsletter" || n.EntryCount() != 2 {
		t.Errorf("Unexpected JSON newsletter %+v", n)
	}
}

func TestEmailPublish(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	pub := NewEmailPublisher("smtp.example.com", 587, "user", "pass", "from@example.com", []string{"a@example.com", "b@example.com"})
	pub.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := pub.Publish(context.Background(), sampleIssue()); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "from@example.com" || len(gotTo) != 2 {
		t.Errorf("Unexpected envelope addr=%q from=%q to=%v", gotAddr, gotFrom, gotTo)
	}
	msg := string(gotMsg)
	for _, want := range []string{
		"Subject: Research Newsletter - 2025-01-15",
		"To: a@example.com,b@example.com",
		"Content-Type: text/html",
		`<a href="http://example.com/1">Test Story One</a>`,
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected message to contain %q", want)
		}
	}
}

func TestEmailPublishError(t *testing.T) {
	pub := NewEmailPublisher("smtp.example.com", 587, "", "", "from@example.com", []string{"a@example.com"})
	pub.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}
	err := pub.Publish(context.Background(), sampleIssue())
	if err == nil || !strings.Contains(err.Error(), "email: failed to send") {
		t.Fatalf("Expected send error, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		max   int
		check func(string) bool
		desc  string
	}{
		{
			name:  "short string unchanged",
			input: "hello",
			max:   10,
			check: func(s string) bool { return s == "hello" },
			desc:  "expected 'hello'",
		},
		{
			name:  "exact length unchanged",
			input: "hello",
			max:   5,
			check: func(s string) bool { return s == "hello" },
			desc:  "expected 'hello'",
		},
		{
			name:  "long string truncated with ellipsis",
			input: "This is a very long string that should be truncated.",
			max:   20,
			check: func(s string) bool { return len(s) < 52 && strings.HasSuffix(s, "\u2026") },
			desc:  "expected truncated string ending with ellipsis",
		},
		{
			name:  "truncation prefers sentence boundary",
			input: "A long enough first sentence. The rest is extra padding text here.",
			max:   40,
			check: func(s string) bool { return s == "A long enough first sentence." },
			desc:  "expected truncation at sentence boundary",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := truncate(tt.input, tt.max)
			if !tt.check(result) {
				t.Errorf("%s, got %q", tt.desc, result)
			}
		})
	}
}

func TestEmbedCharCount(t *testing.T) {
	e := discordEmbed{
		Title:       "Title",       // 5
		Description: "Description", // 11
		Fields: []discordEmbedField{
			{Name: "Field", Value: "Value"}, // 5 + 5 = 10
		},
		Footer: &discordEmbedFooter{Text: "Footer"}, // 6
	}

	count := embedCharCount(e)
	expected := 5 + 11 + 5 + 5 + 6
	if count != expected {
		t.Errorf("Expected char count %d, got %d", expected, count)
	}
}

func TestEmbedCharCountNoFooter(t *testing.T) {
	e := discordEmbed{
		Title:       "Title",
		Description: "Desc",
	}

	count := embedCharCount(e)
	if count != 9 {
		t.Errorf("Expected char count 9, got %d", count)
	}
}

func TestBatchEmbedsUnder10(t *testing.T) {
	embeds := make([]discordEmbed, 5)
	for i := range embeds {
		embeds[i] = discordEmbed{Title: "T"}
	}

	batches := batchEmbeds(embeds)
	if len(batches) != 1 {
		t.Errorf("Expected 1 batch for 5 embeds, got %d", len(batches))
	}
	if len(batches[0]) != 5 {
		t.Errorf("Expected 5 embeds in batch, got %d", len(batches[0]))
	}
}

func TestBatchEmbedsOver10(t *testing.T) {
	embeds := make([]discordEmbed, 12)
	for i := range embeds {
		embeds[i] = discordEmbed{Title: "T"}
	}

	batches := batchEmbeds(embeds)
	if len(batches) != 2 {
		t.Errorf("Expected 2 batches for 12 embeds, got %d", len(batches))
	}
	if len(batches[0]) != 10 {
		t.Errorf("Expected 10 embeds in first batch, got %d", len(batches[0]))
	}
	if len(batches[1]) != 2 {
		t.Errorf("Expected 2 embeds in second batch, got %d", len(batches[1]))
	}
}

func TestBatchEmbedsCharLimit(t *testing.T) {
	// Each embed has 2000 chars. 3 embeds = 6000 chars, so the 4th should start a new batch.
	embeds := make([]discordEmbed, 4)
	for i := range embeds {
		embeds[i] = discordEmbed{Description: strings.Repeat("x", 2000)}
	}

	batches := batchEmbeds(embeds)
	if len(batches) != 2 {
		t.Errorf("Expected 2 batches due to char limit, got %d", len(batches))
	}
	if len(batches[0]) != 3 {
		t.Errorf("Expected 3 embeds in first batch, got %d", len(batches[0]))
	}
	if len(batches[1]) != 1 {
		t.Errorf("Expected 1 embed in second batch, got %d", len(batches[1]))
	}
}


func TestFormatBullets(t *testing.T) {
	result := formatBullets([]string{"First point", "Second point", "Third point"})

	if !strings.Contains(result, "\u2022 First point") {
		t.Error("Expected bullet point for 'First point'")
	}
	lines := strings.Split(result, "\n")
	if len(lines) != 3 {
		t.Errorf("Expected 3 lines, got %d", len(lines))
	}
	if formatBullets(nil) != "" {
		t.Error("Expected empty string for nil items")
	}
}

func TestDiscordPublishWithMockWebhook(t *testing.T) {
	var receivedPayloads []discordWebhookPayload

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type application/json, got %q", r.Header.Get("Content-Type"))
		}

		body, _ := io.ReadAll(r.Body)
		var payload discordWebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("Failed to parse webhook payload: %v", err)
		}
		receivedPayloads = append(receivedPayloads, payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	pub := &DiscordPublisher{
		webhookURL: ts.URL,
		client:     ts.Client(),
	}

	err := pub.Publish(context.Background(), sampleIssue())
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if len(receivedPayloads) == 0 {
		t.Fatal("No webhook payloads received")
	}

	// With 2 entries + 1 header = 3 embeds, should be 1 batch
	total := 0
	for _, p := range receivedPayloads {
		total += len(p.Embeds)
	}
	if total != 3 {
		t.Errorf("Expected 3 total embeds (1 header + 2 entries), got %d", total)
	}

	header := receivedPayloads[0].Embeds[0]
	if header.Title != "Research Newsletter" {
		t.Errorf("Expected header title, got %q", header.Title)
	}
	first := receivedPayloads[0].Embeds[1]
	if first.URL != "http://example.com/1" || first.Thumbnail == nil {
		t.Errorf("Expected linked entry embed with thumbnail, got %+v", first)
	}
	if first.Footer == nil || first.Footer.Text != "Machine Learning | 2 min read" {
		t.Errorf("Unexpected footer %+v", first.Footer)
	}
}

func TestDiscordPublishWebhookError(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	pub := NewDiscordPublisher(ts.URL, fastRetry())
	pub.client = ts.Client()

	err := pub.Publish(context.Background(), sampleIssue())
	if err == nil {
		t.Fatal("Expected error for webhook failure")
	}
	if !strings.Contains(err.Error(), "unexpected status 400") {
		t.Errorf("Expected 'unexpected status 400' error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected client errors not to be retried, got %d calls", calls)
	}
}

func TestDiscordPublishRetriesServerErrors(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	pub := NewDiscordPublisher(ts.URL, fastRetry())
	pub.client = ts.Client()

	if err := pub.Publish(context.Background(), sampleIssue()); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}
