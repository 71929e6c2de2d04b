package newsletter

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SourceRecord is one retrieved web result, keyed by its normalized URL.
type SourceRecord struct {
	URL                  string    `json:"url"`
	Title                string    `json:"title"`
	Snippet              string    `json:"snippet"`
	PublishedAt          time.Time `json:"published_at,omitempty"`
	EstimatedReadMinutes int       `json:"estimated_read_minutes"`
	RawScore             float64   `json:"raw_score"`
	ImageURL             string    `json:"image_url,omitempty"`

	// Query is the search query that surfaced the record.
	Query string `json:"query,omitempty"`
	// Discovery is the order in which the owning pipeline first saw the record.
	Discovery int `json:"discovery"`
}

// DigestEntry is one summarized, citation-linked item of a newsletter section.
type DigestEntry struct {
	Headline      string    `json:"headline"`
	Summary       string    `json:"summary"`
	ReadTimeLabel string    `json:"read_time_label"`
	SourceURL     string    `json:"source_url"`
	Category      string    `json:"category"`
	ImageURL      string    `json:"image_url,omitempty"`
	PublishedAt   time.Time `json:"published_at,omitempty"`
}

// State is a Category Pipeline state.
type State string

const (
	StatePlanning    State = "PLANNING"
	StateSearching   State = "SEARCHING"
	StateDeduping    State = "DEDUPING"
	StateSummarizing State = "SUMMARIZING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CategoryResult is the output of one category pipeline run.
type CategoryResult struct {
	Category string        `json:"category"`
	Entries  []DigestEntry `json:"entries"`
	Warnings []string      `json:"warnings,omitempty"`
	State    State         `json:"state"`
}

// Empty reports whether the section carries no entries.
func (r CategoryResult) Empty() bool {
	return len(r.Entries) == 0
}

// Newsletter is the composed document handed to a renderer.
type Newsletter struct {
	Title       string           `json:"title"`
	Subtitle    string           `json:"subtitle"`
	GeneratedAt time.Time        `json:"generated_at"`
	Format      string           `json:"format"`
	Sections    []CategoryResult `json:"sections"`
	Warnings    []string         `json:"warnings,omitempty"`
}

// EntryCount returns the total number of digest entries across sections.
func (n *Newsletter) EntryCount() int {
	total := 0
	for _, s := range n.Sections {
		total += len(s.Entries)
	}
	return total
}

const wordsPerMinute = 200

// EstimateReadMinutes estimates reading time for text, never less than one minute.
func EstimateReadMinutes(text string) int {
	words := len(strings.Fields(text))
	minutes := int(math.Ceil(float64(words) / wordsPerMinute))
	if minutes < 1 {
		return 1
	}
	return minutes
}

// ReadTimeLabel formats a read-time estimate for display.
func ReadTimeLabel(minutes int) string {
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("%d min read", minutes)
}
