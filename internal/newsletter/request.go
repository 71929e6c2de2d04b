package newsletter

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the accepted layout for a single-day date constraint.
const DateLayout = "2006-01-02"

// Output formats understood by the renderers.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatText     = "text"
)

// DateRange is a rolling freshness window.
type DateRange string

const (
	PastDay   DateRange = "past_day"
	PastWeek  DateRange = "past_week"
	PastMonth DateRange = "past_month"
	PastYear  DateRange = "past_year"
)

// Valid reports whether r is one of the known windows.
func (r DateRange) Valid() bool {
	switch r {
	case PastDay, PastWeek, PastMonth, PastYear:
		return true
	}
	return false
}

// Freshness restricts search results to a specific day or a rolling window.
// At most one of Date and Range is set.
type Freshness struct {
	Date  time.Time
	Range DateRange
}

// IsZero reports whether no constraint applies.
func (f Freshness) IsZero() bool {
	return f.Date.IsZero() && f.Range == ""
}

// Key is a stable string form used for memoization.
func (f Freshness) Key() string {
	switch {
	case !f.Date.IsZero():
		return "date:" + f.Date.Format(DateLayout)
	case f.Range != "":
		return "range:" + string(f.Range)
	}
	return "any"
}

// Request describes one newsletter to build.
type Request struct {
	Categories             []string
	Date                   string
	DateRange              string
	Title                  string
	Subtitle               string
	MaxArticlesPerCategory int
	IncludeImages          bool
	Format                 string
	QualityLevel           int
	RequestDelay           time.Duration
	// CategoryPrompts maps a category name to extra editorial instructions.
	CategoryPrompts map[string]string
}

// Validate checks the request shape. It performs no I/O.
func (r Request) Validate() error {
	if len(r.Categories) == 0 {
		return &ValidationError{Field: "categories", Message: "at least one category is required"}
	}
	if r.Date != "" && r.DateRange != "" {
		return &ValidationError{Field: "date", Message: "date and date_range are mutually exclusive"}
	}
	if r.Date != "" {
		if _, err := time.Parse(DateLayout, r.Date); err != nil {
			return &ValidationError{Field: "date", Message: fmt.Sprintf("expected YYYY-MM-DD, got %q", r.Date)}
		}
	}
	if r.DateRange != "" && !DateRange(r.DateRange).Valid() {
		return &ValidationError{Field: "date_range", Message: fmt.Sprintf("unsupported range %q (supported: past_day, past_week, past_month, past_year)", r.DateRange)}
	}
	if r.MaxArticlesPerCategory <= 0 {
		return &ValidationError{Field: "max_articles_per_category", Message: "must be greater than zero"}
	}
	if r.QualityLevel < 1 || r.QualityLevel > 5 {
		return &ValidationError{Field: "quality_level", Message: fmt.Sprintf("must be between 1 and 5, got %d", r.QualityLevel)}
	}
	switch r.Format {
	case "", FormatMarkdown, FormatHTML, FormatText:
	default:
		return &ValidationError{Field: "format", Message: fmt.Sprintf("unsupported format %q (supported: markdown, html, text)", r.Format)}
	}
	if r.RequestDelay < 0 {
		return &ValidationError{Field: "request_delay", Message: "must not be negative"}
	}
	return nil
}

// Normalized returns a copy with duplicate categories removed (first
// occurrence wins) and the default format filled in.
func (r Request) Normalized() Request {
	out := r
	seen := make(map[string]bool, len(r.Categories))
	out.Categories = make([]string, 0, len(r.Categories))
	for _, c := range r.Categories {
		key := strings.ToLower(strings.TrimSpace(c))
		if seen[key] && key != "" {
			continue
		}
		seen[key] = true
		out.Categories = append(out.Categories, c)
	}
	if out.Format == "" {
		out.Format = FormatMarkdown
	}
	return out
}

// Freshness returns the request's date constraint. It assumes Validate passed.
func (r Request) Freshness() Freshness {
	if r.Date != "" {
		d, err := time.Parse(DateLayout, r.Date)
		if err == nil {
			return Freshness{Date: d}
		}
	}
	if r.DateRange != "" {
		return Freshness{Range: DateRange(r.DateRange)}
	}
	return Freshness{}
}

// PromptFor returns the custom instructions configured for category, if any.
func (r Request) PromptFor(category string) string {
	if p, ok := r.CategoryPrompts[category]; ok {
		return p
	}
	for name, p := range r.CategoryPrompts {
		if strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(category)) {
			return p
		}
	}
	return ""
}
