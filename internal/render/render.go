// Package render turns a composed Newsletter into markdown, HTML or plain
// text. Renderers are pure: the same newsletter always yields the same
// output.
package render

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
)

// Renderer formats a newsletter.
type Renderer interface {
	Render(n *newsletter.Newsletter) (string, error)
	// Extension is the file extension for rendered output, without the dot.
	Extension() string
}

// ErrUnsupportedFormat is returned when an unsupported format is specified
var ErrUnsupportedFormat = fmt.Errorf("unsupported output format")

// For returns the renderer for format. An empty format selects markdown.
func For(format string) (Renderer, error) {
	switch format {
	case "", newsletter.FormatMarkdown:
		return Markdown{}, nil
	case newsletter.FormatHTML:
		return NewHTML(), nil
	case newsletter.FormatText:
		return Text{}, nil
	default:
		return nil, fmt.Errorf("render: %w %q", ErrUnsupportedFormat, format)
	}
}

// NoLower keeps acronyms such as "AI" intact.
var titleCaser = cases.Title(language.English, cases.NoLower)

// Heading title-cases a category name for display.
func Heading(category string) string {
	return titleCaser.String(category)
}

const emptySection = "No stories found for this category."

func entryMeta(e newsletter.DigestEntry) string {
	meta := e.ReadTimeLabel
	if !e.PublishedAt.IsZero() {
		if meta != "" {
			meta += " · "
		}
		meta += e.PublishedAt.Format("Jan 2, 2006")
	}
	return meta
}
