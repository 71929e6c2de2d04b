package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
)

const htmlStyle = `<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 700px; margin: 0 auto; padding: 20px; color: #333; }
h1 { color: #1a1a2e; border-bottom: 2px solid #e94560; padding-bottom: 10px; }
h2 { color: #16213e; margin-top: 30px; }
.subtitle { color: #666; font-style: italic; }
.entry { border: 1px solid #ddd; border-radius: 8px; padding: 15px; margin-bottom: 15px; }
.entry h3 { margin-top: 0; color: #0f3460; }
.entry img { max-width: 100%; border-radius: 4px; }
.meta { color: #666; font-size: 0.9em; margin-bottom: 10px; }
.empty { color: #999; }
</style>`

// HTML renders a standalone, inline-styled HTML document suitable for email.
type HTML struct {
	policy *bluemonday.Policy
}

func NewHTML() HTML {
	return HTML{policy: bluemonday.UGCPolicy()}
}

func (HTML) Extension() string { return "html" }

func (h HTML) Render(n *newsletter.Newsletter) (string, error) {
	policy := h.policy
	if policy == nil {
		policy = bluemonday.UGCPolicy()
	}
	var sb strings.Builder

	sb.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8">`)
	fmt.Fprintf(&sb, "<title>%s</title>", html.EscapeString(n.Title))
	sb.WriteString(htmlStyle)
	sb.WriteString("</head><body>")

	fmt.Fprintf(&sb, "<h1>%s</h1>", html.EscapeString(n.Title))
	if n.Subtitle != "" {
		fmt.Fprintf(&sb, `<p class="subtitle">%s</p>`, html.EscapeString(n.Subtitle))
	}

	for _, section := range n.Sections {
		fmt.Fprintf(&sb, "<h2>%s</h2>", html.EscapeString(Heading(section.Category)))
		if len(section.Entries) == 0 {
			fmt.Fprintf(&sb, `<p class="empty">%s</p>`, emptySection)
			continue
		}
		for _, e := range section.Entries {
			sb.WriteString(`<div class="entry">`)
			fmt.Fprintf(&sb, `<h3><a href="%s">%s</a></h3>`, html.EscapeString(e.SourceURL), html.EscapeString(e.Headline))
			if meta := entryMeta(e); meta != "" {
				fmt.Fprintf(&sb, `<div class="meta">%s</div>`, html.EscapeString(meta))
			}
			if e.ImageURL != "" {
				fmt.Fprintf(&sb, `<img src="%s" alt="%s">`, html.EscapeString(e.ImageURL), html.EscapeString(e.Headline))
			}
			fmt.Fprintf(&sb, "<p>%s</p>", policy.Sanitize(e.Summary))
			sb.WriteString("</div>")
		}
	}

	sb.WriteString("</body></html>")
	return sb.String(), nil
}
