package render

import (
	"fmt"
	"strings"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
)

// Markdown renders GitHub-flavoured markdown.
type Markdown struct{}

func (Markdown) Extension() string { return "md" }

func (Markdown) Render(n *newsletter.Newsletter) (string, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", n.Title)
	if n.Subtitle != "" {
		fmt.Fprintf(&sb, "_%s_\n\n", n.Subtitle)
	}

	for _, section := range n.Sections {
		fmt.Fprintf(&sb, "## %s\n\n", Heading(section.Category))
		if len(section.Entries) == 0 {
			fmt.Fprintf(&sb, "_%s_\n\n", emptySection)
			continue
		}
		for _, e := range section.Entries {
			fmt.Fprintf(&sb, "### [%s](%s)\n\n", escapeMarkdown(e.Headline), e.SourceURL)
			if meta := entryMeta(e); meta != "" {
				fmt.Fprintf(&sb, "*%s*\n\n", meta)
			}
			if e.ImageURL != "" {
				fmt.Fprintf(&sb, "![%s](%s)\n\n", escapeMarkdown(e.Headline), e.ImageURL)
			}
			fmt.Fprintf(&sb, "%s\n\n", strings.TrimSpace(e.Summary))
		}
	}

	return strings.TrimRight(sb.String(), "\n") + "\n", nil
}

var markdownEscaper = strings.NewReplacer("[", `\[`, "]", `\]`)

// escapeMarkdown keeps headlines from breaking link syntax.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
