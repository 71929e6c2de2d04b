package render

import (
	"fmt"

	"github.com/charmbracelet/glamour"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
)

// Text renders plain text by passing the markdown rendering through glamour's
// colourless style.
type Text struct{}

func (Text) Extension() string { return "txt" }

func (Text) Render(n *newsletter.Newsletter) (string, error) {
	md, err := Markdown{}.Render(n)
	if err != nil {
		return "", err
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("notty"),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return "", fmt.Errorf("render: failed to create text renderer: %w", err)
	}

	out, err := renderer.Render(md)
	if err != nil {
		return "", fmt.Errorf("render: failed to render text: %w", err)
	}
	return out, nil
}
