package publisher

import (
	"context"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
)

// Issue is a composed newsletter together with its rendering.
type Issue struct {
	Newsletter *newsletter.Newsletter
	Body       string
	Format     string
}

// Publisher delivers an issue to some output destination.
type Publisher interface {
	Publish(ctx context.Context, issue Issue) error
}
