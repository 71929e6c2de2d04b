package publisher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
	"github.com/ryosukesatoh/daily-brief/internal/render"
)

// FilePublisher writes each issue to <dir>/<date>-<slug>.<ext>.
type FilePublisher struct {
	dir string
}

func NewFilePublisher(dir string) *FilePublisher {
	return &FilePublisher{dir: dir}
}

func (p *FilePublisher) Publish(_ context.Context, issue Issue) error {
	if _, err := render.For(issue.Format); err != nil {
		return fmt.Errorf("file: %w", err)
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("file: failed to create directory: %w", err)
	}
	path := p.Path(issue)
	if err := os.WriteFile(path, []byte(issue.Body), 0o644); err != nil {
		return fmt.Errorf("file: failed to write %s: %w", path, err)
	}
	return nil
}

// Path is where issue will be written.
func (p *FilePublisher) Path(issue Issue) string {
	n := issue.Newsletter
	name := fmt.Sprintf("%s-%s.%s", n.GeneratedAt.Format(newsletter.DateLayout), slug(n.Title), extension(issue.Format))
	return filepath.Join(p.dir, name)
}

// extension takes the file extension from the format's renderer.
func extension(format string) string {
	r, err := render.For(format)
	if err != nil {
		return "md"
	}
	return r.Extension()
}

// slug lower-cases s and collapses every run of non-alphanumerics into a
// single hyphen.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "newsletter"
	}
	return out
}
