// Package summarizer turns search results into newsletter entries with an
// LLM.
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ryosukesatoh/daily-brief/internal/llm"
	"github.com/ryosukesatoh/daily-brief/internal/logging"
	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
	"github.com/ryosukesatoh/daily-brief/internal/retry"
)

const (
	// DefaultSnippetBudget caps the characters of each snippet in the prompt.
	DefaultSnippetBudget = 1200
	// DefaultTimeout bounds one generation attempt.
	DefaultTimeout = 60 * time.Second
)

// Input is one record, or a small cluster of records about the same story.
// Records[0] is the primary source.
type Input struct {
	Category     string
	Records      []newsletter.SourceRecord
	Quality      int
	Instructions string
}

// Summarizer produces DigestEntries from sources.
type Summarizer struct {
	gen           llm.Generator
	retry         retry.Config
	timeout       time.Duration
	snippetBudget int
	log           logrus.FieldLogger
}

// Options configures a Summarizer. Zero values select defaults.
type Options struct {
	Retry         retry.Config
	Timeout       time.Duration
	SnippetBudget int
	Logger        logrus.FieldLogger
}

func New(gen llm.Generator, opts Options) *Summarizer {
	s := &Summarizer{
		gen:           gen,
		retry:         opts.Retry,
		timeout:       opts.Timeout,
		snippetBudget: opts.SnippetBudget,
		log:           opts.Logger,
	}
	if s.retry.MaxAttempts == 0 {
		s.retry = retry.DefaultConfig()
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.snippetBudget <= 0 {
		s.snippetBudget = DefaultSnippetBudget
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	return s
}

// entryJSON is the expected JSON structure from the LLM.
type entryJSON struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
}

// Summarize builds one DigestEntry for in.Records[0]. Persistent or fatal
// failures are returned as *newsletter.SummarizationError; context
// cancellation is returned as is.
func (s *Summarizer) Summarize(ctx context.Context, in Input) (newsletter.DigestEntry, error) {
	if err := ctx.Err(); err != nil {
		return newsletter.DigestEntry{}, err
	}
	if len(in.Records) == 0 {
		return newsletter.DigestEntry{}, &newsletter.SummarizationError{Err: errors.New("no source records")}
	}
	primary := in.Records[0]
	quality := clampQuality(in.Quality)
	prompt := s.buildPrompt(in, quality)

	var parsed entryJSON
	err := retry.WithBackoff(ctx, s.retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		text, err := s.gen.Generate(callCtx, prompt, MaxTokens(quality))
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return newsletter.TransientError("llm", 0, fmt.Errorf("attempt timed out after %s", s.timeout))
			}
			return err
		}
		entry, err := parseResponse(text)
		if err != nil {
			s.log.WithFields(logrus.Fields{"url": primary.URL}).Debugf("Unparsable model output: %v", err)
			return newsletter.TransientError("llm", 0, err)
		}
		parsed = entry
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return newsletter.DigestEntry{}, ctx.Err()
		}
		return newsletter.DigestEntry{}, &newsletter.SummarizationError{URL: primary.URL, Err: err}
	}

	headline := strings.TrimSpace(parsed.Headline)
	if headline == "" {
		headline = primary.Title
	}
	return newsletter.DigestEntry{
		Headline:      headline,
		Summary:       strings.TrimSpace(parsed.Summary),
		ReadTimeLabel: newsletter.ReadTimeLabel(primary.EstimatedReadMinutes),
		SourceURL:     primary.URL,
		Category:      in.Category,
		ImageURL:      primary.ImageURL,
		PublishedAt:   primary.PublishedAt,
	}, nil
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 5 {
		return 5
	}
	return q
}

// Sentences is the target summary length for a quality level.
func Sentences(quality int) int {
	return [...]int{2, 2, 3, 3, 4}[clampQuality(quality)-1]
}

// MaxTokens is the generation budget for a quality level.
func MaxTokens(quality int) int {
	return 200 + 100*clampQuality(quality)
}

func (s *Summarizer) buildPrompt(in Input, quality int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are an expert news editor writing a newsletter section about %q.\n\n", in.Category)

	for i, r := range in.Records {
		fmt.Fprintf(&sb, "--- Source %d ---\n", i+1)
		fmt.Fprintf(&sb, "Title: %s\n", r.Title)
		fmt.Fprintf(&sb, "URL: %s\n", r.URL)
		if !r.PublishedAt.IsZero() {
			fmt.Fprintf(&sb, "Published: %s\n", r.PublishedAt.Format(newsletter.DateLayout))
		}
		fmt.Fprintf(&sb, "Content: %s\n\n", truncate(r.Snippet, s.snippetBudget))
	}

	fmt.Fprintf(&sb, "Write a catchy headline and a %d-sentence summary of this story.\n", Sentences(quality))
	if quality >= 4 {
		sb.WriteString("Preserve every figure, name and date exactly as given in the sources. Do not add facts that are not in the sources.\n")
	}
	if instr := strings.TrimSpace(in.Instructions); instr != "" {
		fmt.Fprintf(&sb, "\nEditorial instructions for this section:\n%s\n", instr)
	}
	sb.WriteString(`
Respond in JSON with this exact structure:
{
  "headline": "short headline",
  "summary": "the summary"
}

Respond ONLY with valid JSON, no markdown fences or additional text.`)
	return sb.String()
}

func parseResponse(body string) (entryJSON, error) {
	// Strip markdown fences if present
	body = strings.TrimSpace(body)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	var e entryJSON
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return entryJSON{}, fmt.Errorf("failed to parse LLM JSON: %w", err)
	}
	if strings.TrimSpace(e.Summary) == "" {
		return entryJSON{}, errors.New("LLM JSON has an empty summary")
	}
	return e, nil
}

// truncate cuts s to at most n runes, ending on a word boundary when one is
// close.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndex(cut, " "); i > n/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
