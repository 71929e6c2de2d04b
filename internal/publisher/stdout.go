package publisher

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// StdoutPublisher prints the rendered issue to stdout.
type StdoutPublisher struct {
	out io.Writer
}

func NewStdoutPublisher() *StdoutPublisher {
	return &StdoutPublisher{out: os.Stdout}
}

func (p *StdoutPublisher) Publish(_ context.Context, issue Issue) error {
	n := issue.Newsletter
	fmt.Fprintln(p.out, strings.Repeat("=", 72))
	fmt.Fprintf(p.out, "%s\n", n.Title)
	fmt.Fprintf(p.out, "Generated: %s | %d stories\n", n.GeneratedAt.Format("2006-01-02 15:04"), n.EntryCount())
	fmt.Fprintln(p.out, strings.Repeat("=", 72))
	fmt.Fprintln(p.out)

	fmt.Fprintln(p.out, strings.TrimRight(issue.Body, "\n"))
	fmt.Fprintln(p.out)

	if len(n.Warnings) > 0 {
		fmt.Fprintln(p.out, strings.Repeat("-", 72))
		fmt.Fprintln(p.out, "Warnings:")
		for _, w := range n.Warnings {
			fmt.Fprintf(p.out, "   - %s\n", w)
		}
	}

	fmt.Fprintln(p.out, strings.Repeat("=", 72))
	return nil
}
