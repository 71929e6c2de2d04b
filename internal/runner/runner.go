// Package runner composes newsletters: it fans category pipelines out over a
// bounded worker pool, assembles the result, renders it and hands it to the
// configured publishers.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ryosukesatoh/daily-brief/internal/logging"
	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
	"github.com/ryosukesatoh/daily-brief/internal/pipeline"
	"github.com/ryosukesatoh/daily-brief/internal/publisher"
	"github.com/ryosukesatoh/daily-brief/internal/render"
	"github.com/ryosukesatoh/daily-brief/internal/retry"
	"github.com/ryosukesatoh/daily-brief/internal/search"
)

const (
	// DefaultWorkers is the number of categories researched concurrently.
	DefaultWorkers = 3
	DefaultTitle   = "Research Newsletter"
)

// Archive records issues and answers which sources were already sent.
// *archive.Archive implements it.
type Archive interface {
	pipeline.PublishedFilter
	SaveIssue(ctx context.Context, n *newsletter.Newsletter, body string) (int64, error)
}

// Options configures a Runner. Zero values select defaults.
type Options struct {
	Workers       int
	MinScore      float64
	SearchTimeout time.Duration
	Retry         retry.Config
	Enricher      pipeline.Enricher
	Archive       Archive
	// SkipPublished drops sources that appeared in archived issues.
	SkipPublished bool
	Publishers    []publisher.Publisher
	Logger        logrus.FieldLogger
	Now           func() time.Time
}

// Runner orchestrates the create -> render -> publish -> archive run.
type Runner struct {
	provider   search.Provider
	summarizer pipeline.Summarizer
	opts       Options
	log        logrus.FieldLogger
}

func New(provider search.Provider, sum pipeline.Summarizer, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{provider: provider, summarizer: sum, opts: opts, log: opts.Logger}
}

// Create researches every requested category and composes the newsletter.
// Invalid requests fail before any external call. Sections keep the
// requested category order. If no section has entries the error is a
// *newsletter.EmptyNewsletterError. A cancelled ctx yields only ctx's error.
func (r *Runner) Create(ctx context.Context, req newsletter.Request) (*newsletter.Newsletter, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.Normalized()
	freshness := req.Freshness()

	// The executor, and with it the rate limiter and query memo, lives for
	// exactly one run.
	exec := search.NewExecutor(r.provider, search.ExecutorOptions{
		RequestDelay:  req.RequestDelay,
		Timeout:       r.opts.SearchTimeout,
		Retry:         r.opts.Retry,
		IncludeImages: req.IncludeImages,
		Logger:        r.log,
	})
	popts := pipeline.Options{
		Freshness:     freshness,
		Quality:       req.QualityLevel,
		MaxArticles:   req.MaxArticlesPerCategory,
		MinScore:      r.opts.MinScore,
		IncludeImages: req.IncludeImages,
		Instructions:  req.PromptFor,
		Enricher:      r.opts.Enricher,
		Logger:        r.log,
	}
	if r.opts.SkipPublished && r.opts.Archive != nil {
		popts.Published = r.opts.Archive
	}
	p := pipeline.New(exec, r.summarizer, popts)

	r.log.WithFields(logrus.Fields{
		"categories": len(req.Categories),
		"workers":    r.opts.Workers,
		"freshness":  freshness.Key(),
	}).Info("Starting newsletter run")

	results := make([]newsletter.CategoryResult, len(req.Categories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, category := range req.Categories {
		g.Go(func() error {
			res, err := p.Run(gctx, category)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	err := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}

	n := r.compose(req, freshness, results)
	if n.EntryCount() == 0 {
		return nil, &newsletter.EmptyNewsletterError{Warnings: n.Warnings}
	}
	r.log.WithFields(logrus.Fields{
		"entries":  n.EntryCount(),
		"warnings": len(n.Warnings),
	}).Info("Newsletter composed")
	return n, nil
}

func (r *Runner) compose(req newsletter.Request, f newsletter.Freshness, results []newsletter.CategoryResult) *newsletter.Newsletter {
	now := r.opts.Now()
	n := &newsletter.Newsletter{
		Title:       req.Title,
		Subtitle:    req.Subtitle,
		GeneratedAt: now,
		Format:      req.Format,
		Sections:    results,
	}
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	if n.Subtitle == "" {
		day := now
		if !f.Date.IsZero() {
			day = f.Date
		}
		n.Subtitle = "Top stories for " + day.Format("Monday, January 2, 2006")
	}
	for _, res := range results {
		for _, w := range res.Warnings {
			n.Warnings = append(n.Warnings, res.Category+": "+w)
		}
	}
	return n
}

// Run executes the full pipeline once: create, render, publish, archive.
func (r *Runner) Run(ctx context.Context, req newsletter.Request) error {
	n, err := r.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("runner: create failed: %w", err)
	}
	for _, w := range n.Warnings {
		r.log.Warn(w)
	}

	renderer, err := render.For(n.Format)
	if err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	body, err := renderer.Render(n)
	if err != nil {
		return fmt.Errorf("runner: render failed: %w", err)
	}
	issue := publisher.Issue{Newsletter: n, Body: body, Format: n.Format}

	// Continue with other publishers even if one fails
	var publishErrors []error
	for _, pub := range r.opts.Publishers {
		r.log.Infof("Publishing via %T...", pub)
		if err := pub.Publish(ctx, issue); err != nil {
			publishError := fmt.Errorf("publish via %T failed: %w", pub, err)
			publishErrors = append(publishErrors, publishError)
			r.log.Warn(publishError)
		} else {
			r.log.Infof("Successfully published via %T", pub)
		}
	}

	// If all publishers failed, return an error
	if len(publishErrors) == len(r.opts.Publishers) && len(r.opts.Publishers) > 0 {
		return fmt.Errorf("runner: all publishers failed: %v", publishErrors)
	}

	if r.opts.Archive != nil {
		id, err := r.opts.Archive.SaveIssue(ctx, n, body)
		if err != nil {
			r.log.Warnf("Failed to archive issue: %v", err)
		} else {
			r.log.WithField("issue_id", id).Info("Issue archived")
		}
	}

	if len(publishErrors) > 0 {
		r.log.Warnf("Run completed with %d publisher failures out of %d publishers", len(publishErrors), len(r.opts.Publishers))
	} else {
		r.log.Info("Run completed successfully")
	}
	return nil
}
