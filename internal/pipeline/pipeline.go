// Package pipeline runs the research state machine for one newsletter
// category: plan queries, search, deduplicate, rank and summarize.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ryosukesatoh/daily-brief/internal/dedup"
	"github.com/ryosukesatoh/daily-brief/internal/logging"
	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
	"github.com/ryosukesatoh/daily-brief/internal/planner"
	"github.com/ryosukesatoh/daily-brief/internal/search"
	"github.com/ryosukesatoh/daily-brief/internal/summarizer"
)

// DefaultSummaryWorkers bounds concurrent summarize calls within one category.
const DefaultSummaryWorkers = 2

// Searcher runs one query. *search.Executor implements it.
type Searcher interface {
	Search(ctx context.Context, query string, freshness newsletter.Freshness) (search.Response, error)
}

// Summarizer turns one source into a digest entry. *summarizer.Summarizer
// implements it.
type Summarizer interface {
	Summarize(ctx context.Context, in summarizer.Input) (newsletter.DigestEntry, error)
}

// Enricher optionally improves a record before summarizing.
// *fetcher.PageFetcher implements it.
type Enricher interface {
	Enrich(ctx context.Context, rec newsletter.SourceRecord) (newsletter.SourceRecord, error)
}

// PublishedFilter reports which URLs already appeared in earlier issues.
// *archive.Archive implements it.
type PublishedFilter interface {
	Published(ctx context.Context, urls []string) (map[string]bool, error)
}

// PlanFunc produces the search queries for a category.
type PlanFunc func(category string, f newsletter.Freshness, quality int) ([]string, error)

// Options configures a Pipeline.
type Options struct {
	Freshness   newsletter.Freshness
	Quality     int
	MaxArticles int
	// MinScore drops records whose RawScore is below it.
	MinScore float64
	// IncludeImages keeps images found by the Enricher.
	IncludeImages bool
	// Instructions returns editorial instructions for a category.
	Instructions   func(category string) string
	SummaryWorkers int

	Plan      PlanFunc
	Dedup     *dedup.Deduplicator
	Enricher  Enricher
	Published PublishedFilter
	Logger    logrus.FieldLogger
	// OnTransition, when set, is called on every state change.
	OnTransition func(category string, state newsletter.State)
}

// Pipeline holds the dependencies shared by every category run. It keeps no
// per-run state, so one Pipeline may run several categories concurrently.
type Pipeline struct {
	searcher   Searcher
	summarizer Summarizer
	opts       Options
}

func New(searcher Searcher, sum Summarizer, opts Options) *Pipeline {
	if opts.Plan == nil {
		opts.Plan = planner.Plan
	}
	if opts.Dedup == nil {
		opts.Dedup = dedup.New()
	}
	if opts.MaxArticles <= 0 {
		opts.MaxArticles = 5
	}
	if opts.Quality == 0 {
		opts.Quality = 3
	}
	if opts.SummaryWorkers <= 0 {
		opts.SummaryWorkers = DefaultSummaryWorkers
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Pipeline{searcher: searcher, summarizer: sum, opts: opts}
}

// run is the mutable state of one category pipeline.
type run struct {
	p      *Pipeline
	result newsletter.CategoryResult
	log    logrus.FieldLogger
}

// Run drives category through the state machine. The returned error is
// non-nil only when ctx is cancelled; every other failure ends in a FAILED
// or degraded CategoryResult.
func (p *Pipeline) Run(ctx context.Context, category string) (newsletter.CategoryResult, error) {
	r := &run{
		p:      p,
		result: newsletter.CategoryResult{Category: category},
		log:    p.opts.Logger.WithField("category", category),
	}

	r.transition(newsletter.StatePlanning)
	queries, err := p.opts.Plan(category, p.opts.Freshness, p.opts.Quality)
	if err != nil {
		return r.fail("planning failed", err), nil
	}

	r.transition(newsletter.StateSearching)
	records, err := r.search(ctx, queries)
	if err != nil {
		if ctx.Err() != nil {
			return newsletter.CategoryResult{}, ctx.Err()
		}
		return r.fail("search failed", err), nil
	}

	r.transition(newsletter.StateDeduping)
	selected := r.selectSources(ctx, records)
	if ctx.Err() != nil {
		return newsletter.CategoryResult{}, ctx.Err()
	}

	r.transition(newsletter.StateSummarizing)
	if err := r.summarize(ctx, selected); err != nil {
		return newsletter.CategoryResult{}, err
	}

	r.transition(newsletter.StateDone)
	r.log.WithField("entries", len(r.result.Entries)).Info("Category complete")
	return r.result, nil
}

// transition moves the run to s. A run in a terminal state stays there.
func (r *run) transition(s newsletter.State) {
	if r.result.State.Terminal() {
		r.log.WithFields(logrus.Fields{"state": r.result.State, "next": s}).Warn("Ignoring transition out of terminal state")
		return
	}
	r.result.State = s
	r.log.WithField("state", s).Debug("Pipeline transition")
	if r.p.opts.OnTransition != nil {
		r.p.opts.OnTransition(r.result.Category, s)
	}
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.result.Warnings = append(r.result.Warnings, msg)
	r.log.Warn(msg)
}

func (r *run) fail(stage string, err error) newsletter.CategoryResult {
	r.result.Entries = nil
	r.warn("%s: %v", stage, err)
	r.transition(newsletter.StateFailed)
	return r.result
}

// search runs every planned query in order and numbers the records in the
// order they arrive.
func (r *run) search(ctx context.Context, queries []string) ([]newsletter.SourceRecord, error) {
	var records []newsletter.SourceRecord
	discovery := 0
	for _, q := range queries {
		resp, err := r.p.searcher.Search(ctx, q, r.p.opts.Freshness)
		if err != nil {
			return nil, err
		}
		if resp.Warning != "" {
			r.warn("%s", resp.Warning)
		}
		// Records may be shared with the executor's memo, so copy before numbering.
		for _, rec := range resp.Records {
			discovery++
			rec.Discovery = discovery
			records = append(records, rec)
		}
		r.log.WithFields(logrus.Fields{"query": q, "results": len(resp.Records)}).Debug("Query complete")
	}
	return records, nil
}

// selectSources deduplicates, filters and ranks records, keeping at most
// MaxArticles.
func (r *run) selectSources(ctx context.Context, records []newsletter.SourceRecord) []newsletter.SourceRecord {
	unique := r.p.opts.Dedup.Dedupe(records)

	kept := unique[:0:0]
	for _, rec := range unique {
		if strings.TrimSpace(rec.Title) == "" || rec.RawScore < r.p.opts.MinScore {
			continue
		}
		kept = append(kept, rec)
	}

	if r.p.opts.Published != nil && len(kept) > 0 {
		kept = r.dropPublished(ctx, kept)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].RawScore != kept[j].RawScore {
			return kept[i].RawScore > kept[j].RawScore
		}
		return kept[i].Discovery < kept[j].Discovery
	})
	if len(kept) > r.p.opts.MaxArticles {
		kept = kept[:r.p.opts.MaxArticles]
	}

	r.log.WithFields(logrus.Fields{
		"found":    len(records),
		"unique":   len(unique),
		"selected": len(kept),
	}).Info("Sources selected")
	return kept
}

func (r *run) dropPublished(ctx context.Context, records []newsletter.SourceRecord) []newsletter.SourceRecord {
	urls := make([]string, len(records))
	for i, rec := range records {
		urls[i] = rec.URL
	}
	seen, err := r.p.opts.Published.Published(ctx, urls)
	if err != nil {
		if ctx.Err() == nil {
			r.warn("could not check earlier issues: %v", err)
		}
		return records
	}

	fresh := records[:0:0]
	for _, rec := range records {
		if !seen[rec.URL] {
			fresh = append(fresh, rec)
		}
	}
	if dropped := len(records) - len(fresh); dropped > 0 {
		r.warn("skipped %d sources already published in earlier issues", dropped)
	}
	return fresh
}

// summarize fills the result entries in rank order. Sources that cannot be
// summarized are skipped with a warning.
func (r *run) summarize(ctx context.Context, sources []newsletter.SourceRecord) error {
	if len(sources) == 0 {
		r.warn("no sources found")
		return nil
	}

	category := r.result.Category
	var instructions string
	if r.p.opts.Instructions != nil {
		instructions = r.p.opts.Instructions(category)
	}

	// Each goroutine writes only its own slot.
	entries := make([]*newsletter.DigestEntry, len(sources))
	failures := make([]string, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.p.opts.SummaryWorkers)
	for i, src := range sources {
		g.Go(func() error {
			if r.p.opts.Enricher != nil {
				enriched, err := r.p.opts.Enricher.Enrich(gctx, src)
				if err != nil {
					r.log.WithField("url", src.URL).Debugf("Full page fetch failed: %v", err)
				}
				if !r.p.opts.IncludeImages {
					enriched.ImageURL = ""
				}
				src = enriched
			}

			entry, err := r.p.summarizer.Summarize(gctx, summarizer.Input{
				Category:     category,
				Records:      []newsletter.SourceRecord{src},
				Quality:      r.p.opts.Quality,
				Instructions: instructions,
			})
			if err != nil {
				if newsletter.IsSummarization(err) {
					failures[i] = fmt.Sprintf("skipped %s: %v", src.URL, err)
					return nil
				}
				return err
			}
			entries[i] = &entry
			return nil
		})
	}
	err := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		// Unclassified summarizer failure: the remaining sources are skipped.
		r.warn("summarization aborted: %v", err)
	}

	for i := range sources {
		if failures[i] != "" {
			r.warn("%s", failures[i])
		}
		if entries[i] != nil {
			r.result.Entries = append(r.result.Entries, *entries[i])
		}
	}
	if len(r.result.Entries) == 0 {
		r.warn("no sources could be summarized")
	}
	return nil
}
