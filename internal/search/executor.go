package search

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ryosukesatoh/daily-brief/internal/logging"
	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
	"github.com/ryosukesatoh/daily-brief/internal/retry"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 20 * time.Second

// Response is the outcome of one query. Warning is set when the query was
// given up after transient failures; Records is then empty.
type Response struct {
	Query   string
	Records []newsletter.SourceRecord
	Warning string
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// RequestDelay is the minimum spacing between any two provider calls
	// made through this executor. Zero disables throttling.
	RequestDelay  time.Duration
	Timeout       time.Duration
	Retry         retry.Config
	IncludeImages bool
	Logger        logrus.FieldLogger
}

// Executor wraps a Provider with throttling, timeouts, retries and per-run
// memoization. One Executor is shared by all pipelines of a newsletter run.
type Executor struct {
	provider      Provider
	limiter       *rate.Limiter
	timeout       time.Duration
	retry         retry.Config
	includeImages bool
	memo          *cache.Cache
	inflight      singleflight.Group
	sanitizer     *bluemonday.Policy
	log           logrus.FieldLogger
}

// NewExecutor builds an executor around provider.
func NewExecutor(provider Provider, opts ExecutorOptions) *Executor {
	e := &Executor{
		provider:      provider,
		timeout:       opts.Timeout,
		retry:         opts.Retry,
		includeImages: opts.IncludeImages,
		memo:          cache.New(cache.NoExpiration, 0),
		sanitizer:     bluemonday.StrictPolicy(),
		log:           opts.Logger,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.retry.MaxAttempts == 0 {
		e.retry = retry.DefaultConfig()
	}
	if opts.RequestDelay > 0 {
		e.limiter = rate.NewLimiter(rate.Every(opts.RequestDelay), 1)
	}
	if e.log == nil {
		e.log = logging.Discard()
	}
	return e
}

// Search runs query with the freshness constraint. Transient failures are
// retried and, once exhausted, reported through Response.Warning with a nil
// error. Fatal failures return *newsletter.SearchUnavailableError. Repeated
// calls with the same query and freshness return the memoized response.
func (e *Executor) Search(ctx context.Context, query string, freshness newsletter.Freshness) (Response, error) {
	key := query + "|" + freshness.Key()
	if cached, ok := e.memo.Get(key); ok {
		return cached.(Response), nil
	}

	// Concurrent pipelines asking the same question share one provider call.
	v, err, _ := e.inflight.Do(key, func() (interface{}, error) {
		return e.search(ctx, key, query, freshness)
	})
	if err != nil {
		return Response{}, err
	}
	return v.(Response), nil
}

func (e *Executor) search(ctx context.Context, key, query string, freshness newsletter.Freshness) (Response, error) {
	log := e.log.WithFields(logrus.Fields{"query": query, "provider": e.provider.Name()})

	var results []Result
	err := retry.WithBackoff(ctx, e.retry, func(ctx context.Context) error {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		res, err := e.provider.Search(callCtx, query, freshness)
		if err != nil {
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				err = newsletter.TransientError(e.provider.Name(), 0, fmt.Errorf("timed out after %s: %w", e.timeout, err))
			}
			log.WithError(err).Debug("Search attempt failed")
			return err
		}
		results = res
		return nil
	})

	switch {
	case err == nil:
	case ctx.Err() != nil:
		return Response{}, ctx.Err()
	case errors.Is(err, retry.ErrExhausted):
		log.WithError(err).Warn("Search gave up after transient failures")
		return Response{
			Query:   query,
			Warning: fmt.Sprintf("search for %q failed after retries: %v", query, err),
		}, nil
	default:
		return Response{}, &newsletter.SearchUnavailableError{Query: query, Err: err}
	}

	resp := Response{Query: query, Records: e.toRecords(query, results)}
	log.WithField("results", len(resp.Records)).Debug("Search completed")
	e.memo.Set(key, resp, cache.NoExpiration)
	return resp, nil
}

// toRecords converts provider results, dropping entries without a usable URL.
func (e *Executor) toRecords(query string, results []Result) []newsletter.SourceRecord {
	records := make([]newsletter.SourceRecord, 0, len(results))
	for rank, r := range results {
		normalized, err := newsletter.NormalizeURL(r.URL)
		if err != nil {
			e.log.WithError(err).Debug("Dropping search result with unusable URL")
			continue
		}
		snippet := e.clean(r.Snippet)
		score := r.Score
		if score <= 0 {
			score = 1 / float64(rank+1)
		}
		rec := newsletter.SourceRecord{
			URL:                  normalized,
			Title:                e.clean(r.Title),
			Snippet:              snippet,
			PublishedAt:          r.PublishedAt,
			EstimatedReadMinutes: newsletter.EstimateReadMinutes(snippet),
			RawScore:             score,
			Query:                query,
		}
		if e.includeImages {
			rec.ImageURL = strings.TrimSpace(r.ImageURL)
		}
		records = append(records, rec)
	}
	return records
}

// clean strips markup and collapses whitespace.
func (e *Executor) clean(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(e.sanitizer.Sanitize(s))), " ")
}
