package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
	"github.com/ryosukesatoh/daily-brief/internal/retry"
	"github.com/ryosukesatoh/daily-brief/internal/search"
	"github.com/ryosukesatoh/daily-brief/internal/summarizer"
)

// fakeProvider fails the queries listed in errs and answers the rest.
type fakeProvider struct {
	results map[string][]search.Result
	errs    map[string]error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Search(_ context.Context, query string, _ newsletter.Freshness) ([]search.Result, error) {
	if err, ok := f.errs[query]; ok {
		return nil, err
	}
	return f.results[query], nil
}

type mockSearcher struct {
	responses map[string]search.Response
	errs      map[string]error
}

func (m *mockSearcher) Search(_ context.Context, query string, _ newsletter.Freshness) (search.Response, error) {
	if err, ok := m.errs[query]; ok {
		return search.Response{}, err
	}
	return m.responses[query], nil
}

type mockSummarizer struct {
	mu     sync.Mutex
	fail   map[string]bool
	calls  []string
	inputs []summarizer.Input
}

func (m *mockSummarizer) Summarize(ctx context.Context, in summarizer.Input) (newsletter.DigestEntry, error) {
	if err := ctx.Err(); err != nil {
		return newsletter.DigestEntry{}, err
	}
	rec := in.Records[0]
	m.mu.Lock()
	m.calls = append(m.calls, rec.URL)
	m.inputs = append(m.inputs, in)
	m.mu.Unlock()
	if m.fail[rec.URL] {
		return newsletter.DigestEntry{}, &newsletter.SummarizationError{URL: rec.URL, Err: errors.New("model refused")}
	}
	return newsletter.DigestEntry{
		Headline:  "H: " + rec.Title,
		Summary:   "S",
		SourceURL: rec.URL,
		Category:  in.Category,
	}, nil
}

func fixedPlan(queries ...string) PlanFunc {
	return func(string, newsletter.Freshness, int) ([]string, error) {
		return queries, nil
	}
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRunTransientFailuresStillReachDone(t *testing.T) {
	transient := newsletter.TransientError("fake", 429, errors.New("slow down"))
	provider := &fakeProvider{
		errs: map[string]error{"q1": transient, "q2": transient},
		results: map[string][]search.Result{
			"q3": {
				{URL: "https://a.com/1", Title: "Quantum chips arrive"},
				{URL: "https://b.com/2", Title: "Fusion record broken"},
			},
		},
	}
	exec := search.NewExecutor(provider, search.ExecutorOptions{Retry: fastRetry()})
	sum := &mockSummarizer{}

	var states []newsletter.State
	p := New(exec, sum, Options{
		Plan:         fixedPlan("q1", "q2", "q3"),
		MaxArticles:  5,
		OnTransition: func(_ string, s newsletter.State) { states = append(states, s) },
	})

	res, err := p.Run(context.Background(), "Science")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.State != newsletter.StateDone {
		t.Fatalf("Expected DONE, got %s (warnings: %v)", res.State, res.Warnings)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("Expected 2 entries from the successful query, got %d", len(res.Entries))
	}
	for _, e := range res.Entries {
		if !strings.HasPrefix(e.SourceURL, "https://a.com") && !strings.HasPrefix(e.SourceURL, "https://b.com") {
			t.Errorf("Unexpected entry source %q", e.SourceURL)
		}
	}
	if len(res.Warnings) != 2 {
		t.Errorf("Expected a warning per failed query, got %v", res.Warnings)
	}

	want := []newsletter.State{
		newsletter.StatePlanning, newsletter.StateSearching, newsletter.StateDeduping,
		newsletter.StateSummarizing, newsletter.StateDone,
	}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("Expected transitions %v, got %v", want, states)
	}
}

func TestRunCapsToRankedSources(t *testing.T) {
	var results []newsletter.SourceRecord
	scores := []float64{0.1, 0.9, 0.5, 0.9, 0.3, 0.7, 0.2, 0.6, 0.4, 0.8}
	for i, s := range scores {
		results = append(results, newsletter.SourceRecord{
			URL:      fmt.Sprintf("https://news.example.com/%d", i),
			Title:    fmt.Sprintf("story%d", i),
			RawScore: s,
		})
	}
	searcher := &mockSearcher{responses: map[string]search.Response{"q": {Query: "q", Records: results}}}
	sum := &mockSummarizer{}
	p := New(searcher, sum, Options{Plan: fixedPlan("q"), MaxArticles: 3})

	res, err := p.Run(context.Background(), "Tech")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	got := make([]string, len(res.Entries))
	for i, e := range res.Entries {
		got[i] = e.SourceURL
	}
	// 0.9 (discovery 2), 0.9 (discovery 4), 0.8
	want := []string{"https://news.example.com/1", "https://news.example.com/3", "https://news.example.com/9"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if len(sum.calls) != 3 {
		t.Errorf("Expected only 3 sources summarized, got %d", len(sum.calls))
	}
}

func TestRunInvalidCategoryFails(t *testing.T) {
	searcher := &mockSearcher{}
	p := New(searcher, &mockSummarizer{}, Options{})

	res, err := p.Run(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.State != newsletter.StateFailed || len(res.Entries) != 0 || len(res.Warnings) != 1 {
		t.Errorf("Expected FAILED with one warning, got %+v", res)
	}
}

func TestRunSearchUnavailableFails(t *testing.T) {
	searcher := &mockSearcher{
		responses: map[string]search.Response{"q1": {Records: []newsletter.SourceRecord{{URL: "https://a.com", Title: "A", RawScore: 1}}}},
		errs:      map[string]error{"q2": &newsletter.SearchUnavailableError{Query: "q2", Err: errors.New("401")}},
	}
	sum := &mockSummarizer{}
	p := New(searcher, sum, Options{Plan: fixedPlan("q1", "q2")})

	res, err := p.Run(context.Background(), "Tech")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.State != newsletter.StateFailed || len(res.Entries) != 0 {
		t.Fatalf("Expected FAILED with no entries, got %+v", res)
	}
	if !strings.Contains(res.Warnings[len(res.Warnings)-1], "search failed") {
		t.Errorf("Expected terminal search warning, got %v", res.Warnings)
	}
	if len(sum.calls) != 0 {
		t.Error("Expected no summarization after a failed search")
	}
}

func TestRunSkipsFailedSummaries(t *testing.T) {
	searcher := &mockSearcher{responses: map[string]search.Response{"q": {Records: []newsletter.SourceRecord{
		{URL: "https://a.com/1", Title: "Alpha launch", RawScore: 0.9},
		{URL: "https://b.com/2", Title: "Beta outage", RawScore: 0.8},
	}}}}
	sum := &mockSummarizer{fail: map[string]bool{"https://a.com/1": true}}
	p := New(searcher, sum, Options{Plan: fixedPlan("q")})

	res, _ := p.Run(context.Background(), "Tech")
	if res.State != newsletter.StateDone || len(res.Entries) != 1 || res.Entries[0].SourceURL != "https://b.com/2" {
		t.Fatalf("Expected the surviving entry only, got %+v", res)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("Expected one skip warning, got %v", res.Warnings)
	}
}

func TestRunAllSummariesFail(t *testing.T) {
	searcher := &mockSearcher{responses: map[string]search.Response{"q": {Records: []newsletter.SourceRecord{
		{URL: "https://a.com/1", Title: "Alpha launch", RawScore: 0.9},
	}}}}
	sum := &mockSummarizer{fail: map[string]bool{"https://a.com/1": true}}
	p := New(searcher, sum, Options{Plan: fixedPlan("q")})

	res, err := p.Run(context.Background(), "Tech")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.State != newsletter.StateDone || !res.Empty() {
		t.Fatalf("Expected DONE with zero entries, got %+v", res)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("Expected skip and empty warnings, got %v", res.Warnings)
	}
}

func TestRunDeduplicatesAcrossQueries(t *testing.T) {
	searcher := &mockSearcher{responses: map[string]search.Response{
		"q1": {Records: []newsletter.SourceRecord{{URL: "https://a.com/1", Title: "Apple unveils new chip", RawScore: 0.5}}},
		"q2": {Records: []newsletter.SourceRecord{
			{URL: "https://b.com/x", Title: "Apple unveils new chip", RawScore: 0.7},
			{URL: "https://a.com/1", Title: "Apple unveils new chip", RawScore: 0.5},
		}},
	}}
	sum := &mockSummarizer{}
	p := New(searcher, sum, Options{Plan: fixedPlan("q1", "q2")})

	res, _ := p.Run(context.Background(), "Tech")
	if len(res.Entries) != 1 || res.Entries[0].SourceURL != "https://b.com/x" {
		t.Fatalf("Expected single highest-scored representative, got %+v", res.Entries)
	}
}

type stubFilter struct{ seen map[string]bool }

func (s stubFilter) Published(_ context.Context, urls []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, u := range urls {
		if s.seen[u] {
			out[u] = true
		}
	}
	return out, nil
}

type upperEnricher struct{}

func (upperEnricher) Enrich(_ context.Context, rec newsletter.SourceRecord) (newsletter.SourceRecord, error) {
	rec.Snippet = strings.ToUpper(rec.Title)
	return rec, nil
}

func TestRunFiltersAndEnriches(t *testing.T) {
	searcher := &mockSearcher{responses: map[string]search.Response{"q": {Records: []newsletter.SourceRecord{
		{URL: "https://a.com/old", Title: "Old story", RawScore: 0.9},
		{URL: "https://a.com/low", Title: "Low score", RawScore: 0.05},
		{URL: "https://a.com/blank", Title: "  ", RawScore: 0.9},
		{URL: "https://a.com/new", Title: "New story", RawScore: 0.6},
	}}}}
	sum := &mockSummarizer{}
	p := New(searcher, sum, Options{
		Plan:         fixedPlan("q"),
		MinScore:     0.1,
		Published:    stubFilter{seen: map[string]bool{"https://a.com/old": true}},
		Enricher:     upperEnricher{},
		Instructions: func(c string) string { return "focus on " + c },
	})

	res, _ := p.Run(context.Background(), "Tech")
	if len(res.Entries) != 1 || res.Entries[0].SourceURL != "https://a.com/new" {
		t.Fatalf("Expected only the new story, got %+v", res.Entries)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "already published") {
		t.Errorf("Expected published warning, got %v", res.Warnings)
	}
	in := sum.inputs[0]
	if in.Records[0].Snippet != "NEW STORY" {
		t.Errorf("Expected enriched record, got %q", in.Records[0].Snippet)
	}
	if in.Instructions != "focus on Tech" {
		t.Errorf("Expected category instructions, got %q", in.Instructions)
	}
}

type imageEnricher struct{}

func (imageEnricher) Enrich(_ context.Context, rec newsletter.SourceRecord) (newsletter.SourceRecord, error) {
	rec.ImageURL = "https://img.example/" + rec.Title + ".png"
	return rec, nil
}

func TestRunEnrichedImagesFollowIncludeImages(t *testing.T) {
	for _, include := range []bool{false, true} {
		searcher := &mockSearcher{responses: map[string]search.Response{"q": {Records: []newsletter.SourceRecord{
			{URL: "https://a.com/1", Title: "Alpha", RawScore: 0.9},
		}}}}
		sum := &mockSummarizer{}
		p := New(searcher, sum, Options{
			Plan:          fixedPlan("q"),
			Enricher:      imageEnricher{},
			IncludeImages: include,
		})

		if _, err := p.Run(context.Background(), "Tech"); err != nil {
			t.Fatalf("include=%v: Run returned error: %v", include, err)
		}
		got := sum.inputs[0].Records[0].ImageURL
		if include && got != "https://img.example/Alpha.png" {
			t.Errorf("Expected enriched image kept, got %q", got)
		}
		if !include && got != "" {
			t.Errorf("Expected enriched image dropped without include_images, got %q", got)
		}
	}
}

func TestTerminalStateIsFinal(t *testing.T) {
	var seen []newsletter.State
	p := New(&mockSearcher{}, &mockSummarizer{}, Options{
		OnTransition: func(_ string, s newsletter.State) { seen = append(seen, s) },
	})
	r := &run{p: p, result: newsletter.CategoryResult{Category: "Tech"}, log: p.opts.Logger}

	r.transition(newsletter.StateSearching)
	r.transition(newsletter.StateFailed)
	r.transition(newsletter.StateDone)
	r.transition(newsletter.StateSummarizing)

	if r.result.State != newsletter.StateFailed {
		t.Fatalf("Expected FAILED to stick, got %s", r.result.State)
	}
	if len(seen) != 2 {
		t.Errorf("Expected 2 reported transitions, got %v", seen)
	}
}

func TestRunCancelled(t *testing.T) {
	searcher := &mockSearcher{responses: map[string]search.Response{"q": {Records: []newsletter.SourceRecord{
		{URL: "https://a.com/1", Title: "Alpha", RawScore: 0.9},
	}}}}
	p := New(searcher, &mockSummarizer{}, Options{Plan: fixedPlan("q")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Run(ctx, "Tech"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}
