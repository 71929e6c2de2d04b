// Package planner turns a category into a small set of diversified search
// queries.
package planner

import (
	"fmt"
	"strings"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
)

// angles are appended to the category in order; the quality level decides
// how many are used.
var angles = []string{
	"latest news",
	"major announcements",
	"industry analysis",
	"research breakthroughs",
}

// QueryCount returns how many queries are planned for a quality level.
func QueryCount(quality int) int {
	switch {
	case quality >= 5:
		return 4
	case quality >= 3:
		return 3
	default:
		return 2
	}
}

// Plan produces 2-4 distinct queries for category. The first query always
// carries the date constraint when one is set.
func Plan(category string, f newsletter.Freshness, quality int) ([]string, error) {
	name := strings.Join(strings.Fields(category), " ")
	if name == "" {
		return nil, &newsletter.InvalidCategoryError{Category: category}
	}

	n := QueryCount(quality)
	queries := make([]string, 0, n)
	for i := 0; i < n; i++ {
		q := name + " " + angles[i]
		if i == 0 {
			if suffix := freshnessPhrase(f); suffix != "" {
				q += " " + suffix
			}
		}
		queries = append(queries, q)
	}

	return diversify(queries), nil
}

// freshnessPhrase renders the date constraint as query text.
func freshnessPhrase(f newsletter.Freshness) string {
	if !f.Date.IsZero() {
		return fmt.Sprintf("on %s", f.Date.Format("January 2, 2006"))
	}
	switch f.Range {
	case newsletter.PastDay:
		return "today"
	case newsletter.PastWeek:
		return "this week"
	case newsletter.PastMonth:
		return "this month"
	case newsletter.PastYear:
		return "this year"
	}
	return ""
}

// diversify drops queries that repeat or are contained in an earlier kept query
// (and vice versa), keeping the first occurrence.
func diversify(queries []string) []string {
	kept := make([]string, 0, len(queries))
	for _, q := range queries {
		lq := strings.ToLower(q)
		redundant := false
		for _, k := range kept {
			lk := strings.ToLower(k)
			if strings.Contains(lk, lq) || strings.Contains(lq, lk) {
				redundant = true
				break
			}
		}
		if !redundant {
			kept = append(kept, q)
		}
	}
	return kept
}
