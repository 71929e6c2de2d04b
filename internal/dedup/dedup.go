// Package dedup collapses near-duplicate search results across queries.
package dedup

import (
	"sort"
	"strings"
	"unicode"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
)

// DefaultThreshold is the title similarity at or above which two records
// are considered the same story.
const DefaultThreshold = 0.8

// SimilarityFunc scores two titles in [0, 1].
type SimilarityFunc func(a, b string) float64

// Deduplicator removes duplicate SourceRecords. The zero value uses
// TokenOverlap and DefaultThreshold.
type Deduplicator struct {
	Similarity SimilarityFunc
	Threshold  float64
}

// New returns a Deduplicator with the default similarity rule.
func New() *Deduplicator {
	return &Deduplicator{Similarity: TokenOverlap, Threshold: DefaultThreshold}
}

// Dedupe returns one representative per duplicate cluster. Two records are
// duplicates when their URLs match or their titles are similar enough, and
// duplication is transitive: a record similar to two clusters joins them.
// The representative has the highest RawScore, then the earliest discovery
// order. Survivors keep the relative order of their representatives.
//
// Records without a Discovery number are ordered after every numbered
// record, by input position.
func (d *Deduplicator) Dedupe(records []newsletter.SourceRecord) []newsletter.SourceRecord {
	if len(records) == 0 {
		return nil
	}
	sim := d.Similarity
	if sim == nil {
		sim = TokenOverlap
	}
	threshold := d.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	parent := make([]int, len(records))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	firstByURL := make(map[string]int, len(records))
	for i, rec := range records {
		if j, ok := firstByURL[rec.URL]; ok {
			union(i, j)
		} else {
			firstByURL[rec.URL] = i
		}
		for j := 0; j < i; j++ {
			if find(i) == find(j) {
				continue
			}
			if sim(records[j].Title, rec.Title) >= threshold {
				union(i, j)
			}
		}
	}

	keys := discoveryKeys(records)
	rep := make(map[int]int)
	for i := range records {
		root := find(i)
		cur, ok := rep[root]
		if !ok || better(records[i], keys[i], records[cur], keys[cur]) {
			rep[root] = i
		}
	}

	reps := make([]int, 0, len(rep))
	for _, i := range rep {
		reps = append(reps, i)
	}
	sort.Ints(reps)

	out := make([]newsletter.SourceRecord, 0, len(reps))
	for _, i := range reps {
		out = append(out, records[i])
	}
	return out
}

// better reports whether candidate a should replace b.
func better(a newsletter.SourceRecord, aKey int, b newsletter.SourceRecord, bKey int) bool {
	if a.RawScore != b.RawScore {
		return a.RawScore > b.RawScore
	}
	return aKey < bKey
}

// discoveryKeys returns a comparable discovery order per record. Assigned
// Discovery numbers are kept; unassigned records are numbered after the
// highest assigned one in input order.
func discoveryKeys(records []newsletter.SourceRecord) []int {
	highest := 0
	for _, r := range records {
		if r.Discovery > highest {
			highest = r.Discovery
		}
	}
	keys := make([]int, len(records))
	for i, r := range records {
		if r.Discovery > 0 {
			keys[i] = r.Discovery
		} else {
			keys[i] = highest + i + 1
		}
	}
	return keys
}

// TokenOverlap is the token-set overlap ratio |A∩B| / min(|A|,|B|) over
// lower-cased alphanumeric tokens. Empty token sets never match.
func TokenOverlap(a, b string) float64 {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	shared := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(ta))
}

// Tokens splits s into its set of lower-cased alphanumeric words.
func Tokens(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
