// Package matcher finds the keyword a piece of text ends with.
package matcher

import (
	"sort"
	"strings"
	"unicode/utf8"

	"handy/internal/keywords"
)

// Result is a match ready to be applied to a surface.
type Result struct {
	Keyword string
	Snippet string
	Trigger rune
}

// Suffix returns the text the match replaces: keyword followed by trigger.
func (r Result) Suffix() string { return r.Keyword + string(r.Trigger) }

// Replacement returns the text the suffix is replaced with.
func (r Result) Replacement() string { return r.Snippet + string(r.Trigger) }

// Reason explains why Match found nothing.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNoCandidate
	ReasonFeedback
)

type entry struct {
	keyword string
	snippet string
	length  int
}

// Index is an immutable keyword index ordered by length descending, then
// lexicographically. The first suffix hit is therefore the longest match,
// ties going to the smallest keyword.
type Index struct {
	entries []entry
}

// NewIndex builds an index over m. Empty keywords are skipped.
func NewIndex(m keywords.Map) *Index {
	ix := &Index{entries: make([]entry, 0, len(m))}
	for k, v := range m {
		if k == "" {
			continue
		}
		ix.entries = append(ix.entries, entry{keyword: k, snippet: v, length: utf8.RuneCountInString(k)})
	}
	sort.Slice(ix.entries, func(i, j int) bool {
		a, b := ix.entries[i], ix.entries[j]
		if a.length != b.length {
			return a.length > b.length
		}
		return a.keyword < b.keyword
	})
	return ix
}

// Len returns the number of indexed keywords.
func (ix *Index) Len() int { return len(ix.entries) }

// Keywords returns the keywords in match priority order.
func (ix *Index) Keywords() []string {
	out := make([]string, len(ix.entries))
	for i, e := range ix.entries {
		out[i] = e.keyword
	}
	return out
}

// Match returns the best match for textBefore, the text preceding trigger.
func (ix *Index) Match(textBefore string, trigger rune) (Result, bool) {
	res, reason := ix.Explain(textBefore, trigger)
	return res, reason == ReasonNone
}

// Explain is Match with the reason for a miss. When the winning keyword's
// snippet already ends the text, the match is suppressed rather than
// falling through to shorter keywords.
func (ix *Index) Explain(textBefore string, trigger rune) (Result, Reason) {
	for _, e := range ix.entries {
		if !strings.HasSuffix(textBefore, e.keyword) {
			continue
		}
		if strings.HasSuffix(textBefore, e.snippet) {
			return Result{}, ReasonFeedback
		}
		return Result{Keyword: e.keyword, Snippet: e.snippet, Trigger: trigger}, ReasonNone
	}
	return Result{}, ReasonNoCandidate
}

// Match is a convenience for one-off lookups without a prebuilt index.
func Match(textBefore string, m keywords.Map, trigger rune) (Result, bool) {
	return NewIndex(m).Match(textBefore, trigger)
}
