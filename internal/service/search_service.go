package service

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/vedran77/ripple/internal/domain"
)

// Per-field match scores. A candidate's total is the sum over all
// configured fields; candidates totalling 0 are dropped.
const (
	scoreExact     = 100
	scorePrefix    = 50
	scoreSubstring = 20
)

// SearchField extracts one searchable field from a candidate. Return ""
// when the candidate has no such field; it then contributes 0.
type SearchField func(r *domain.SearchResult) string

func NameField(r *domain.SearchResult) string {
	switch {
	case r.User != nil:
		return r.User.Name
	case r.Conversation != nil:
		return r.Conversation.Name
	}
	return ""
}

func HandleField(r *domain.SearchResult) string {
	switch {
	case r.User != nil:
		return r.User.Handle
	case r.Conversation != nil:
		return r.Conversation.Handle
	}
	return ""
}

func EmailField(r *domain.SearchResult) string {
	if r.User != nil {
		return r.User.Email
	}
	return ""
}

// SearchRanker scores candidate records against a free-text query over a
// configurable set of fields.
type SearchRanker struct {
	fields []SearchField
}

// NewSearchRanker builds a ranker; with no fields given it searches name,
// handle and email.
func NewSearchRanker(fields ...SearchField) *SearchRanker {
	if len(fields) == 0 {
		fields = []SearchField{NameField, HandleField, EmailField}
	}
	return &SearchRanker{fields: fields}
}

// Rank scores and orders candidates by descending total score, keeping the
// relative input order on ties. An empty query yields an empty result.
// Candidates are not mutated; scores are set on the returned copies.
func (s *SearchRanker) Rank(query string, candidates []domain.SearchResult) []domain.SearchResult {
	fold := cases.Fold()
	q := fold.String(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	var out []domain.SearchResult
	for _, cand := range candidates {
		total := 0
		for _, field := range s.fields {
			v := field(&cand)
			if v == "" {
				continue
			}
			total += matchScore(fold.String(v), q)
		}
		if total == 0 {
			continue
		}
		cand.Score = total
		out = append(out, cand)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// matchScore compares a case-folded field against a case-folded query.
func matchScore(field, query string) int {
	switch {
	case field == query:
		return scoreExact
	case strings.HasPrefix(field, query):
		return scorePrefix
	case strings.Contains(field, query):
		return scoreSubstring
	}
	return 0
}
