package agent

import "strings"

// Filter rejects disallowed questions before any model call. Matching is a
// case-insensitive substring check against the configured denylist; the
// filter is pure and does no I/O.
type Filter struct {
	terms []string
}

// NewFilter lowercases and trims the denylist once at construction.
func NewFilter(denylist []string) *Filter {
	terms := make([]string, 0, len(denylist))
	for _, t := range denylist {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			terms = append(terms, t)
		}
	}
	return &Filter{terms: terms}
}

// Allowed reports whether the question may proceed to the pipeline.
func (f *Filter) Allowed(question string) bool {
	q := strings.ToLower(question)
	for _, t := range f.terms {
		if strings.Contains(q, t) {
			return false
		}
	}
	return true
}
