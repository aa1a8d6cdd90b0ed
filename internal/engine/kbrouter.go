package engine

import "strings"

// FAQEntry is one keyword → canned answer pair from the knowledge base.
type FAQEntry struct {
	Keyword string `json:"keyword"`
	Answer  string `json:"answer"`
}

// Router answers FAQ-style questions by keyword lookup.
// Entries are checked in declaration order; the first keyword found wins.
type Router struct {
	entries []FAQEntry
}

// NewRouter copies entries, lower-casing keywords and skipping blank ones.
// A nil or empty slice yields a router that never matches.
func NewRouter(entries []FAQEntry) *Router {
	r := &Router{entries: make([]FAQEntry, 0, len(entries))}
	for _, e := range entries {
		kw := strings.ToLower(strings.TrimSpace(e.Keyword))
		if kw == "" || e.Answer == "" {
			continue
		}
		r.entries = append(r.entries, FAQEntry{Keyword: kw, Answer: e.Answer})
	}
	return r
}

// Route returns the answer for the first keyword contained in text.
func (r *Router) Route(text string) (string, bool) {
	if r == nil || text == "" {
		return "", false
	}
	normalized := strings.ToLower(text)
	for _, e := range r.entries {
		if strings.Contains(normalized, e.Keyword) {
			return e.Answer, true
		}
	}
	return "", false
}

// Len returns the number of usable entries.
func (r *Router) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}
