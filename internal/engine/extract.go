// Package engine holds the deterministic pieces of the qualification
// conversation: text extractors, the qualification rule, the state
// machine, prompt rendering and FAQ routing. Nothing here performs I/O.
package engine

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mn-ai/mnvoice/pkg/protocol"
)

var (
	numberPattern = regexp.MustCompile(`\d+(\.\d+)?`)
	emailPattern  = regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)
)

// keywordSet maps a value to the substrings that identify it.
// Sets are checked in slice order and the first hit wins.
type keywordSet[T any] struct {
	value    T
	keywords []string
}

var languageKeywords = []keywordSet[protocol.Language]{
	{protocol.LanguageHindi, []string{"hindi", "हिंदी"}},
	{protocol.LanguageHinglish, []string{"hinglish", "mix"}},
	{protocol.LanguageEnglish, []string{"english", "eng"}},
}

var regionKeywords = []keywordSet[protocol.Region]{
	{protocol.RegionSouthIndia, []string{
		"karnataka", "ka", "tamil nadu", "tn", "telangana", "tg", "andhra", "ap", "kerala", "kl",
	}},
	{protocol.RegionMaharashtra, []string{"maharashtra", "mh", "pune", "mumbai", "nagpur"}},
	{protocol.RegionDelhiNCR, []string{"delhi", "ncr", "gurgaon", "gurugram", "noida", "ghaziabad"}},
}

var timelineKeywords = []keywordSet[protocol.TimelineBucket]{
	{protocol.TimelineImmediate, []string{"immediate", "asap", "now"}},
	{protocol.Timeline1Month, []string{"1 month", "one month"}},
	{protocol.Timeline2To3, []string{"2 months", "3 months", "2-3", "2 to 3"}},
	{protocol.Timeline3Plus, []string{"later", "next year", "3+"}},
}

func matchKeywords[T any](text string, sets []keywordSet[T], fallback T) T {
	t := strings.ToLower(text)
	for _, set := range sets {
		for _, k := range set.keywords {
			if strings.Contains(t, k) {
				return set.value
			}
		}
	}
	return fallback
}

// ExtractLanguage detects the preferred language (hindi > hinglish > english).
func ExtractLanguage(text string) protocol.Language {
	return matchKeywords(text, languageKeywords, protocol.LanguageUnknown)
}

// ExtractRegion maps a city or state mention to a service region.
func ExtractRegion(text string) protocol.Region {
	return matchKeywords(text, regionKeywords, protocol.RegionUnknown)
}

// ExtractTimeline buckets the caller's start window.
func ExtractTimeline(text string) protocol.TimelineBucket {
	return matchKeywords(text, timelineKeywords, protocol.TimelineUnknown)
}

// ExtractBudget classifies the first number in text as a budget band in lakhs.
func ExtractBudget(text string) protocol.BudgetBand {
	m := numberPattern.FindString(text)
	if m == "" {
		return protocol.BudgetUnknown
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return protocol.BudgetUnknown
	}
	switch {
	case v < 6:
		return protocol.BudgetBelow6L
	case v <= 9:
		return protocol.Budget6To9L
	default:
		return protocol.BudgetAbove9L
	}
}

// ExtractEmail returns the first email address in text.
func ExtractEmail(text string) (string, bool) {
	m := emailPattern.FindString(text)
	return m, m != ""
}

// ExtractRoomSize keeps the caller's answer as free text.
func ExtractRoomSize(text string) string {
	return strings.TrimSpace(text)
}
