package keywords

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxKeywords caps every extraction result so the inverted index stays small.
const maxKeywords = 10

// tokenRe matches runs of Latin letters or CJK ideographs. Everything else
// (digits, punctuation, whitespace) separates tokens.
var tokenRe = regexp.MustCompile(`[a-zA-Z]+|\p{Han}+`)

// Tokenize is the deterministic fallback extractor: lowercased alphabetic or
// CJK runs longer than one rune, deduplicated preserving first occurrence,
// capped at maxKeywords. It is used whenever the LLM extractor is
// unconfigured, times out, or returns garbage.
func Tokenize(question string, steps []string) []string {
	text := question
	if len(steps) > 0 {
		text += " " + strings.Join(steps, " ")
	}

	seen := make(map[string]struct{})
	var out []string
	for _, tok := range tokenRe.FindAllString(text, -1) {
		if utf8.RuneCountInString(tok) <= 1 {
			continue
		}
		tok = strings.ToLower(tok)
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) >= maxKeywords {
			break
		}
	}
	return out
}

// normalize lowercases, trims, and dedupes an extracted keyword list,
// dropping empty and single-rune entries and capping at maxKeywords.
func normalize(raw []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, kw := range raw {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if utf8.RuneCountInString(kw) <= 1 {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
		if len(out) >= maxKeywords {
			break
		}
	}
	return out
}
