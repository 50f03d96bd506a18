// Package match implements the keyword matcher that decides whether a
// comment triggers an automation.
//
// Matching is deliberately simple: each keyword is tested as a literal
// substring of the comment text, in the order the owner configured them, and
// the first hit wins. Case-insensitive mode uses Unicode case folding rather
// than ASCII lowercasing so that comments in non-Latin scripts fold the same
// way the platform renders them.
package match

import (
	"strings"

	"golang.org/x/text/cases"
)

// Match reports the first keyword contained in text, honoring keyword order.
// With caseSensitive false both sides are case folded before comparison.
// Empty text never matches; an empty keyword list never matches.
func Match(text string, keywords []string, caseSensitive bool) (string, bool) {
	if text == "" || len(keywords) == 0 {
		return "", false
	}
	haystack := text
	if !caseSensitive {
		// cases.Caser carries internal state; build one per call.
		haystack = cases.Fold().String(text)
	}
	for _, kw := range keywords {
		needle := kw
		if !caseSensitive {
			needle = cases.Fold().String(kw)
		}
		if strings.Contains(haystack, needle) {
			return kw, true
		}
	}
	return "", false
}
