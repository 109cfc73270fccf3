// Package match scores CRM deal names against Projects-system project names
// for deals that carry no usable project identifier.
package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

	slashDateSuffix = regexp.MustCompile(`\s*[-–—]\s*\d{1,2}/\d{1,2}/\d{2,4}\s*$`)
	isoDateSuffix   = regexp.MustCompile(`\s*[-–—]\s*\d{4}-\d{1,2}-\d{1,2}\s*$`)
)

// Normalize folds accents, lowercases and reduces s to alphanumeric tokens
// separated by single spaces.
func Normalize(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(folded), " "))
}

// StripDateSuffix removes a trailing " - 3/4/2024" or " - 2024-03-04" from a
// deal name.
func StripDateSuffix(name string) string {
	s := slashDateSuffix.ReplaceAllString(name, "")
	s = isoDateSuffix.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// tokens returns the distinct tokens of a normalized string with at least
// three characters.
func tokens(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(normalized) {
		if len(tok) >= 3 {
			set[tok] = true
		}
	}
	return set
}
