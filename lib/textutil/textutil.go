package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// CollapseWhitespace trims the string and turns every run of whitespace into a single space.
func CollapseWhitespace(s string) string {
	return whitespaceRegex.ReplaceAllString(strings.TrimSpace(s), " ")
}

// FoldAccents removes diacritics, "SITUAÇÃO" becomes "SITUACAO".
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// asciiAlnum upper-cases s and drops everything that is not [A-Z0-9].
func asciiAlnum(s string) string {
	s = strings.ToUpper(s)
	var b strings.Builder
	for _, c := range s {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// Tokens returns the comparable forms of a cell value.
//
// The first form strips every non-ascii alphanumeric character without folding, so
// text that went through a broken encoding ("SITUA��O") and text that kept
// its accents ("SITUAÇÃO") both collapse to "SITUAO". The second form folds accents
// first so that correctly encoded text also matches its unaccented spelling ("SITUACAO").
func Tokens(s string) (stripped, folded string) {
	return asciiAlnum(s), asciiAlnum(FoldAccents(s))
}

// MatchToken reports whether any comparable form of s equals one of the tokens.
func MatchToken(s string, tokens []string) bool {
	stripped, folded := Tokens(s)
	for _, t := range tokens {
		if stripped == t || folded == t {
			return true
		}
	}
	return false
}

// ContainsAnyFold reports whether s contains any of the needles, ignoring case
// and accents.
func ContainsAnyFold(s string, needles []string) bool {
	s = strings.ToLower(FoldAccents(s))
	for _, n := range needles {
		if strings.Contains(s, strings.ToLower(FoldAccents(n))) {
			return true
		}
	}
	return false
}
