package view

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// letterFolds maps letters that carry no combining mark after NFD.
var letterFolds = strings.NewReplacer(
	"đ", "d", "Đ", "D",
	"ł", "l", "Ł", "L",
	"ø", "o", "Ø", "O",
)

// Fold removes diacritics: decompose, strip combining marks, recompose, then
// map the stroked letters NFD leaves alone.
func Fold(s string) string {
	// transformers are stateful, build one per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return letterFolds.Replace(out)
}

// Matches reports whether needle occurs in haystack ignoring case and
// diacritics. The raw and folded forms of both sides are tried. An empty
// needle matches everything.
func Matches(haystack, needle string) bool {
	n := strings.ToLower(strings.TrimSpace(needle))
	if n == "" {
		return true
	}
	h := strings.ToLower(haystack)
	fn := strings.ToLower(Fold(n))
	fh := strings.ToLower(Fold(h))

	return strings.Contains(h, n) ||
		strings.Contains(h, fn) ||
		strings.Contains(fh, n) ||
		strings.Contains(fh, fn)
}
