package align

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Normalize lowercases text, strips punctuation, collapses whitespace, and
// returns the resulting token sequence. Script text and transcript text run
// through the same normalization so tokens compare directly.
func Normalize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			// Punctuation is dropped entirely so "today." equals "today".
		}
	}
	return strings.Fields(b.String())
}

// phoneticCodes returns the primary Double Metaphone code for each token.
// Tokens too short to produce a code get the empty string, which never
// matches anything.
func phoneticCodes(tokens []string) []string {
	codes := make([]string, len(tokens))
	for i, t := range tokens {
		codes[i], _ = matchr.DoubleMetaphone(t)
	}
	return codes
}
