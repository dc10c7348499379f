// Package normalize canonicalizes message text before rule matching and
// feature hashing. Both consumers must see exactly the same output.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// leet maps look-alike digits and symbols to the letters they stand in for.
var leet = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'8': 'b',
	'@': 'a',
	'$': 's',
}

// glyphHints turns a few high-signal emoji into words the rules can match.
var glyphHints = map[rune]string{
	'📱': "phone",
	'📞': "phone",
	'☎': "phone",
	'📲': "phone",
	'📷': "camera",
	'📸': "camera",
	'🤫': "secret",
	'🎁': "gift",
	'💰': "money",
	'💵': "money",
	'💸': "money",
	'📍': "location",
}

// Normalize folds text to NFKC, lowercases it, strips invisible format
// characters, undoes leet-speak next to letters, expands glyph hints and
// collapses whitespace. Re-applying it to its own output is safe.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	folded := strings.ToLower(norm.NFKC.String(text))

	runes := make([]rune, 0, len(folded))
	for _, r := range folded {
		if r == unicode.ReplacementChar || unicode.Is(unicode.Cf, r) || unicode.Is(unicode.Variation_Selector, r) {
			continue
		}
		runes = append(runes, r)
	}

	var b strings.Builder
	b.Grow(len(runes) + 8)
	for i, r := range runes {
		if hint, ok := glyphHints[r]; ok {
			b.WriteByte(' ')
			b.WriteString(hint)
			b.WriteByte(' ')
			continue
		}
		if sub, ok := leet[r]; ok && nextToLetter(runes, i) {
			b.WriteRune(sub)
			continue
		}
		b.WriteRune(r)
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// nextToLetter reports whether the rune at i has a letter on either side.
// Pure numbers such as "12345" or "555-0100" are left alone.
func nextToLetter(runes []rune, i int) bool {
	if i > 0 && unicode.IsLetter(runes[i-1]) {
		return true
	}
	if i+1 < len(runes) && unicode.IsLetter(runes[i+1]) {
		return true
	}
	return false
}
