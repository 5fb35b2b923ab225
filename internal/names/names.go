// Package names derives stable profile identifiers from player display names.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// Slug derives a profile id from a display name: lowercase, no diacritics,
// runs of whitespace/dashes/underscores collapsed to single dashes. The same
// display name always yields the same id.
func Slug(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(strings.TrimSpace(name))

	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Normalize prepares a name for comparison (lowercase, no diacritics,
// dashes treated as spaces).
func Normalize(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return strings.TrimSpace(name)
}

// Equal reports whether two display names refer to the same player after
// normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
