package fts

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize implements spec.md §4.9's diacritic policy: the Nordic
// vowels ä ö å Ä Ö Å are preserved as distinct letters, every other
// diacritic is folded away, so "fiancé" matches "fiance" but "Öl" never
// matches "Ol".
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isNordicVowel(r) {
			b.WriteRune(r)
			continue
		}
		for _, d := range norm.NFD.String(string(r)) {
			if unicode.Is(unicode.Mn, d) {
				continue
			}
			b.WriteRune(d)
		}
	}
	return b.String()
}

func isNordicVowel(r rune) bool {
	switch r {
	case 'ä', 'ö', 'å', 'Ä', 'Ö', 'Å':
		return true
	default:
		return false
	}
}
