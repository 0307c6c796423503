package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizeSKU strips all whitespace and upper-cases the token so SKUs typed in different
// formats compare equal ("  pack boxes " and "PackBoxes" both become "PACKBOXES").
func NormalizeSKU(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	if stripped == "" {
		return ""
	}
	// Casers keep state and are not safe for concurrent use.
	return cases.Upper(language.Und).String(stripped)
}
