// Package dicomnorm normalizes DICOM string values for identifier
// indexing and lookup. The same transform must be applied when a value
// is stored and when a caller searches for it, or the index silently
// stops matching.
package dicomnorm

import (
	"strings"
	"unicode"
)

// Normalize strips leading/trailing whitespace, drops characters outside
// the ASCII range, and uppercases the result. It is idempotent:
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(value string) string {
	trimmed := strings.TrimSpace(value)

	ascii := make([]rune, 0, len(trimmed))
	for _, r := range trimmed {
		if r <= unicode.MaxASCII {
			ascii = append(ascii, r)
		}
	}

	return strings.ToUpper(string(ascii))
}
