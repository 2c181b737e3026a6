// Package channels holds helpers shared by platform channel packages.
package channels

import "unicode/utf8"

const ellipsis = "..."

// Truncate cuts s to at most maxRunes runes. A cut string ends in "...",
// which counts toward the limit.
func Truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	r := []rune(s)
	if maxRunes <= len(ellipsis) {
		return string(r[:max(maxRunes, 0)])
	}
	return string(r[:maxRunes-len(ellipsis)]) + ellipsis
}
