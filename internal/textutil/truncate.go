package textutil

import (
	"strings"
	"unicode/utf8"
)

// Ellipsis terminates values that were shortened by Truncate.
const Ellipsis = "…"

// CollapseWhitespace replaces every run of whitespace with a single space and
// trims the ends.
func CollapseWhitespace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

// Truncate returns value unchanged when it fits within limit runes. Longer
// values are cut so that the result, including the trailing ellipsis, is
// exactly limit runes long.
func Truncate(value string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit-1]) + Ellipsis
}

// CollapseAndTruncate collapses whitespace first and then applies Truncate.
func CollapseAndTruncate(value string, limit int) string {
	return Truncate(CollapseWhitespace(value), limit)
}

// Clip cuts value to at most limit runes without adding a marker.
func Clip(value string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}

// RuneLen reports the number of runes in value.
func RuneLen(value string) int {
	return utf8.RuneCountInString(value)
}
