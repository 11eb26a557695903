package helpers

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeText strips non-printable characters from s and trims surrounding
// whitespace. Runs of control characters collapse into a single space so word
// boundaries survive pasted content with embedded newlines or NUL bytes.
// Printable non-ASCII text (accents, inverted punctuation) is preserved.
// The function is idempotent: sanitizing twice equals sanitizing once.
func SanitizeText(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		if r == unicode.ReplacementChar || (!unicode.IsPrint(r) && r != ' ') {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = r == ' '
	}
	return strings.TrimSpace(b.String())
}

// ApproxTokens estimates the token count of s as its whitespace-delimited
// word count. This is a documented approximation used for context budgeting,
// not true tokenization.
func ApproxTokens(s string) int {
	return len(strings.Fields(s))
}

// TruncateChars returns at most n bytes of s, cut on a rune boundary.
func TruncateChars(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
