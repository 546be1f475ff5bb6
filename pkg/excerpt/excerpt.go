// Package excerpt cuts long text down to a size limit at the cleanest
// boundary available: a paragraph break, then a sentence end, then a space.
package excerpt

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Head returns the start of text holding at most maxChars runes. It reports
// whether anything was cut. A maxChars of zero or less disables the limit.
func Head(text string, maxChars int) (string, bool) {
	text = strings.TrimSpace(text)
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text, false
	}

	limit := byteOffset(text, maxChars)
	window := text[:limit]

	// Whole paragraphs first, as long as they keep at least half the budget.
	if cut := strings.LastIndex(window, "\n\n"); cut >= limit/2 {
		return strings.TrimSpace(window[:cut]), true
	}
	if cut := lastSentenceEnd(window); cut >= limit/2 {
		return strings.TrimSpace(window[:cut]), true
	}
	if cut := strings.LastIndexFunc(window, unicode.IsSpace); cut > 0 {
		return strings.TrimSpace(window[:cut]), true
	}
	return window, true
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}

// lastSentenceEnd returns the byte index just past the last sentence
// terminator in s that is followed by whitespace, or -1.
func lastSentenceEnd(s string) int {
	runes := []rune(s)
	for i := len(runes) - 2; i >= 0; i-- {
		switch runes[i] {
		case '.', '!', '?':
			if unicode.IsSpace(runes[i+1]) {
				return len(string(runes[:i+1]))
			}
		}
	}
	return -1
}
