// Package fingerprint canonicalizes source text and computes stable content hashes.
//
// Two texts that differ only in line-ending convention, trailing whitespace or
// surrounding blank lines produce the same fingerprint.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Normalize converts line endings to "\n", strips trailing whitespace from
// every line and trims leading and trailing blank lines.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}

	start := 0
	for start < len(lines) && lines[start] == "" {
		start++
	}
	end := len(lines)
	for end > start && lines[end-1] == "" {
		end--
	}

	return strings.Join(lines[start:end], "\n")
}

// Hash returns the lowercase hex SHA-256 digest of the normalized text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}
