package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// extractPlain returns content as a string, replacing invalid UTF-8 sequences.
func extractPlain(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "�"), nil
	}
	return string(content), nil
}

// Sanitize strips characters the vector store cannot persist: NUL, control
// characters other than tab, newline and carriage return, DEL and U+FFFD.
// The result is trimmed.
func Sanitize(text string) string {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '\t', r == '\n', r == '\r':
			return r
		case r == utf8.RuneError, r == 0x7f, unicode.IsControl(r):
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(cleaned)
}
