package export

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const nameReplacement = '_'

// SanitizeName makes s safe for an EDL comment or file name. Input is NFC
// normalized, control characters are dropped and anything outside letters,
// digits and a small punctuation set becomes '_'. The result is trimmed and
// cut to at most maxLen runes; maxLen <= 0 means no limit.
func SanitizeName(s string, maxLen int) string {
	cleaned := strings.Map(nameRune, norm.NFC.String(s))
	cleaned = strings.TrimSpace(cleaned)

	if maxLen > 0 {
		if runes := []rune(cleaned); len(runes) > maxLen {
			cleaned = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return cleaned
}

// nameRune maps one rune for SanitizeName; -1 drops it.
func nameRune(r rune) rune {
	switch {
	case unicode.IsControl(r):
		return -1
	case unicode.IsLetter(r), unicode.IsDigit(r):
		return r
	case strings.ContainsRune(" -_.,()", r):
		return r
	default:
		return nameReplacement
	}
}
