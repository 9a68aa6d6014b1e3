package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxFilenameStem = 80

// NormalizeTitle lowercases a title, turns punctuation into spaces and collapses
// whitespace, so that trivially different renderings of one title compare equal.
func NormalizeTitle(title string) string {
	var sb strings.Builder
	sb.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		default:
			sb.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// DeriveFilename builds the document filename used for a discovered paper.
func DeriveFilename(title string) string {
	words := strings.Fields(NormalizeTitle(title))
	if len(words) == 0 {
		return "document.pdf"
	}

	var sb strings.Builder
	for _, w := range words {
		if sb.Len() > 0 {
			if sb.Len()+1+len(w) > maxFilenameStem {
				break
			}
			sb.WriteByte('_')
		} else if len(w) > maxFilenameStem {
			w = truncateUTF8(w, maxFilenameStem)
		}
		sb.WriteString(w)
	}
	return sb.String() + ".pdf"
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
