package slidebank

import (
	"strings"
	"unicode/utf8"

	"github.com/slidebank/slidebank/query"
)

// snippetMaxLen is the maximum rune length of a result snippet.
const snippetMaxLen = 160

// extractSnippet returns the lines of text around the first line containing
// term, joined with " / ". Without a term, or when only the notes matched,
// the leading lines are used.
func extractSnippet(text, term string) string {
	lines := snippetLines(text)
	if len(lines) == 0 {
		return ""
	}

	best := 0
	if term = query.Fold(strings.TrimSpace(term)); term != "" {
		for i, l := range lines {
			if strings.Contains(query.Fold(l), term) {
				best = i
				break
			}
		}
	}

	result := lines[best]
	// Grow with the following lines, then the preceding one, while it fits.
	for i := best + 1; i < len(lines); i++ {
		next := result + " / " + lines[i]
		if utf8.RuneCountInString(next) > snippetMaxLen {
			break
		}
		result = next
	}
	if best > 0 {
		prev := lines[best-1] + " / " + result
		if utf8.RuneCountInString(prev) <= snippetMaxLen {
			result = prev
		}
	}
	return clipRunes(result, snippetMaxLen)
}

// snippetLines splits text into non-blank, trimmed lines.
func snippetLines(text string) []string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
