package ocr

import (
	"regexp"
	"strings"
)

var (
	// Characters outside the allow-list: word characters, the Spanish
	// alphabet range, digits, and a small punctuation set survive.
	reDisallowed = regexp.MustCompile(`[^\w\sáéíóúüñÁÉÍÓÚÜÑ.,;:/#$%()&+'"-]`)
	reSpaces     = regexp.MustCompile(`[ \t]+`)
	reBlankRuns  = regexp.MustCompile(`\n{2,}`)
)

// Normalize post-processes raw recognized text: strips disallowed
// characters, collapses whitespace runs, and trims. Line structure is kept
// so line counts stay meaningful.
func Normalize(raw string) string {
	s := reDisallowed.ReplaceAllString(raw, "")
	s = reSpaces.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	s = strings.Join(lines, "\n")
	s = reBlankRuns.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for _, ln := range strings.Split(s, "\n") {
		if strings.TrimSpace(ln) != "" {
			n++
		}
	}
	return n
}
