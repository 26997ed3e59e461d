package document

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	hyphenBreak    = regexp.MustCompile(`(\p{L})-\n(\p{Ll})`)
	pageNumberLine = regexp.MustCompile(`^\s*(?:page\s+)?\d{1,4}\s*$`)
)

// Clean normalizes extracted page text: NFKC folds ligatures and full-width
// forms, words split across lines by a hyphen are rejoined, lines holding
// only a page number are dropped, and runs of blank lines collapse to one.
func Clean(text string) string {
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = hyphenBreak.ReplaceAllString(text, "$1$2")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if pageNumberLine.MatchString(strings.ToLower(line)) {
			continue
		}
		if strings.TrimSpace(line) == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
