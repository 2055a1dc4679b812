package dictation

import (
	"regexp"
	"strings"
)

var (
	fillerPattern = regexp.MustCompile(`(?i)(^|[\s,.;:!?-])(?:u+m+|u+h+|e+r+m+|h+m+|a+h+|mhm)[,.]?(?:\s|$)`)
	spaceRun      = regexp.MustCompile(`\s{2,}`)
	spaceBefore   = regexp.MustCompile(`\s+([,.;:!?])`)
)

// RemoveFillers strips hesitation words such as "um" and "uh" and tidies the
// whitespace left behind.
func RemoveFillers(text string) string {
	out := text
	// matches share delimiters, so repeat until stable
	for {
		next := fillerPattern.ReplaceAllString(out, "$1 ")
		if next == out {
			break
		}
		out = next
	}
	out = spaceRun.ReplaceAllString(out, " ")
	out = spaceBefore.ReplaceAllString(out, "$1")
	out = strings.TrimSpace(out)
	out = strings.TrimLeft(out, ",;: ")
	return strings.TrimSpace(out)
}
