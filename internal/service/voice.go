package service

import (
	"regexp"
	"strings"
)

var (
	citationRe   = regexp.MustCompile(`\s*\[\d+\]`)
	sourceParen  = regexp.MustCompile(`\s*\((?:source|see|cf\.)[^)]*\)`)
	markdownMark = regexp.MustCompile("[*_`#]+")
	multiSpace   = regexp.MustCompile(`\s{2,}`)
)

// voiceTransform rewrites a synthesized response for text-to-speech
// delivery: citations, markdown markers and parenthetical source notes are
// stripped, and semicolons and dashes become sentence or clause breaks so
// spoken sentences stay short.
func voiceTransform(content string) string {
	out := citationRe.ReplaceAllString(content, "")
	out = sourceParen.ReplaceAllString(out, "")
	out = markdownMark.ReplaceAllString(out, "")

	out = strings.ReplaceAll(out, "; ", ". ")
	out = strings.ReplaceAll(out, " - ", ", ")
	out = strings.ReplaceAll(out, " — ", ", ")
	out = strings.ReplaceAll(out, " – ", ", ")

	// Bullet lines read poorly aloud; fold them into running prose.
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		trimmed = strings.TrimPrefix(trimmed, "- ")
		trimmed = strings.TrimPrefix(trimmed, "• ")
		lines[i] = trimmed
	}
	out = strings.Join(lines, " ")

	out = multiSpace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
