package ai

import (
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```(?:javascript|js|strudel)?\\s*\\n?(.*?)\\n?\\s*```")

// StripCodeFences extracts code from a markdown fenced block, drops a bare
// leading "javascript" line, and trims whitespace.
func StripCodeFences(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
		return strings.TrimSpace(m[1])
	}
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "javascript\n") {
		text = strings.TrimPrefix(text, "javascript\n")
	}
	return strings.TrimSpace(text)
}
