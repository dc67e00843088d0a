// Package moderation is the keyword and pattern gate for audience prompts.
package moderation

import (
	"regexp"
	"strings"
)

// DefaultKeywords are blocked case-insensitively.
var DefaultKeywords = []string{
	"色情", "暴力", "赌博", "毒品",
	"porn", "xxx", "nsfw", "kill", "die", "murder",
	"hack", "exploit", "inject", "xss", "sql",
	"eval(", "require(", "import(", "fetch(",
	"window.", "document.", "process.",
	"<script", "javascript:",
	"__proto__", "constructor",
}

var defaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)https?://`),
	regexp.MustCompile(`\b\d{11}\b`),
	regexp.MustCompile(`(?is)</?[a-z].*>`),
}

// Filter blocks prompts containing a keyword or matching a pattern.
// Purely alphabetic ASCII keywords match whole words only, so "die" does
// not block "melodies".
type Filter struct {
	substrings []string
	words      []*regexp.Regexp
	patterns   []*regexp.Regexp
}

// New builds a Filter from DefaultKeywords plus extra.
func New(extra ...string) *Filter {
	f := &Filter{patterns: defaultPatterns}
	for _, kw := range append(append([]string{}, DefaultKeywords...), extra...) {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if isASCIIWord(kw) {
			f.words = append(f.words, regexp.MustCompile(`\b`+regexp.QuoteMeta(kw)+`\b`))
		} else {
			f.substrings = append(f.substrings, kw)
		}
	}
	return f
}

// Allow implements interfaces.Moderator.
func (f *Filter) Allow(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, kw := range f.substrings {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	for _, re := range f.words {
		if re.MatchString(lower) {
			return false
		}
	}
	for _, re := range f.patterns {
		if re.MatchString(prompt) {
			return false
		}
	}
	return true
}

func isASCIIWord(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
