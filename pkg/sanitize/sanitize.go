// Package sanitize turns model output into plain text that a speech
// synthesizer can read aloud.
//
// Markup is removed without touching the whitespace that separates words:
// inline markers are unwrapped and block markers are removed after their
// indentation. Dropped spans (code blocks, images, emoji) become a single
// space when they sat between two words and take one of their spaces with
// them when they sat between two. Rules are applied until the text stops
// changing, so sanitizing already sanitized text is a no-op.
package sanitize

import (
	"regexp"
	"strings"
)

type rule struct {
	name string
	re   *regexp.Regexp
	repl string

	// line rules are anchored at the start of a line.
	line bool
	// drop rules remove the whole match; see drop.
	drop bool
}

const emojiClass = `[\x{1F600}-\x{1F64F}\x{1F300}-\x{1F5FF}\x{1F680}-\x{1F6FF}\x{1F1E0}-\x{1F1FF}` +
	`\x{1F900}-\x{1F9FF}\x{1FA70}-\x{1FAFF}\x{2600}-\x{26FF}\x{2702}-\x{27B0}\x{FE0F}\x{200D}]`

// rules run in order on every pass. Images come before links because an
// image is a link with a leading bang, and horizontal rules come before
// list and emphasis markers because "***" and "- - -" look like both.
var rules = []rule{
	{name: "fenced_code", re: regexp.MustCompile("```[\\s\\S]*?```"), drop: true},
	{name: "stray_fence", re: regexp.MustCompile("```[A-Za-z0-9_+-]*"), drop: true},
	{name: "horizontal_rule", re: regexp.MustCompile(`(?m)^[ \t\r]*(?:(?:-[ \t]*){3,}|(?:\*[ \t]*){3,}|(?:_[ \t]*){3,})[ \t\r]*$`), line: true},
	{name: "heading", re: regexp.MustCompile(`(?m)^([ \t\r]*)#{1,6}[ \t]+`), repl: "$1", line: true},
	{name: "blockquote", re: regexp.MustCompile(`(?m)^([ \t\r]*)(?:>[ \t]?)+`), repl: "$1", line: true},
	{name: "bullet", re: regexp.MustCompile(`(?m)^([ \t\r]*)[-*+][ \t]+`), repl: "$1", line: true},
	{name: "numbered", re: regexp.MustCompile(`(?m)^([ \t\r]*)\d{1,3}[.)][ \t]+`), repl: "$1", line: true},
	{name: "image", re: regexp.MustCompile(`!\[[^\]\n]*\]\([^)\n]*\)`), drop: true},
	{name: "link", re: regexp.MustCompile(`\[([^\]\n]+)\]\([^)\n]*\)`), repl: "$1"},
	{name: "inline_code", re: regexp.MustCompile("`([^`\\n]+)`"), repl: "$1"},
	{name: "bold", re: regexp.MustCompile(`\*\*([^*\s](?:[^*\n]*[^*\s])?)\*\*`), repl: "$1"},
	{name: "bold_underscore", re: regexp.MustCompile(`\b__([^_\s](?:[^_\n]*[^_\s])?)__\b`), repl: "$1"},
	{name: "strikethrough", re: regexp.MustCompile(`~~([^~\s](?:[^~\n]*[^~\s])?)~~`), repl: "$1"},
	{name: "italic", re: regexp.MustCompile(`\*([^*\s](?:[^*\n]*[^*\s])?)\*`), repl: "$1"},
	{name: "italic_underscore", re: regexp.MustCompile(`\b_([^_\s](?:[^_\n]*[^_\s])?)_\b`), repl: "$1"},
	{name: "emoji", re: regexp.MustCompile(emojiClass + `+`), drop: true},
	{name: "blank_lines", re: regexp.MustCompile(`\n(?:[ \t\r]*\n){3,}`), repl: "\n\n"},
}

// Sanitize strips markdown and emoji from a complete text and trims the
// result.
func Sanitize(text string) string {
	s := text
	for {
		next := strings.Trim(run(s, true, 0), " \t\r\n")
		if next == s {
			return s
		}
		s = next
	}
}

// Delta sanitizes one streamed fragment of a larger text. Leading and
// trailing whitespace is kept because it may be the only thing separating
// this fragment from its neighbours. lineStart reports whether the fragment
// begins a new line; when false, line-anchored markers at the very start of
// the fragment are left alone since they are mid-sentence text.
func Delta(text string, lineStart bool) string {
	return run(text, lineStart, 0)
}

// EndsLine reports whether the fragment following text starts a new line,
// given whether text itself started one.
func EndsLine(text string, lineStart bool) bool {
	if text == "" {
		return lineStart
	}
	if strings.HasSuffix(text, "\n") {
		return true
	}
	if strings.Trim(text, " \t") == "" {
		return lineStart
	}
	return false
}

// run applies the rules until nothing changes. prev is the byte that came
// before text in the stream, or 0.
func run(text string, lineStart bool, prev byte) string {
	s := text
	for {
		next := pass(s, lineStart, prev)
		if next == s {
			return s
		}
		s = next
	}
}

func pass(s string, lineStart bool, prev byte) string {
	for _, r := range rules {
		if s == "" {
			return s
		}
		switch {
		case r.drop:
			s = drop(r.re, s, prev)
		case r.line && !lineStart:
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				continue
			}
			s = s[:i+1] + r.re.ReplaceAllString(s[i+1:], r.repl)
		default:
			s = r.re.ReplaceAllString(s, r.repl)
		}
	}
	return s
}

// drop removes every match of re. A match between two words leaves one
// space; a match between two blanks takes the blank after it along.
func drop(re *regexp.Regexp, s string, prev byte) string {
	matches := re.FindAllStringIndex(s, -1)
	if matches == nil {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		if m[0] < last {
			continue
		}
		b.WriteString(s[last:m[0]])

		left := prev
		if m[0] > 0 {
			left = s[m[0]-1]
		}
		var right byte
		if m[1] < len(s) {
			right = s[m[1]]
		}

		last = m[1]
		switch {
		case isWord(left) && isWord(right):
			b.WriteByte(' ')
		case isBlank(left) && isBlank(right):
			last++
		}
	}
	b.WriteString(s[last:])
	return b.String()
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\r' || c == '\n' }

func isBlank(c byte) bool { return c == ' ' || c == '\t' }

func isWord(c byte) bool { return c != 0 && !isSpace(c) }
