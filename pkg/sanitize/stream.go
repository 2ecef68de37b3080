package sanitize

import (
	"regexp"
	"strings"
)

// Stream sanitizes a text that arrives in fragments. Write holds back any
// tail a later fragment could still turn into markup (an open emphasis
// run, a link without its target, an unclosed code fence, a line that so
// far holds only list or heading markers) and emits the rest. Once Flush
// has been called, the concatenated output equals what Sanitize would make
// of the whole text, up to leading and trailing whitespace.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	pending   string
	lineStart bool
	prev      byte
}

// NewStream returns a Stream positioned at the start of a line.
func NewStream() *Stream {
	return &Stream{lineStart: true}
}

// Write adds fragment and returns the sanitized text that is now stable.
// The result may be empty.
func (s *Stream) Write(fragment string) string {
	text := s.pending + fragment
	cut := holdFrom(text, s.lineStart)
	s.pending = text[cut:]
	return s.emit(text[:cut])
}

// Flush sanitizes and returns whatever is still held back.
func (s *Stream) Flush() string {
	text := s.pending
	s.pending = ""
	return s.emit(text)
}

// Pending reports whether text is being held back.
func (s *Stream) Pending() bool { return s.pending != "" }

func (s *Stream) emit(text string) string {
	if text == "" {
		return ""
	}
	out := run(text, s.lineStart, s.prev)
	s.lineStart = EndsLine(text, s.lineStart)
	s.prev = text[len(text)-1]
	return out
}

// blockPrefix matches a line that so far holds nothing but characters a
// block marker or horizontal rule is made of.
var blockPrefix = regexp.MustCompile(`^[ \t\r#>*+\-_~.)0-9]*$`)

// holdFrom returns the offset in text from which the tail must be held.
func holdFrom(text string, lineStart bool) int {
	var cut int
	trimmed := strings.TrimRight(text, " \t\r\n")
	switch {
	case len(trimmed) == len(text):
		// The last word may still grow.
		cut = afterLastSpace(text)
	case strings.ContainsRune(text[len(trimmed):], '\n'):
		// Blank lines are collapsed only once the run is complete.
		cut = len(trimmed)
	default:
		cut = len(text)
	}

	lineOff := strings.LastIndexByte(text, '\n') + 1
	if (lineOff > 0 || lineStart) && blockPrefix.MatchString(text[lineOff:]) {
		cut = min(cut, lineOff)
	}
	if i := openFence(text); i >= 0 {
		cut = min(cut, i)
	}
	if i := openInline(text[lineOff:]); i >= 0 {
		cut = min(cut, lineOff+i)
	}

	for {
		next := outsideMatches(text, wordStart(text, cut))
		if next == cut {
			return cut
		}
		cut = next
	}
}

func afterLastSpace(s string) int {
	return strings.LastIndexAny(s, " \t\r\n") + 1
}

// wordStart moves cut back to the start of the word it falls in.
func wordStart(text string, cut int) int {
	if cut == 0 || cut >= len(text) || isSpace(text[cut]) || isSpace(text[cut-1]) {
		return cut
	}
	return afterLastSpace(text[:cut])
}

// outsideMatches moves cut back to the start of any inline match that
// straddles it.
func outsideMatches(text string, cut int) int {
	for _, r := range rules {
		if r.line {
			continue
		}
		for _, m := range r.re.FindAllStringIndex(text, -1) {
			if m[0] < cut && cut < m[1] {
				cut = m[0]
			}
		}
	}
	return cut
}

// openFence returns the offset of the last code fence if fences are
// unbalanced, or -1.
func openFence(text string) int {
	last, n := -1, 0
	for i := 0; ; {
		j := strings.Index(text[i:], "```")
		if j < 0 {
			break
		}
		last = i + j
		n++
		i = last + 3
	}
	if n%2 == 0 {
		return -1
	}
	return last
}

// openInline returns the offset in line of the earliest emphasis run or
// link that is not yet closed, or -1.
func openInline(line string) int {
	open := -1
	earliest := func(i int) {
		if open < 0 || i < open {
			open = i
		}
	}

	for i := 0; i < len(line); i++ {
		if line[i] != '[' || linkResolved(line[i:]) {
			continue
		}
		if i > 0 && line[i-1] == '!' {
			earliest(i - 1)
		} else {
			earliest(i)
		}
		break
	}

	runs := map[byte][]int{}
	for i := 0; i < len(line); {
		c := line[i]
		if c != '*' && c != '_' && c != '~' && c != '`' {
			i++
			continue
		}
		j := i
		for j < len(line) && line[j] == c {
			j++
		}
		if isDelimiter(line, i, j) {
			runs[c] = append(runs[c], i)
		}
		i = j
	}
	for _, starts := range runs {
		if len(starts)%2 == 1 {
			earliest(starts[len(starts)-1])
		}
	}
	return open
}

// isDelimiter reports whether line[i:j], a run of one marker character,
// can open or close emphasis.
func isDelimiter(line string, i, j int) bool {
	c := line[i]
	if c == '`' && j-i >= 3 {
		return false
	}
	before, after := byte(' '), byte(0)
	if i > 0 {
		before = line[i-1]
	}
	if j < len(line) {
		after = line[j]
	}
	if isSpace(before) && isSpace(after) {
		return false
	}
	if c == '_' && isWordChar(before) && isWordChar(after) {
		return false
	}
	return true
}

// linkResolved reports whether the "[" at the start of s can no longer
// become a link.
func linkResolved(s string) bool {
	end := strings.IndexByte(s, ']')
	if end < 0 || end == len(s)-1 {
		return false
	}
	if s[end+1] != '(' {
		return true
	}
	return strings.IndexByte(s[end+2:], ')') >= 0
}

func isWordChar(c byte) bool {
	return c == '_' || c >= 0x80 ||
		('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
