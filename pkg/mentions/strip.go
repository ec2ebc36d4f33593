package mentions

import (
	"sort"
	"strings"
)

const (
	atOpenTag  = "<at>"
	atCloseTag = "</at>"
)

// Strip rewrites text by replacing, for each mention in order, the first
// remaining occurrence of its literal markup. RemoveFull deletes the markup,
// RemoveTags keeps only the <at> tag content and RemoveNone returns text as is.
//
// Mentions sharing the same literal each consume one occurrence, left to right.
func Strip(text string, mentions []Mention, behavior RemoveBehavior) string {
	if behavior == RemoveNone {
		return text
	}

	out := text
	for _, m := range mentions {
		if m.Text == "" {
			continue
		}
		out = strings.Replace(out, m.Text, replacement(m, behavior), 1)
	}
	return out
}

// AtTagContent returns the text between the first "<at>" and the first "</at>"
// following it, or "" when the pair is missing. It is a literal delimiter
// search, not a markup parser.
func AtTagContent(s string) string {
	start := strings.Index(s, atOpenTag)
	if start < 0 {
		return ""
	}
	rest := s[start+len(atOpenTag):]
	end := strings.Index(rest, atCloseTag)
	if end < 0 {
		return ""
	}
	return rest[:end]
}

func replacement(m Mention, behavior RemoveBehavior) string {
	if behavior == RemoveTags {
		return AtTagContent(m.Text)
	}
	return ""
}

// Class pairs a group of mentions with the behavior applied to it.
type Class struct {
	Mentions []Mention
	Behavior RemoveBehavior
}

type edit struct {
	start, end int
	with       string
}

// Plan applies all classes in a single pass using mention spans. It reports
// false, leaving text untouched, unless every mention of every active class
// has a span that lies within text, covers exactly the mention's literal and
// does not overlap another span. Callers fall back to Strip in that case.
func Plan(text string, classes ...Class) (string, bool) {
	var edits []edit
	for _, c := range classes {
		if c.Behavior == RemoveNone {
			continue
		}
		for _, m := range c.Mentions {
			if !m.hasSpan() || m.Offset < 0 {
				return text, false
			}
			end := m.Offset + m.Length
			if end > len(text) || text[m.Offset:end] != m.Text {
				return text, false
			}
			edits = append(edits, edit{start: m.Offset, end: end, with: replacement(m, c.Behavior)})
		}
	}
	if len(edits) == 0 {
		return text, true
	}

	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })
	for i := 1; i < len(edits); i++ {
		if edits[i].start < edits[i-1].end {
			return text, false
		}
	}

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, e := range edits {
		b.WriteString(text[prev:e.start])
		b.WriteString(e.with)
		prev = e.end
	}
	b.WriteString(text[prev:])
	return b.String(), true
}
