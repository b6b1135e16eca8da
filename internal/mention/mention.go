// Package mention parses @username tokens out of comment text.
package mention

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MaxNameLen is the longest username a mention token can carry.
const MaxNameLen = 50

var tokenRE = regexp.MustCompile(`@([A-Za-z0-9_.\-]{1,50})`)

var folder = cases.Fold()

// Normalize returns the canonical form usernames are compared in.
func Normalize(name string) string {
	return folder.String(norm.NFC.String(strings.TrimSpace(name)))
}

// Extract returns the unique normalized usernames mentioned in content, in
// order of first appearance.
func Extract(content string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range tokenRE.FindAllStringSubmatch(content, -1) {
		name := Normalize(m[1])
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

type SegmentKind string

const (
	TextSegment    SegmentKind = "text"
	MentionSegment SegmentKind = "mention"
)

// Segment is one run of comment text. Mention segments carry the username as
// written, without the leading @.
type Segment struct {
	Kind     SegmentKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	Username string      `json:"username,omitempty"`
}

// Segments splits content into alternating text and mention runs.
func Segments(content string) []Segment {
	var out []Segment
	last := 0
	for _, loc := range tokenRE.FindAllStringSubmatchIndex(content, -1) {
		if loc[0] > last {
			out = append(out, Segment{Kind: TextSegment, Text: content[last:loc[0]]})
		}
		out = append(out, Segment{Kind: MentionSegment, Username: content[loc[2]:loc[3]]})
		last = loc[1]
	}
	if last < len(content) {
		out = append(out, Segment{Kind: TextSegment, Text: content[last:]})
	}
	return out
}

// Render is the inverse of Segments.
func Render(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		switch s.Kind {
		case MentionSegment:
			b.WriteByte('@')
			b.WriteString(s.Username)
		default:
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '.' || c == '-'
}

// CursorContext returns the partial mention being typed at byte offset pos: the
// longest run of name characters ending at pos that directly follows an @.
// start is the offset of the @.
func CursorContext(text string, pos int) (partial string, start int, ok bool) {
	if pos < 0 || pos > len(text) {
		return "", 0, false
	}
	i := pos
	for i > 0 && isNameByte(text[i-1]) {
		i--
	}
	if i == 0 || text[i-1] != '@' || pos-i > MaxNameLen {
		return "", 0, false
	}
	return text[i:pos], i - 1, true
}

// Complete replaces the partial mention at pos with @username followed by a
// space and returns the new text and cursor offset.
func Complete(text string, pos int, username string) (string, int) {
	_, start, ok := CursorContext(text, pos)
	if !ok {
		return text, pos
	}
	insert := "@" + username + " "
	return text[:start] + insert + text[pos:], start + len(insert)
}

// Snippet trims content to at most n runes for use as mention context.
func Snippet(content string, n int) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= n {
		return content
	}
	runes := []rune(content)
	return string(runes[:n-1]) + "…"
}
