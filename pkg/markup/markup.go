// Package markup reduces markdown-flavored agent replies to plain prose that is
// safe to insert into a page as raw HTML.
//
// It does not render markdown. Emphasis, lists and tables are flattened, and
// the only markup in the output is the line-break token.
package markup

import (
	"html"
	"regexp"
	"strings"
	"unicode"
)

// LineBreak replaces every newline in ToDisplayMarkup output.
const LineBreak = "<br />"

var (
	fencedCode = regexp.MustCompile("(?s)```.*?```")
	inlineCode = regexp.MustCompile("`([^`]+)`")
	link       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	image      = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	heading    = regexp.MustCompile(`(?m)^#+\s`)
	blockquote = regexp.MustCompile(`(?m)^>\s?`)
	bullet     = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	ordered    = regexp.MustCompile(`(?m)^\s*\d+\.\s+`)
)

// Strip removes markdown syntax in a fixed order; each rule sees the output of
// the previous one. Note that links are rewritten before images, so an image
// written as ![alt](url) comes out as "!alt".
func Strip(text string) string {
	text = fencedCode.ReplaceAllString(text, "")
	text = inlineCode.ReplaceAllString(text, "$1")
	text = stripEmphasis(text)
	text = link.ReplaceAllString(text, "$1")
	text = image.ReplaceAllString(text, "")
	text = heading.ReplaceAllString(text, "")
	text = blockquote.ReplaceAllString(text, "")
	text = bullet.ReplaceAllString(text, "")
	text = ordered.ReplaceAllString(text, "")
	return text
}

// ToDisplayMarkup strips markdown, escapes HTML-significant characters and
// turns newlines into LineBreak. LineBreak tokens and character entities
// already present are kept, so the function is stable on its own output.
func ToDisplayMarkup(raw string) string {
	parts := strings.Split(Strip(raw), LineBreak)
	for i, part := range parts {
		part = html.EscapeString(html.UnescapeString(part))
		parts[i] = strings.ReplaceAll(part, "\n", LineBreak)
	}
	return strings.Join(parts, LineBreak)
}

// stripEmphasis drops 1-3 repeated *, _ or ~ markers that wrap text starting and
// ending with a non-space character on a single line. The closing run must
// repeat the opening run exactly. Longer opening runs are tried first.
func stripEmphasis(text string) string {
	if !strings.ContainsAny(text, "*_~") {
		return text
	}

	r := []rune(text)
	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(r); {
		if start, stop, end, ok := matchEmphasis(r, i); ok {
			b.WriteString(string(r[start:stop]))
			i = end
			continue
		}
		b.WriteRune(r[i])
		i++
	}
	return b.String()
}

// matchEmphasis reports the inner span [start, stop) and the index after the
// closing run for an emphasis opened at i.
func matchEmphasis(r []rune, i int) (start, stop, end int, ok bool) {
	run := 0
	for run < 3 && i+run < len(r) && isMarker(r[i+run]) {
		run++
	}

	for n := run; n >= 1; n-- {
		delim := r[i : i+n]
		start = i + n
		if start >= len(r) || unicode.IsSpace(r[start]) {
			continue
		}
		for k := start + 1; k < len(r); k++ {
			if isLineTerminator(r[k]) {
				break
			}
			if unicode.IsSpace(r[k]) {
				continue
			}
			if hasRunes(r[k+1:], delim) {
				return start, k + 1, k + 1 + n, true
			}
		}
	}
	return 0, 0, 0, false
}

func isMarker(c rune) bool {
	return c == '*' || c == '_' || c == '~'
}

func isLineTerminator(c rune) bool {
	return c == '\n' || c == '\r' || c == '\u2028' || c == '\u2029'
}

func hasRunes(s, prefix []rune) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := range prefix {
		if s[i] != prefix[i] {
			return false
		}
	}
	return true
}
