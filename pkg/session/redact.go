package session

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// StripReasoning removes delimiter-bounded reasoning spans from assistant
// text so undisplayed chain-of-thought never reaches durable storage. An
// opening delimiter without a matching close leaves the text untouched from
// that point on, rather than corrupting the content.
func StripReasoning(content string) string {
	var b strings.Builder
	rest := content
	for {
		start := strings.Index(rest, thinkOpen)
		if start == -1 {
			b.WriteString(rest)
			return b.String()
		}
		end := strings.Index(rest[start:], thinkClose)
		if end == -1 {
			// Unbalanced span: no redaction performed for the remainder.
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:start])
		rest = rest[start+end+len(thinkClose):]
	}
}
