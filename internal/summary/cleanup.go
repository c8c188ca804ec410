package summary

import (
	"strings"
	"unicode"
)

// Cleanup normalizes a summary candidate. The steps run in a fixed order:
// escaped newlines become spaces, whitespace runs collapse, the ends are
// trimmed, and finally one pair of surrounding double quotes is removed.
// Quote stripping must see the fully trimmed string.
func Cleanup(s string) string {
	s = strings.ReplaceAll(s, `\n`, " ")
	s = collapseSpace(s)
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return s
}

func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
			}
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
