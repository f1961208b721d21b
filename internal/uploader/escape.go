package uploader

import "strings"

// Escape rewrites s to survive inside a single-quoted string literal.
// Backslashes double first; doing it in any other order would re-escape
// the backslashes the later rules introduce.
func Escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// unescaper inverts Escape in a single pass. The doubled backslash is
// listed first so it always wins over the two-byte sequences it could
// otherwise feed.
var unescaper = strings.NewReplacer(
	`\\`, `\`,
	`\n`, "\n",
	`\'`, `'`,
	`\"`, `"`,
)

// Unescape inverts Escape: Unescape(Escape(s)) == s for every s.
func Unescape(s string) string {
	return unescaper.Replace(s)
}

// splitEscaped cuts already-escaped text into pieces of at most size
// bytes. A cut that would land right after an escape-introducing
// backslash (an odd run of trailing backslashes) moves back one byte,
// so no escape sequence is ever separated from the byte it escapes.
func splitEscaped(escaped string, size int) []string {
	var chunks []string
	for len(escaped) > size {
		cut := size
		if trailingBackslashes(escaped[:cut])%2 == 1 {
			cut--
		}
		chunks = append(chunks, escaped[:cut])
		escaped = escaped[cut:]
	}
	return append(chunks, escaped)
}

func trailingBackslashes(s string) int {
	n := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	return n
}
