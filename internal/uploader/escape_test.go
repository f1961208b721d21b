package uploader

import (
	"strings"
	"testing"
)

func TestEscapeRules(t *testing.T) {
	cases := []struct{ in, want string }{
		{`\`, `\\`},
		{"\n", `\n`},
		{`'`, `\'`},
		{`"`, `\"`},
		{"\\\n", `\\\n`},
		{`it's`, `it\'s`},
		{`\n`, `\\n`}, // literal backslash-n is not a newline
		{"plain", "plain"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Escape(c.in); got != c.want {
			t.Fatalf("Escape(%q): got %q want %q", c.in, got, c.want)
		}
	}
}

func TestEscapeRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"plain text",
		`back\slash`,
		`\\\\`,
		`\'\"`,
		"line one\nline two\n",
		`f.write('nested \'quote\'')`,
		"mixed \\ ' \" \n tail\\",
		strings.Repeat(`\`, 7) + "'" + strings.Repeat("\n", 3),
	}
	for _, in := range cases {
		if got := Unescape(Escape(in)); got != in {
			t.Fatalf("round trip of %q: got %q", in, got)
		}
	}
}

func TestSplitEscapedNeverSplitsEscapes(t *testing.T) {
	inputs := []string{
		"hello world, nothing special here",
		`a\b'c"d` + "\n" + `e\\f`,
		strings.Repeat(`\`, 9),
		strings.Repeat(`x\`, 8),
		"'''" + strings.Repeat(`\'`, 5) + "'''",
	}
	for _, in := range inputs {
		escaped := Escape(in)
		for size := 2; size <= 9; size++ {
			chunks := splitEscaped(escaped, size)
			var joined strings.Builder
			for i, c := range chunks {
				if len(c) > size {
					t.Fatalf("size %d: chunk %d is %d bytes", size, i, len(c))
				}
				if i < len(chunks)-1 && trailingBackslashes(c)%2 == 1 {
					t.Fatalf("size %d: chunk %d ends inside an escape: %q", size, i, c)
				}
				joined.WriteString(c)
			}
			if joined.String() != escaped {
				t.Fatalf("size %d: chunks lose bytes: %q", size, joined.String())
			}
			if got := Unescape(joined.String()); got != in {
				t.Fatalf("size %d: round trip of %q: got %q", size, in, got)
			}
		}
	}
}
