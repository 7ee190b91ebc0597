// Package ansi cleans terminal output captured from a pty so it can be
// logged or shown to a person.
package ansi

import (
	"regexp"
	"strings"
)

var ansiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z@` + "`" + `]`), // CSI sequences (colors, cursor, private modes)
	regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`), // OSC sequences
	regexp.MustCompile(`\x1b[()#][A-Za-z0-9]`),              // Character set selection
	regexp.MustCompile(`\x1b[=>]`),                          // Keypad modes
	regexp.MustCompile(`\x1b[A-Za-z]`),                      // ESC+letter
}

// Strip removes escape sequences and non-printing control characters.
// Line structure (\n and \r) is preserved.
func Strip(s string) string {
	for _, re := range ansiPatterns {
		s = re.ReplaceAllString(s, "")
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n', r == '\r', r == '\t':
			return r
		case r < 0x20, r == 0x7f:
			return -1
		}
		return r
	}, s)
}

// Lines strips s and splits it into trimmed, non-empty lines. A carriage
// return starts a new line, so progress output that redraws itself in place
// becomes one line per redraw.
func Lines(s string) []string {
	s = Strip(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '\n' || r == '\r'
	})

	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			lines = append(lines, f)
		}
	}
	return lines
}
