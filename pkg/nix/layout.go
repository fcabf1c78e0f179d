package nix

import "strings"

const indentUnit = "  "

// layout owns the output buffer and the current indentation depth.
type layout struct {
	sb    strings.Builder
	depth int
}

func (l *layout) indent() {
	for i := 0; i < l.depth; i++ {
		l.sb.WriteString(indentUnit)
	}
}

// newline starts a new line at the current depth.
func (l *layout) newline() {
	l.sb.WriteByte('\n')
	l.indent()
}

func (l *layout) push() { l.depth++ }

func (l *layout) pop() {
	if l.depth > 0 {
		l.depth--
	}
}

func (l *layout) write(s string) { l.sb.WriteString(s) }

func (l *layout) writeByte(c byte) { l.sb.WriteByte(c) }

func (l *layout) String() string { return l.sb.String() }

// blankIndentOnlyLines empties every line made only of indentation spaces.
// Indentation is written before it is known whether content follows, which
// leaves such lines behind (for example empty lines inside block strings).
// Lines end at \n or \r\n and the result is rejoined with \n, so a final
// line ending is dropped: "x\n" becomes "x".
func blankIndentOnlyLines(s string) string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if isIndentOnly(line) {
			line = ""
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func isIndentOnly(line string) bool {
	for i := 0; i < len(line); i++ {
		if line[i] != ' ' {
			return false
		}
	}
	return true
}
