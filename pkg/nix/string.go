package nix

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// blockStringMinLen is the byte length from which a string containing a
// newline is written as an indented '' block string.
const blockStringMinLen = 80

func isBlockString(s string) bool {
	return len(s) >= blockStringMinLen && strings.IndexByte(s, '\n') >= 0
}

func (e *encoder) encodeString(s string) {
	if isBlockString(s) {
		e.encodeBlockString(s)
		return
	}
	e.encodeQuotedString(s)
}

// encodeQuotedString writes s as a double-quoted string. All escaped
// characters are ASCII, so walking bytes leaves multi-byte runes intact.
func (e *encoder) encodeQuotedString(s string) {
	e.writeByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			e.write(`\"`)
		case '\\':
			e.write(`\\`)
		case '\n':
			e.write(`\n`)
		case '\t':
			e.write(`\t`)
		case '$':
			if i+1 < len(s) && s[i+1] == '{' {
				e.write("''$")
			} else {
				e.writeByte('$')
			}
		default:
			e.writeByte(c)
		}
	}
	e.writeByte('"')
}

// encodeBlockString writes s as a '' string indented one level deeper than
// the current depth.
func (e *encoder) encodeBlockString(s string) {
	e.write("''\n")
	e.push()
	e.indent()

	for i := 0; i < len(s); i++ {
		c := s[i]
		next := byte(0)
		if i+1 < len(s) {
			next = s[i+1]
		}
		switch {
		case c == '\'' && next == '\'':
			// '' terminates the block; ''' is its escaped form.
			e.write("''")
		case c == '$' && next == '{':
			e.write("''$")
		case c == '\n':
			e.newline()
		default:
			e.writeByte(c)
		}
	}

	e.writeByte('\n')
	e.pop()
	e.indent()
	e.write("''")
}

// attrTag converts a variant tag into an attribute name by lower-casing an
// upper-case first character.
func attrTag(tag string) string {
	r, size := utf8.DecodeRuneInString(tag)
	if size == 0 || !unicode.IsUpper(r) {
		return tag
	}
	return string(unicode.ToLower(r)) + tag[size:]
}
