package nix

import (
	"strings"
	"unicode/utf8"
)

// Path is a filesystem path that encodes as a Nix path expression such as
// ./hardware-configuration.nix or /etc/nixos/configuration.nix.
type Path string

// NewPath returns p as a Path, rejecting text that is not valid UTF-8.
func NewPath(p string) (Path, error) {
	if !utf8.ValidString(p) {
		return "", ErrInvalidUTF8Path
	}
	return Path(p), nil
}

// MarshalNix implements Marshaler.
func (p Path) MarshalNix() (Value, error) {
	if !utf8.ValidString(string(p)) {
		return Value{}, ErrInvalidUTF8Path
	}
	return PathLiteral(string(p)), nil
}

// Literal is a raw Nix expression such as pkgs.hello or lib.mkForce true.
// It is written without quoting or escaping.
type Literal string

// MarshalNix implements Marshaler.
func (l Literal) MarshalNix() (Value, error) {
	return RawLiteral(string(l)), nil
}

// rawText is the text-only sub-encoder behind the path and literal tag
// options: anything other than a string payload is rejected.
func rawText(v Value) (string, error) {
	switch v.kind {
	case KindString, KindRawLiteral, KindPathLiteral:
		return v.text, nil
	}
	return "", ErrExpectedString
}

func (e *encoder) encodeRawLiteral(expr string) {
	e.write(expr)
}

func (e *encoder) encodePathLiteral(p string) {
	e.write(pathExpr(p))
}

// pathExpr renders p as a Nix path. Paths limited to the path-literal
// character set are written bare; anything else degrades to a path plus an
// escaped string, e.g. ./. + "with spaces.nix". Relative paths without an
// explicit ./ or ../ get ./ so they are not read as <search path> lookups.
func pathExpr(p string) string {
	quote := needsQuoting(p)

	if strings.HasPrefix(p, "/") {
		if !quote {
			return p
		}
		return concatExpr("/.", p)
	}

	if prefix, rest, ok := cutRelativePrefix(p); ok {
		if !quote {
			return p
		}
		return concatExpr(prefix+"/.", rest)
	}

	if !quote {
		return "./" + p
	}
	return concatExpr("./.", p)
}

// needsQuoting reports whether p has a byte outside the characters a Nix
// path literal may contain: [a-zA-Z0-9._+-] and /.
func needsQuoting(p string) bool {
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-', c == '+', c == '/':
		default:
			return true
		}
	}
	return false
}

// cutRelativePrefix splits a leading "." or ".." component off p.
func cutRelativePrefix(p string) (prefix, rest string, ok bool) {
	for _, dir := range []string{"..", "."} {
		if p == dir {
			return dir, "", true
		}
		if after, found := strings.CutPrefix(p, dir+"/"); found {
			return dir, strings.TrimLeft(after, "/"), true
		}
	}
	return "", "", false
}

func concatExpr(base, s string) string {
	var sb strings.Builder
	sb.Grow(len(base) + len(s) + 5)
	sb.WriteString(base)
	sb.WriteString(` + "`)
	escapePathString(&sb, s)
	sb.WriteByte('"')
	return sb.String()
}

// escapePathString escapes s for a double-quoted Nix string. Unlike plain
// string values, interpolation is escaped with a backslash here.
func escapePathString(sb *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '$':
			if i+1 < len(s) && s[i+1] == '{' {
				sb.WriteString(`\$`)
			} else {
				sb.WriteByte('$')
			}
		default:
			sb.WriteByte(c)
		}
	}
}
