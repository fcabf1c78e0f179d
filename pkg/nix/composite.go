package nix

func (e *encoder) encodeSeq(items []Value) error {
	e.writeByte('[')
	e.push()
	for _, item := range items {
		e.newline()
		if err := e.encode(item); err != nil {
			return err
		}
	}
	e.pop()
	e.newline()
	e.writeByte(']')
	return nil
}

// encodeTuple keeps tuples on one line: [a b c ]. The opening bracket
// raises the depth like a sequence does, and the close leaves it raised, so
// later lines of the enclosing list sit one level deeper.
func (e *encoder) encodeTuple(items []Value) error {
	e.writeByte('[')
	e.push()
	for i, item := range items {
		if i > 0 {
			e.writeByte(' ')
		}
		if err := e.encode(item); err != nil {
			return err
		}
	}
	e.write(" ]")
	return nil
}

func (e *encoder) encodeMap(entries []Entry) error {
	e.writeByte('{')
	e.push()
	for _, entry := range entries {
		key, err := e.attrName(entry.Key)
		if err != nil {
			return err
		}
		value, err := e.nested(entry.Value)
		if err != nil {
			return err
		}
		e.writeEntry(key, value)
	}
	e.pop()
	e.newline()
	e.writeByte('}')
	return nil
}

func (e *encoder) encodeRecord(fields []Field) error {
	e.writeByte('{')
	e.push()
	for _, field := range fields {
		key, err := e.attrName(String(field.Name))
		if err != nil {
			return err
		}
		value, err := e.nested(field.Value)
		if err != nil {
			return err
		}
		e.writeEntry(key, value)
	}
	e.pop()
	e.newline()
	e.writeByte('}')
	return nil
}

// writeEntry writes one "key = value;" line of an attribute set.
func (e *encoder) writeEntry(key, value string) {
	e.newline()
	e.write(key)
	e.write(" = ")
	e.write(value)
	e.writeByte(';')
}

// nested encodes v with a fresh buffer at the current depth.
func (e *encoder) nested(v Value) (string, error) {
	n := &encoder{}
	n.depth = e.depth
	if err := n.encode(v); err != nil {
		return "", err
	}
	return n.String(), nil
}

// attrName encodes a key and drops the surrounding quotes of a quoted
// string so that keys read as bare attribute names. Keys that would need
// real escaping (e.g. containing '=') are not rewritten.
func (e *encoder) attrName(key Value) (string, error) {
	s, err := e.nested(key)
	if err != nil {
		return "", err
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return s, nil
}

// encodeNewtypeVariant writes { tag = payload; } on a single line.
func (e *encoder) encodeNewtypeVariant(tag string, payload Value) error {
	e.write("{ ")
	e.write(attrTag(tag))
	e.write(" = ")
	if err := e.encode(payload); err != nil {
		return err
	}
	e.write("; }")
	return nil
}

// encodeTupleVariant writes { "Tag" = [ a b ] } on a single line. The tag
// is a quoted string with its case kept.
func (e *encoder) encodeTupleVariant(tag string, items []Value) error {
	e.write("{ ")
	e.encodeString(tag)
	e.write(" = [")
	for _, item := range items {
		e.writeByte(' ')
		if err := e.encode(item); err != nil {
			return err
		}
	}
	e.write(" ] }")
	return nil
}

// encodeStructVariant writes { "Tag" = { a = 1; b = 2; }; } on a single
// line, with the tag quoted like encodeTupleVariant.
func (e *encoder) encodeStructVariant(tag string, fields []Field) error {
	e.write("{ ")
	e.encodeString(tag)
	e.write(" = {")
	for _, field := range fields {
		name, err := e.attrName(String(field.Name))
		if err != nil {
			return err
		}
		e.writeByte(' ')
		e.write(name)
		e.write(" = ")
		if err := e.encode(field.Value); err != nil {
			return err
		}
		e.writeByte(';')
	}
	e.write(" }; }")
	return nil
}
