package nix

import "io"

// encoder walks a Value tree and writes Nix text into its layout.
// One encoder is used per Encode call.
type encoder struct {
	layout
}

// Encode returns the Nix source text for v.
// On error no partial text is returned.
func Encode(v Value) (string, error) {
	e := &encoder{}
	if err := e.encode(v); err != nil {
		return "", err
	}
	return blankIndentOnlyLines(e.String()), nil
}

// Marshal returns the Nix source text for x. See ValueOf for how Go values
// map onto Nix values.
func Marshal(x any) (string, error) {
	v, err := ValueOf(x)
	if err != nil {
		return "", err
	}
	return Encode(v)
}

// MarshalTo writes the Nix source text for x to w, followed by a newline.
func MarshalTo(w io.Writer, x any) error {
	s, err := Marshal(x)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, s+"\n")
	return err
}

func (e *encoder) encode(v Value) error {
	switch v.kind {
	case KindNull:
		e.encodeNull()
	case KindBool:
		e.encodeBool(v.b)
	case KindInt:
		e.encodeInt(v.i)
	case KindUint:
		e.encodeUint(v.u)
	case KindFloat:
		return e.encodeFloat(v.f, v.bits)
	case KindChar, KindString:
		e.encodeString(v.text)
	case KindBytes:
		e.encodeBytes(v.raw)
	case KindSeq:
		return e.encodeSeq(v.items)
	case KindTuple:
		return e.encodeTuple(v.items)
	case KindMap:
		return e.encodeMap(v.entries)
	case KindRecord:
		return e.encodeRecord(v.fields)
	case KindUnitVariant:
		e.encodeUnitVariant(v.text)
	case KindNewtypeVariant:
		return e.encodeNewtypeVariant(v.text, v.Payload())
	case KindTupleVariant:
		return e.encodeTupleVariant(v.text, v.items)
	case KindStructVariant:
		return e.encodeStructVariant(v.text, v.fields)
	case KindRawLiteral:
		e.encodeRawLiteral(v.text)
	case KindPathLiteral:
		e.encodePathLiteral(v.text)
	default:
		return Customf("unknown value kind %d", v.kind)
	}
	return nil
}
