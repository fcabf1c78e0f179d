package nix

import (
	"math"
	"strconv"
)

func (e *encoder) encodeBool(b bool) {
	if b {
		e.write("true")
	} else {
		e.write("false")
	}
}

func (e *encoder) encodeInt(i int64) {
	e.write(strconv.FormatInt(i, 10))
}

func (e *encoder) encodeUint(u uint64) {
	e.write(strconv.FormatUint(u, 10))
}

// encodeFloat writes the shortest decimal text that round-trips at the
// value's precision. NaN and the infinities have no Nix literal and are
// written as the bare words NaN, inf and -inf.
func (e *encoder) encodeFloat(f float64, bits int) error {
	switch {
	case math.IsNaN(f):
		e.write("NaN")
		return nil
	case math.IsInf(f, 1):
		e.write("inf")
		return nil
	case math.IsInf(f, -1):
		e.write("-inf")
		return nil
	}
	if bits != 32 {
		bits = 64
	}
	e.write(strconv.FormatFloat(f, 'f', -1, bits))
	return nil
}

func (e *encoder) encodeNull() {
	e.write("null")
}

// encodeBytes writes a byte sequence as a list of integers, one per line.
// Item indentation is a fixed single level regardless of depth.
func (e *encoder) encodeBytes(b []byte) {
	e.write("[\n")
	for _, c := range b {
		e.write(indentUnit)
		e.encodeUint(uint64(c))
		e.writeByte('\n')
	}
	e.writeByte(']')
}

// encodeUnitVariant writes the tag as a string literal.
func (e *encoder) encodeUnitVariant(tag string) {
	e.encodeString(tag)
}
