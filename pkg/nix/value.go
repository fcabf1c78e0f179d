package nix

// Kind identifies the shape of a Value.
type Kind uint8

const (
	// KindNull is the absent value (unit, None, nil).
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindChar
	KindBytes
	KindString
	KindSeq
	KindTuple
	KindMap
	KindRecord
	KindUnitVariant
	KindNewtypeVariant
	KindTupleVariant
	KindStructVariant

	// KindRawLiteral is a pre-formed Nix expression emitted verbatim.
	KindRawLiteral

	// KindPathLiteral is a filesystem path emitted as a Nix path expression.
	KindPathLiteral
)

var kindNames = [...]string{
	KindNull:           "null",
	KindBool:           "bool",
	KindInt:            "int",
	KindUint:           "uint",
	KindFloat:          "float",
	KindChar:           "char",
	KindBytes:          "bytes",
	KindString:         "string",
	KindSeq:            "seq",
	KindTuple:          "tuple",
	KindMap:            "map",
	KindRecord:         "record",
	KindUnitVariant:    "unit_variant",
	KindNewtypeVariant: "newtype_variant",
	KindTupleVariant:   "tuple_variant",
	KindStructVariant:  "struct_variant",
	KindRawLiteral:     "raw_literal",
	KindPathLiteral:    "path_literal",
}

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is an immutable node of the tree handed to the encoder.
// The zero Value is null.
type Value struct {
	kind Kind

	b    bool
	i    int64
	u    uint64
	f    float64
	bits int

	// text holds the string, char, variant tag, raw expression or path.
	text string

	raw     []byte
	items   []Value
	entries []Entry
	fields  []Field
	payload *Value
}

// Entry is one key/value pair of a map, in caller order.
type Entry struct {
	Key   Value
	Value Value
}

// Field is one named field of a record or struct variant, in caller order.
type Field struct {
	Name  string
	Value Value
}

// Null returns the absent value.
func Null() Value { return Value{kind: KindNull} }

// None is an alias of Null for optional values.
func None() Value { return Null() }

// Some returns v unchanged; optionals are transparent in Nix output.
func Some(v Value) Value { return v }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns a signed integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Uint returns an unsigned integer value.
func Uint(u uint64) Value { return Value{kind: KindUint, u: u} }

// Float returns a 64-bit floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f, bits: 64} }

// Float32 returns a floating point value formatted with 32-bit precision.
func Float32(f float32) Value { return Value{kind: KindFloat, f: float64(f), bits: 32} }

// Char returns a single character value.
func Char(r rune) Value { return Value{kind: KindChar, text: string(r)} }

// Bytes returns a raw byte sequence value.
func Bytes(b []byte) Value { return Value{kind: KindBytes, raw: b} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Seq returns a variable-length sequence.
func Seq(items ...Value) Value { return Value{kind: KindSeq, items: items} }

// Tuple returns a fixed-arity sequence.
func Tuple(items ...Value) Value { return Value{kind: KindTuple, items: items} }

// Map returns a key/value map whose entries are emitted in the given order.
func Map(entries ...Entry) Value { return Value{kind: KindMap, entries: entries} }

// Record returns a named-field record whose fields are emitted in the given order.
func Record(fields ...Field) Value { return Value{kind: KindRecord, fields: fields} }

// UnitVariant returns a tagged variant without payload.
func UnitVariant(tag string) Value { return Value{kind: KindUnitVariant, text: tag} }

// NewtypeVariant returns a tagged variant carrying exactly one value.
func NewtypeVariant(tag string, payload Value) Value {
	return Value{kind: KindNewtypeVariant, text: tag, payload: &payload}
}

// TupleVariant returns a tagged variant carrying an ordered list of values.
func TupleVariant(tag string, items ...Value) Value {
	return Value{kind: KindTupleVariant, text: tag, items: items}
}

// StructVariant returns a tagged variant carrying named fields.
func StructVariant(tag string, fields ...Field) Value {
	return Value{kind: KindStructVariant, text: tag, fields: fields}
}

// RawLiteral returns a Nix expression that is emitted without quoting or escaping,
// for example "pkgs.hello" or "lib.mkForce true".
func RawLiteral(expr string) Value { return Value{kind: KindRawLiteral, text: expr} }

// PathLiteral returns a path emitted as a Nix path expression.
// The caller is responsible for the path text being valid UTF-8; see NewPath.
func PathLiteral(path string) Value { return Value{kind: KindPathLiteral, text: path} }

// E builds a map entry with a string key.
func E(key string, v Value) Entry { return Entry{Key: String(key), Value: v} }

// F builds a record field.
func F(name string, v Value) Field { return Field{Name: name, Value: v} }

// Kind reports the shape of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the absent value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload.
func (v Value) AsBool() bool { return v.b }

// AsInt returns the signed integer payload.
func (v Value) AsInt() int64 { return v.i }

// AsUint returns the unsigned integer payload.
func (v Value) AsUint() uint64 { return v.u }

// AsFloat returns the floating point payload.
func (v Value) AsFloat() float64 { return v.f }

// Text returns the textual payload of strings, chars, raw literals and paths,
// or the tag of a variant.
func (v Value) Text() string { return v.text }

// Tag returns the variant tag, or "" for non-variant values.
func (v Value) Tag() string {
	switch v.kind {
	case KindUnitVariant, KindNewtypeVariant, KindTupleVariant, KindStructVariant:
		return v.text
	}
	return ""
}

// AsBytes returns the byte payload.
func (v Value) AsBytes() []byte { return v.raw }

// Items returns the elements of a seq, tuple or tuple variant.
func (v Value) Items() []Value { return v.items }

// Entries returns the entries of a map.
func (v Value) Entries() []Entry { return v.entries }

// Fields returns the fields of a record or struct variant.
func (v Value) Fields() []Field { return v.fields }

// Payload returns the payload of a newtype variant, or null.
func (v Value) Payload() Value {
	if v.payload == nil {
		return Null()
	}
	return *v.payload
}

// MarshalNix lets a Value be passed anywhere a Marshaler is accepted.
func (v Value) MarshalNix() (Value, error) { return v, nil }
