package nix

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestEncode_Scalars(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"null", Null(), "null"},
		{"none", None(), "null"},
		{"some is transparent", Some(Int(3)), "3"},
		{"true", Bool(true), "true"},
		{"false", Bool(false), "false"},
		{"zero", Int(0), "0"},
		{"negative", Int(-42), "-42"},
		{"max uint", Uint(math.MaxUint64), "18446744073709551615"},
		{"float", Float(1.5), "1.5"},
		{"whole float", Float(3), "3"},
		{"negative float", Float(-0.25), "-0.25"},
		{"float32 shortest", Float32(0.1), "0.1"},
		{"char", Char('x'), `"x"`},
		{"char quote", Char('"'), `"\""`},
		{"string", String("Hello World!"), `"Hello World!"`},
		{"unit variant", UnitVariant("Foo"), `"Foo"`},
		{"raw literal", RawLiteral("pkgs.hello"), "pkgs.hello"},
		{"raw literal final newline dropped", RawLiteral("x\n"), "x"},
		{"raw literal inner blank line kept", RawLiteral("a\n\nb\n"), "a\n\nb"},
		{"bytes", Bytes([]byte{1, 255}), "[\n  1\n  255\n]"},
		{"empty bytes", Bytes(nil), "[\n]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncode_NonFiniteFloat(t *testing.T) {
	tests := []struct {
		value Value
		want  string
	}{
		{Float(math.NaN()), "NaN"},
		{Float(math.Inf(1)), "inf"},
		{Float(math.Inf(-1)), "-inf"},
		{Float32(float32(math.Inf(-1))), "-inf"},
		{Record(F("x", Float(math.Inf(1)))), "{\n  x = inf;\n}"},
	}

	for _, tt := range tests {
		got, err := Encode(tt.value)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if got != tt.want {
			t.Errorf("Encode() = %q, want %q", got, tt.want)
		}
	}
}

func TestEncode_Record(t *testing.T) {
	v := Record(
		F("a", Int(42)),
		F("b", String("Hi!")),
		F("c", Bool(true)),
	)

	got, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := "{\n" +
		"  a = 42;\n" +
		"  b = \"Hi!\";\n" +
		"  c = true;\n" +
		"}"
	if got != want {
		t.Errorf("Encode() =\n%s\nwant\n%s", got, want)
	}
}

func TestEncode_Composites(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{
			name:  "empty map",
			value: Map(),
			want:  "{\n}",
		},
		{
			name:  "empty seq",
			value: Seq(),
			want:  "[\n]",
		},
		{
			name:  "seq",
			value: Seq(Int(1), Int(2)),
			want:  "[\n  1\n  2\n]",
		},
		{
			name:  "tuple",
			value: Tuple(Int(1), String("a"), Bool(false)),
			want:  `[1 "a" false ]`,
		},
		{
			name:  "empty tuple",
			value: Tuple(),
			want:  "[ ]",
		},
		{
			name:  "tuple holding seq",
			value: Tuple(Seq(Int(1))),
			want:  "[[\n    1\n  ] ]",
		},
		{
			name:  "seq after tuple stays one level deeper",
			value: Seq(Tuple(Int(1), Int(2)), Int(3)),
			want:  "[\n  [1 2 ]\n    3\n  ]",
		},
		{
			name:  "tuple holding map",
			value: Tuple(Map(E("a", Int(1)))),
			want:  "[{\n    a = 1;\n  } ]",
		},
		{
			name:  "map keys are unquoted",
			value: Map(E("enable", Bool(true)), E("with-setting", Bool(true))),
			want:  "{\n  enable = true;\n  with-setting = true;\n}",
		},
		{
			name: "map with integer keys and nulls",
			value: Map(
				Entry{Key: Int(1), Value: Int(1)},
				Entry{Key: Int(2), Value: None()},
				Entry{Key: Int(3), Value: Int(3)},
			),
			want: "{\n  1 = 1;\n  2 = null;\n  3 = 3;\n}",
		},
		{
			name:  "nested record",
			value: Record(F("inner", Record(F("x", Int(1))))),
			want:  "{\n  inner = {\n    x = 1;\n  };\n}",
		},
		{
			name:  "nested empty map",
			value: Record(F("e", Map())),
			want:  "{\n  e = {\n  };\n}",
		},
		{
			name:  "seq of records",
			value: Seq(Record(F("a", Int(1)))),
			want:  "[\n  {\n    a = 1;\n  }\n]",
		},
		{
			name:  "record holding seq",
			value: Record(F("imports", Seq(PathLiteral("./hardware.nix")))),
			want:  "{\n  imports = [\n    ./hardware.nix\n  ];\n}",
		},
		{
			name:  "tuple inside record keeps depth",
			value: Record(F("t", Tuple(Int(1), Int(2))), F("n", Record(F("x", Int(1))))),
			want:  "{\n  t = [1 2 ];\n  n = {\n    x = 1;\n  };\n}",
		},
		{
			name:  "newtype variant",
			value: NewtypeVariant("Inches", Uint(8)),
			want:  "{ inches = 8; }",
		},
		{
			name:  "newtype variant with string payload",
			value: NewtypeVariant("Name", String("x")),
			want:  `{ name = "x"; }`,
		},
		{
			name:  "newtype variant keeps lower-case tag",
			value: NewtypeVariant("already", Int(1)),
			want:  "{ already = 1; }",
		},
		{
			name:  "tuple variant",
			value: TupleVariant("Point", Int(1), Int(2)),
			want:  `{ "Point" = [ 1 2 ] }`,
		},
		{
			name:  "empty tuple variant",
			value: TupleVariant("Origin"),
			want:  `{ "Origin" = [ ] }`,
		},
		{
			name:  "struct variant",
			value: StructVariant("Rgb", F("r", Int(1)), F("g", Int(2))),
			want:  `{ "Rgb" = { r = 1; g = 2; }; }`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Encode() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestEncode_NestedLibraries(t *testing.T) {
	book := func(name string) Value {
		return Record(
			F("name", String(name)),
			F("author", String("Christopher Paolini")),
			F("read", Bool(true)),
		)
	}
	library := Map(
		E("Eragon", book("Eragon")),
		E("Eldest", book("Eldest")),
	)

	got, err := Encode(Seq(library))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := strings.Join([]string{
		"[",
		"  {",
		"    Eragon = {",
		`      name = "Eragon";`,
		`      author = "Christopher Paolini";`,
		"      read = true;",
		"    };",
		"    Eldest = {",
		`      name = "Eldest";`,
		`      author = "Christopher Paolini";`,
		"      read = true;",
		"    };",
		"  }",
		"]",
	}, "\n")
	if got != want {
		t.Errorf("Encode() =\n%s\nwant\n%s", got, want)
	}
}

type rejecting struct{}

func (rejecting) MarshalNix() (Value, error) {
	return Value{}, Custom("value rejected")
}

func TestEncode_ErrorsAreTerminal(t *testing.T) {
	type config struct {
		OK  int   `nix:"ok"`
		Bad []any `nix:"bad"`
	}

	got, err := Marshal(config{OK: 1, Bad: []any{1, rejecting{}}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsPayload(err) {
		t.Errorf("expected payload error, got %v", err)
	}
	if got != "" {
		t.Errorf("expected no partial output, got %q", got)
	}

	var buf bytes.Buffer
	if err := MarshalTo(&buf, config{Bad: []any{rejecting{}}}); err == nil {
		t.Fatal("expected error")
	}
	if buf.Len() != 0 {
		t.Errorf("expected nothing written, got %q", buf.String())
	}
}

func TestEncode_Deterministic(t *testing.T) {
	v := Record(
		F("a", Map(E("x", Seq(Int(1), String("two"))))),
		F("b", PathLiteral("dir with space/x.nix")),
	)

	first, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Encode(v)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if again != first {
			t.Fatalf("output changed between calls:\n%s\n%s", first, again)
		}
	}
}

func TestMarshalTo(t *testing.T) {
	var buf bytes.Buffer
	if err := MarshalTo(&buf, map[string]int{"b": 2, "a": 1}); err != nil {
		t.Fatalf("MarshalTo() error = %v", err)
	}

	want := "{\n  a = 1;\n  b = 2;\n}\n"
	if buf.String() != want {
		t.Errorf("MarshalTo() wrote %q, want %q", buf.String(), want)
	}
}

func TestBlankIndentOnlyLines(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"\n", ""},
		{"{\n  \n}", "{\n\n}"},
		{"a\n    \nb\n", "a\n\nb"},
		{"  x\n  ", "  x\n"},
		{"\t\n", "\t"},
		{"x\n\n", "x\n"},
		{"a\r\nb\r\n", "a\nb"},
		{"a\r\n  \r\nb", "a\n\nb"},
	}

	for _, tt := range tests {
		if got := blankIndentOnlyLines(tt.in); got != tt.want {
			t.Errorf("blankIndentOnlyLines(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEncodeError(t *testing.T) {
	inner := errors.New("boom")
	err := payloadError("marshaling T", inner)

	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to find the wrapped error")
	}
	if got := err.Error(); got != "nix: marshaling T: boom" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(Customf("x %d", 1), &EncodeError{Class: ErrorClassPayload, Message: "x 1"}) {
		t.Error("expected Is to match class and message")
	}
	if IsContractViolation(err) {
		t.Error("payload error reported as contract violation")
	}
}
