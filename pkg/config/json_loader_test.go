package config

import (
	"context"
	"strings"
	"testing"

	"github.com/openfroyo/nixser/pkg/nix"
)

func TestJSONDecoder_Decode(t *testing.T) {
	dec := NewJSONDecoder()
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "object key order is preserved",
			content: `{"zeta": 1, "alpha": "two", "list": [1.5, false, null]}`,
			want: `{
  zeta = 1;
  alpha = "two";
  list = [
    1.5
    false
    null
  ];
}`,
		},
		{
			name:    "nested objects",
			content: `{"services": {"openssh": {"enable": true, "ports": [22]}}}`,
			want: `{
  services = {
    openssh = {
      enable = true;
      ports = [
        22
      ];
    };
  };
}`,
		},
		{
			name:    "integers beyond int64",
			content: `{"max": 18446744073709551615, "min": -9223372036854775808}`,
			want: `{
  max = 18446744073709551615;
  min = -9223372036854775808;
}`,
		},
		{
			name:    "exponent is a float",
			content: `[1e3, 2.50]`,
			want: `[
  1000
  2.5
]`,
		},
		{
			name:    "scalar document",
			content: `"hello"`,
			want:    `"hello"`,
		},
		{
			name:    "empty containers",
			content: `{"a": {}, "b": []}`,
			want: `{
  a = {
  };
  b = [
  ];
}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := dec.Decode(ctx, Source{Name: "test.json", Data: []byte(tt.content)})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := encodeOrFail(t, v); got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestJSONDecoder_Errors(t *testing.T) {
	dec := NewJSONDecoder()
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{name: "malformed", content: `{"a": }`},
		{name: "empty input", content: ``},
		{name: "duplicate key", content: `{"a": 1, "a": 2}`, wantMsg: `duplicate key "a"`},
		{name: "number out of range", content: `{"n": 1e400}`, wantMsg: "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dec.Decode(ctx, Source{Name: "bad.json", Data: []byte(tt.content)})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.HasPrefix(err.Error(), "bad.json: ") {
				t.Errorf("expected error to name the file, got %q", err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestJSONNumber(t *testing.T) {
	tests := []struct {
		in   string
		kind nix.Kind
	}{
		{"0", nix.KindInt},
		{"-12", nix.KindInt},
		{"9223372036854775808", nix.KindUint},
		{"18446744073709551616", nix.KindFloat},
		{"1.0", nix.KindFloat},
		{"1E2", nix.KindFloat},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := jsonNumber(tt.in, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v.Kind() != tt.kind {
				t.Errorf("expected %s, got %s", tt.kind, v.Kind())
			}
		})
	}
}
