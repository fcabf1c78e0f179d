package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/nixser/pkg/nix"
)

func encodeOrFail(t *testing.T, v nix.Value) string {
	t.Helper()
	out, err := nix.Encode(v)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return out
}

func TestCUEDecoder_Decode(t *testing.T) {
	dec := NewCUEDecoder()
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "scalars and list keep declaration order",
			content: `
name:   "web"
port:   8080
enable: true
ratio:  0.5
tags: ["a", "b"]
`,
			want: `{
  name = "web";
  port = 8080;
  enable = true;
  ratio = 0.5;
  tags = [
    "a"
    "b"
  ];
}`,
		},
		{
			name: "nested struct",
			content: `
services: nginx: {
	enable: true
	"server-name": "example.org"
}
`,
			want: `{
  services = {
    nginx = {
      enable = true;
      server-name = "example.org";
    };
  };
}`,
		},
		{
			name: "path and literal attributes",
			content: `
src: "./src" @nix(path)
abs: "/srv/my files" @nix(path)
pkg: "pkgs.hello" @nix(literal)
`,
			want: `{
  src = ./src;
  abs = /. + "/srv/my files";
  pkg = pkgs.hello;
}`,
		},
		{
			name: "definitions and hidden fields are dropped",
			content: `
#Port: int & >0
_internal: 3
port: #Port & 22
`,
			want: `{
  port = 22;
}`,
		},
		{
			name:    "null value",
			content: `value: null`,
			want: `{
  value = null;
}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := dec.Decode(ctx, Source{Name: "test.cue", Data: []byte(tt.content)})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := encodeOrFail(t, v); got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestCUEDecoder_Errors(t *testing.T) {
	dec := NewCUEDecoder()
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "syntax error",
			content: "a: {\n",
		},
		{
			name:    "incomplete value",
			content: "port: int\n",
		},
		{
			name:    "conflicting values",
			content: "port: 1\nport: 2\n",
		},
		{
			name:    "unknown nix attribute",
			content: `name: "x" @nix(store)`,
			wantMsg: "unknown @nix attribute",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dec.Decode(ctx, Source{Name: "bad.cue", Data: []byte(tt.content)})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestCUEDecoder_ErrorPositions(t *testing.T) {
	dec := NewCUEDecoder()

	_, err := dec.Decode(context.Background(), Source{
		Name: "conflict.cue",
		Data: []byte("a: 1\nb: 2\nb: 3\n"),
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var errs LoadErrors
	if !errors.As(err, &errs) {
		t.Fatalf("expected LoadErrors, got %T", err)
	}
	if len(errs) == 0 {
		t.Fatal("expected at least one error")
	}
	if errs[0].Path != "b" {
		t.Errorf("expected path b, got %q", errs[0].Path)
	}
	if errs[0].Line < 2 {
		t.Errorf("expected line >= 2, got %d", errs[0].Line)
	}
}

func TestCUEDecoder_DecodeDir(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"host.cue":     "package host\n\nnetworking: hostName: \"web\"\n",
		"services.cue": "package host\n\nservices: sshd: enable: true\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	v, loaded, err := NewCUEDecoder().DecodeDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("expected 2 files, got %v", loaded)
	}

	host, err := Select(v, "networking.hostName")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if host.Text() != "web" {
		t.Errorf("expected hostName web, got %q", host.Text())
	}

	sshd, err := Select(v, "services.sshd.enable")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if !sshd.AsBool() {
		t.Error("expected sshd to be enabled")
	}
}
