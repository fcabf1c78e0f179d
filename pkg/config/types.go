package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/nixser/pkg/nix"
)

// Format identifies the language of a source document.
type Format string

const (
	// FormatAuto selects the format from the file extension.
	FormatAuto Format = "auto"

	// FormatCUE is a CUE document.
	FormatCUE Format = "cue"

	// FormatStarlark is a Starlark script whose globals form the document.
	FormatStarlark Format = "star"

	// FormatYAML is a YAML document.
	FormatYAML Format = "yaml"

	// FormatJSON is a JSON document.
	FormatJSON Format = "json"

	// FormatWASM is a WASI generator module that prints a JSON document.
	FormatWASM Format = "wasm"
)

// Formats lists the concrete formats in detection order.
var Formats = []Format{FormatCUE, FormatStarlark, FormatYAML, FormatJSON, FormatWASM}

// Source is one input document.
type Source struct {
	// Name is the file name used in error messages and for format detection.
	Name string

	// Data is the raw document content.
	Data []byte
}

// Document is a loaded source converted to a Nix value tree.
type Document struct {
	// Name is the source name.
	Name string `json:"name"`

	// Format is the concrete format the source was decoded as.
	Format Format `json:"format"`

	// Value is the document as a Nix value, in source order.
	Value nix.Value `json:"-"`

	// LoadedAt is when the document was decoded.
	LoadedAt time.Time `json:"loaded_at"`
}

// Data returns the document as plain Go data, suitable as policy input or
// for JSON output.
func (d *Document) Data() any {
	return Plain(d.Value)
}

// Options controls how sources are decoded.
type Options struct {
	// Format forces a format instead of detecting it from the file name.
	Format Format `json:"format" validate:"omitempty,oneof=auto cue star yaml json wasm"`

	// Expr selects a dotted attribute path inside the document.
	Expr string `json:"expr,omitempty" validate:"omitempty,max=1024"`

	// Schema names a registered CUE schema the document must satisfy.
	Schema string `json:"schema,omitempty"`

	// EvalTimeout bounds Starlark scripts and WASM generators.
	EvalTimeout time.Duration `json:"eval_timeout" validate:"gte=0"`

	// WASMMemoryPages caps WASM generator memory, in 64 KiB pages.
	WASMMemoryPages uint32 `json:"wasm_memory_pages,omitempty" validate:"lte=65536"`
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Format:      FormatAuto,
		EvalTimeout: 30 * time.Second,
	}
}

// LoadError is a decoding error with its source location.
type LoadError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the attribute path of the offending value, if known.
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e LoadError) Error() string {
	var sb strings.Builder
	if e.File != "" {
		sb.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&sb, ":%d", e.Line)
			if e.Column > 0 {
				fmt.Fprintf(&sb, ":%d", e.Column)
			}
		}
		sb.WriteString(": ")
	}
	if e.Path != "" {
		sb.WriteString(e.Path)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	return sb.String()
}

// LoadErrors collects every error reported for one source.
type LoadErrors []LoadError

// Error implements the error interface.
func (errs LoadErrors) Error() string {
	switch len(errs) {
	case 0:
		return "no errors"
	case 1:
		return errs[0].Error()
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d errors:\n  %s", len(errs), strings.Join(msgs, "\n  "))
}
