package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/nixser/pkg/nix"
	"github.com/rs/zerolog"
)

// Decoder converts one source document into a Nix value tree.
type Decoder interface {
	Decode(ctx context.Context, src Source) (nix.Value, error)
}

// Loader reads source documents in any supported format.
type Loader struct {
	opts     Options
	decoders map[Format]Decoder
	schemas  *SchemaRegistry
	logger   zerolog.Logger
}

// NewLoader creates a loader after validating opts.
func NewLoader(opts Options, logger zerolog.Logger) (*Loader, error) {
	if err := validator.New().Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid load options: %w", err)
	}
	if opts.Format == "" {
		opts.Format = FormatAuto
	}
	if opts.EvalTimeout == 0 {
		opts.EvalTimeout = DefaultOptions().EvalTimeout
	}

	schemas := NewSchemaRegistry()
	if opts.Schema != "" {
		if _, ok := schemas.GetSchema(opts.Schema); !ok {
			return nil, fmt.Errorf("unknown schema %q", opts.Schema)
		}
	}

	return &Loader{
		opts: opts,
		decoders: map[Format]Decoder{
			FormatCUE:      NewCUEDecoder(),
			FormatStarlark: NewStarlarkDecoder(opts.EvalTimeout),
			FormatYAML:     NewYAMLDecoder(),
			FormatJSON:     NewJSONDecoder(),
			FormatWASM:     NewWASMDecoder(opts.EvalTimeout, opts.WASMMemoryPages),
		},
		schemas: schemas,
		logger:  logger.With().Str("component", "loader").Logger(),
	}, nil
}

// Schemas returns the schema registry used for Options.Schema.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// Load reads and decodes the file at path. A directory is loaded as a CUE
// package.
func (l *Loader) Load(ctx context.Context, path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return l.loadDir(ctx, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return l.LoadSource(ctx, Source{Name: path, Data: data})
}

// LoadSource decodes an in-memory source.
func (l *Loader) LoadSource(ctx context.Context, src Source) (*Document, error) {
	format, err := l.formatOf(src.Name)
	if err != nil {
		return nil, err
	}

	dec, ok := l.decoders[format]
	if !ok {
		return nil, fmt.Errorf("no decoder for format %q", format)
	}

	start := time.Now()
	value, err := dec.Decode(ctx, src)
	if err != nil {
		return nil, err
	}
	return l.finish(ctx, src.Name, format, value, start)
}

func (l *Loader) loadDir(ctx context.Context, dir string) (*Document, error) {
	if l.opts.Format != FormatAuto && l.opts.Format != FormatCUE {
		return nil, fmt.Errorf("%s is a directory; only CUE packages can be loaded from directories", dir)
	}

	start := time.Now()
	value, files, err := l.decoders[FormatCUE].(*CUEDecoder).DecodeDir(ctx, dir)
	if err != nil {
		return nil, err
	}

	l.logger.Debug().Str("dir", dir).Strs("files", files).Msg("CUE package loaded")
	return l.finish(ctx, dir, FormatCUE, value, start)
}

// finish applies the schema and the expression selector.
func (l *Loader) finish(ctx context.Context, name string, format Format, value nix.Value, start time.Time) (*Document, error) {
	if l.opts.Schema != "" {
		if err := l.schemas.Validate(ctx, l.opts.Schema, Plain(value)); err != nil {
			return nil, LoadError{File: name, Message: err.Error()}
		}
	}

	if l.opts.Expr != "" {
		var err error
		value, err = Select(value, l.opts.Expr)
		if err != nil {
			return nil, LoadError{File: name, Path: l.opts.Expr, Message: err.Error()}
		}
	}

	l.logger.Debug().
		Str("source", name).
		Str("format", string(format)).
		Str("kind", value.Kind().String()).
		Dur("duration", time.Since(start)).
		Msg("Document loaded")

	return &Document{
		Name:     name,
		Format:   format,
		Value:    value,
		LoadedAt: time.Now(),
	}, nil
}

func (l *Loader) formatOf(name string) (Format, error) {
	if l.opts.Format != FormatAuto {
		return l.opts.Format, nil
	}
	return DetectFormat(name)
}

// DetectFormat maps a file extension to a format.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".cue":
		return FormatCUE, nil
	case ".star", ".bzl", ".sky":
		return FormatStarlark, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".wasm":
		return FormatWASM, nil
	}
	return "", fmt.Errorf("cannot detect format of %q; set the format explicitly", name)
}

// Select returns the value at a dotted attribute path such as
// "services.nginx". Map keys and record fields are both matched by name;
// a numeric segment indexes a sequence.
func Select(v nix.Value, path string) (nix.Value, error) {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nix.Value{}, fmt.Errorf("empty segment in path %q", path)
		}
		next, ok := child(cur, seg)
		if !ok {
			return nix.Value{}, fmt.Errorf("attribute %q not found", seg)
		}
		cur = next
	}
	return cur, nil
}

func child(v nix.Value, name string) (nix.Value, bool) {
	switch v.Kind() {
	case nix.KindRecord:
		for _, f := range v.Fields() {
			if f.Name == name {
				return f.Value, true
			}
		}
	case nix.KindMap:
		for _, e := range v.Entries() {
			if keyText(e.Key) == name {
				return e.Value, true
			}
		}
	case nix.KindSeq, nix.KindTuple:
		if i, err := strconv.Atoi(name); err == nil && i >= 0 && i < len(v.Items()) {
			return v.Items()[i], true
		}
	}
	return nix.Value{}, false
}
