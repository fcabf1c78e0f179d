package config

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/openfroyo/nixser/pkg/nix"
)

// CUEDecoder decodes CUE documents. Struct fields keep their declaration
// order. A string field carrying @nix(path) or @nix(literal) is emitted as a
// Nix path or a raw Nix expression.
type CUEDecoder struct {
	mu  sync.Mutex
	ctx *cue.Context
}

// NewCUEDecoder creates a new CUE decoder.
func NewCUEDecoder() *CUEDecoder {
	return &CUEDecoder{ctx: cuecontext.New()}
}

// Decode compiles a single CUE file. The result must be concrete.
func (d *CUEDecoder) Decode(ctx context.Context, src Source) (nix.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	val := d.ctx.CompileBytes(src.Data, cue.Filename(src.Name))
	return d.convert(val)
}

// DecodeDir loads the CUE package in dir, unifying all of its files.
func (d *CUEDecoder) DecodeDir(ctx context.Context, dir string) (nix.Value, []string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nix.Value{}, nil, LoadError{File: dir, Message: "no CUE files found"}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nix.Value{}, nil, convertCUEErrors(inst.Err)
	}

	var files []string
	for _, f := range inst.Files {
		if f.Filename != "" {
			files = append(files, f.Filename)
		}
	}

	val, err := d.convert(d.ctx.BuildInstance(inst))
	return val, files, err
}

func (d *CUEDecoder) convert(val cue.Value) (nix.Value, error) {
	if err := val.Err(); err != nil {
		return nix.Value{}, convertCUEErrors(err)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nix.Value{}, convertCUEErrors(err)
	}
	return cueToValue(val, "")
}

// cueToValue converts a concrete CUE value. path is the attribute path used
// in error messages.
func cueToValue(v cue.Value, path string) (nix.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return nix.Null(), nil

	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nix.Value{}, cueFieldError(path, err)
		}
		return nix.Bool(b), nil

	case cue.IntKind:
		if i, err := v.Int64(); err == nil {
			return nix.Int(i), nil
		}
		u, err := v.Uint64()
		if err != nil {
			return nix.Value{}, cueFieldError(path, err)
		}
		return nix.Uint(u), nil

	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nix.Value{}, cueFieldError(path, err)
		}
		return nix.Float(f), nil

	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nix.Value{}, cueFieldError(path, err)
		}
		return stringWithAttr(v, s, path)

	case cue.BytesKind:
		b, err := v.Bytes()
		if err != nil {
			return nix.Value{}, cueFieldError(path, err)
		}
		return nix.Bytes(b), nil

	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nix.Value{}, cueFieldError(path, err)
		}
		var items []nix.Value
		for i := 0; iter.Next(); i++ {
			item, err := cueToValue(iter.Value(), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nix.Value{}, err
			}
			items = append(items, item)
		}
		return nix.Seq(items...), nil

	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nix.Value{}, cueFieldError(path, err)
		}
		var fields []nix.Field
		for iter.Next() {
			name := iter.Selector().Unquoted()
			fieldPath := name
			if path != "" {
				fieldPath = path + "." + name
			}
			fv, err := cueToValue(iter.Value(), fieldPath)
			if err != nil {
				return nix.Value{}, err
			}
			fields = append(fields, nix.F(name, fv))
		}
		return nix.Record(fields...), nil
	}

	return nix.Value{}, LoadError{Path: path, Message: fmt.Sprintf("unsupported CUE kind %s", v.Kind())}
}

// stringWithAttr applies the @nix(path) and @nix(literal) field attributes.
func stringWithAttr(v cue.Value, s, path string) (nix.Value, error) {
	attr := v.Attribute("nix")
	if attr.Err() != nil {
		return nix.String(s), nil
	}

	if ok, _ := attr.Flag(0, "path"); ok {
		p, err := nix.NewPath(s)
		if err != nil {
			return nix.Value{}, cueFieldError(path, err)
		}
		return p.MarshalNix()
	}
	if ok, _ := attr.Flag(0, "literal"); ok {
		return nix.RawLiteral(s), nil
	}
	return nix.Value{}, LoadError{Path: path, Message: fmt.Sprintf("unknown @nix attribute %q", attr.Contents())}
}

func cueFieldError(path string, err error) error {
	return LoadError{Path: path, Message: err.Error()}
}

// convertCUEErrors converts CUE errors to LoadErrors.
func convertCUEErrors(err error) LoadErrors {
	var out LoadErrors

	for _, e := range errors.Errors(err) {
		le := LoadError{Path: strings.Join(errors.Path(e), ".")}

		if pos := errors.Positions(e); len(pos) > 0 {
			le.File = pos[0].Filename()
			le.Line = pos[0].Line()
			le.Column = pos[0].Column()
		}

		format, args := e.Msg()
		le.Message = fmt.Sprintf(format, args...)
		out = append(out, le)
	}

	if len(out) == 0 {
		out = append(out, LoadError{Message: err.Error()})
	}
	return out
}
