package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/nixser/pkg/nix"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// StarlarkDecoder executes Starlark scripts and turns their exported globals
// into a record. Globals are sorted by name; names starting with "_" and
// function definitions are skipped.
//
// Scripts get three builtins on top of the Starlark universe:
//
//	struct(**kwargs)  record with fields sorted by name
//	path(s)           Nix path
//	literal(s)        raw Nix expression
type StarlarkDecoder struct {
	timeout time.Duration
}

// NewStarlarkDecoder creates a new Starlark decoder.
func NewStarlarkDecoder(timeout time.Duration) *StarlarkDecoder {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkDecoder{timeout: timeout}
}

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Decode runs the script and converts its globals.
func (d *StarlarkDecoder) Decode(ctx context.Context, src Source) (nix.Value, error) {
	evalCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "nixser",
		Print: func(_ *starlark.Thread, msg string) {
			// print() output is dropped; stdout carries the rendered text.
		},
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-evalCtx.Done():
			thread.Cancel(fmt.Sprintf("execution stopped: %v", evalCtx.Err()))
		case <-done:
		}
	}()

	predeclared := starlark.StringDict{
		"struct":  starlark.NewBuiltin("struct", starlarkstruct.Make),
		"path":    starlark.NewBuiltin("path", builtinPath),
		"literal": starlark.NewBuiltin("literal", builtinLiteral),
	}

	globals, err := starlark.ExecFileOptions(fileOptions, thread, src.Name, src.Data, predeclared)
	if err != nil {
		return nix.Value{}, starlarkError(src.Name, err)
	}

	var fields []nix.Field
	for _, name := range globals.Keys() {
		if strings.HasPrefix(name, "_") {
			continue
		}
		val := globals[name]
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		v, err := starlarkToValue(val, name)
		if err != nil {
			return nix.Value{}, err
		}
		fields = append(fields, nix.F(name, v))
	}

	return nix.Record(fields...), nil
}

func starlarkError(file string, err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		le := LoadError{File: file, Message: evalErr.Msg}
		if len(evalErr.CallStack) > 0 {
			pos := evalErr.CallStack.At(0).Pos
			le.Line = int(pos.Line)
			le.Column = int(pos.Col)
		}
		return le
	}

	var syntaxErr syntax.Error
	if errors.As(err, &syntaxErr) {
		return LoadError{
			File:    file,
			Line:    int(syntaxErr.Pos.Line),
			Column:  int(syntaxErr.Pos.Col),
			Message: syntaxErr.Msg,
		}
	}

	var resolveErrs resolve.ErrorList
	if errors.As(err, &resolveErrs) {
		out := make(LoadErrors, len(resolveErrs))
		for i, e := range resolveErrs {
			out[i] = LoadError{File: file, Line: int(e.Pos.Line), Column: int(e.Pos.Col), Message: e.Msg}
		}
		return out
	}

	return LoadError{File: file, Message: err.Error()}
}

// starlarkToValue converts a Starlark value. path is the attribute path used
// in error messages.
func starlarkToValue(v starlark.Value, path string) (nix.Value, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nix.Null(), nil
	case starlark.Bool:
		return nix.Bool(bool(val)), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return nix.Int(i), nil
		}
		if u, ok := val.Uint64(); ok {
			return nix.Uint(u), nil
		}
		return nix.Value{}, LoadError{Path: path, Message: "integer too large"}
	case starlark.Float:
		return nix.Float(float64(val)), nil
	case starlark.String:
		return nix.String(string(val)), nil
	case starlark.Bytes:
		return nix.Bytes([]byte(val)), nil
	case nixSpecial:
		return val.value, nil
	case *starlark.List:
		items := make([]nix.Value, val.Len())
		for i := range items {
			item, err := starlarkToValue(val.Index(i), path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nix.Value{}, err
			}
			items[i] = item
		}
		return nix.Seq(items...), nil
	case starlark.Tuple:
		items := make([]nix.Value, len(val))
		for i, elem := range val {
			item, err := starlarkToValue(elem, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nix.Value{}, err
			}
			items[i] = item
		}
		return nix.Tuple(items...), nil
	case *starlark.Set:
		iter := val.Iterate()
		defer iter.Done()
		var items []nix.Value
		var elem starlark.Value
		for i := 0; iter.Next(&elem); i++ {
			item, err := starlarkToValue(elem, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nix.Value{}, err
			}
			items = append(items, item)
		}
		return nix.Seq(items...), nil
	case *starlark.Dict:
		var b nix.MapBuilder
		for _, item := range val.Items() {
			key, err := starlarkToValue(item[0], path)
			if err != nil {
				return nix.Value{}, err
			}
			value, err := starlarkToValue(item[1], path+"."+item[0].String())
			if err != nil {
				return nix.Value{}, err
			}
			if err := b.Entry(key, value); err != nil {
				return nix.Value{}, err
			}
		}
		return b.Build()
	case *starlarkstruct.Struct:
		var fields []nix.Field
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nix.Value{}, LoadError{Path: path, Message: err.Error()}
			}
			fv, err := starlarkToValue(attr, path+"."+name)
			if err != nil {
				return nix.Value{}, err
			}
			fields = append(fields, nix.F(name, fv))
		}
		return nix.Record(fields...), nil
	}
	return nix.Value{}, LoadError{Path: path, Message: fmt.Sprintf("unsupported starlark type: %s", v.Type())}
}

// nixSpecial is the Starlark value returned by path() and literal().
type nixSpecial struct {
	value nix.Value
}

var _ starlark.Value = nixSpecial{}

func (s nixSpecial) String() string {
	return s.Type() + "(" + strconv.Quote(s.value.Text()) + ")"
}

func (s nixSpecial) Type() string {
	if s.value.Kind() == nix.KindPathLiteral {
		return "path"
	}
	return "literal"
}

func (s nixSpecial) Freeze() {}

func (s nixSpecial) Truth() starlark.Bool { return s.value.Text() != "" }

func (s nixSpecial) Hash() (uint32, error) {
	return starlark.String(s.value.Text()).Hash()
}

func builtinPath(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	p, err := nix.NewPath(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	v, err := p.MarshalNix()
	if err != nil {
		return nil, err
	}
	return nixSpecial{value: v}, nil
}

func builtinLiteral(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	return nixSpecial{value: nix.RawLiteral(s)}, nil
}
