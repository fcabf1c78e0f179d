package nix

import (
	"encoding"
	"reflect"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"
)

// Marshaler is implemented by types that describe their own Nix shape.
// Tagged variants have no Go counterpart and are built this way.
type Marshaler interface {
	MarshalNix() (Value, error)
}

var (
	marshalerType     = reflect.TypeFor[Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

// ValueOf builds the Value tree for x.
//
// Mapping:
//   - Marshaler: the returned Value
//   - encoding.TextMarshaler: string
//   - bool, integers, floats, strings: the matching scalar
//   - []byte: bytes
//   - slices: seq; arrays: tuple
//   - maps: map, with entries sorted by the encoded key text
//   - structs: record, following the "nix" struct tag
//   - nil pointers and interfaces: null; other pointers: the pointee
//
// The struct tag has the form `nix:"name,opt1,opt2"`. A name of "-" skips
// the field. Options:
//   - omitempty: skip false, 0, "", nil and empty collections
//   - path: emit string values as Nix paths
//   - literal: emit string values verbatim as Nix expressions
//
// Embedded structs without a tag name have their fields promoted, with the
// same precedence rules as encoding/json.
func ValueOf(x any) (Value, error) {
	return valueOf(reflect.ValueOf(x))
}

func valueOf(rv reflect.Value) (Value, error) {
	if !rv.IsValid() {
		return Null(), nil
	}

	if m, ok := asMarshaler(rv); ok {
		v, err := m.MarshalNix()
		if err != nil {
			return Value{}, wrapMarshalerError(rv.Type().String(), err)
		}
		return v, nil
	}
	if tm, ok := asTextMarshaler(rv); ok {
		text, err := tm.MarshalText()
		if err != nil {
			return Value{}, wrapMarshalerError(rv.Type().String(), err)
		}
		return String(string(text)), nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Uint(rv.Uint()), nil
	case reflect.Float32:
		return Float32(float32(rv.Float())), nil
	case reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return valueOf(rv.Elem())
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 && !implementsMarshaler(rv.Type().Elem()) {
			return Bytes(rv.Bytes()), nil
		}
		items, err := elements(rv)
		if err != nil {
			return Value{}, err
		}
		return Seq(items...), nil
	case reflect.Array:
		items, err := elements(rv)
		if err != nil {
			return Value{}, err
		}
		return Tuple(items...), nil
	case reflect.Map:
		return mapValue(rv)
	case reflect.Struct:
		return structValue(rv)
	}
	return Value{}, Customf("unsupported type %s", rv.Type())
}

func implementsMarshaler(t reflect.Type) bool {
	return t.Implements(marshalerType) || reflect.PointerTo(t).Implements(marshalerType)
}

func asMarshaler(rv reflect.Value) (Marshaler, bool) {
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, false
	}
	if rv.Kind() != reflect.Interface && rv.Type().Implements(marshalerType) {
		return rv.Interface().(Marshaler), true
	}
	if rv.CanAddr() && rv.Addr().Type().Implements(marshalerType) {
		return rv.Addr().Interface().(Marshaler), true
	}
	return nil, false
}

func asTextMarshaler(rv reflect.Value) (encoding.TextMarshaler, bool) {
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, false
	}
	if rv.Kind() != reflect.Interface && rv.Type().Implements(textMarshalerType) {
		return rv.Interface().(encoding.TextMarshaler), true
	}
	if rv.CanAddr() && rv.Addr().Type().Implements(textMarshalerType) {
		return rv.Addr().Interface().(encoding.TextMarshaler), true
	}
	return nil, false
}

func elements(rv reflect.Value) ([]Value, error) {
	items := make([]Value, rv.Len())
	for i := range items {
		v, err := valueOf(rv.Index(i))
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	return items, nil
}

// mapValue converts a Go map. Go map iteration order is random, so entries
// are sorted by the text their keys encode to.
func mapValue(rv reflect.Value) (Value, error) {
	type sortable struct {
		text  string
		entry Entry
	}
	entries := make([]sortable, 0, rv.Len())

	iter := rv.MapRange()
	for iter.Next() {
		key, err := valueOf(iter.Key())
		if err != nil {
			return Value{}, err
		}
		text, err := Encode(key)
		if err != nil {
			return Value{}, err
		}
		value, err := valueOf(iter.Value())
		if err != nil {
			return Value{}, err
		}
		entries = append(entries, sortable{text: text, entry: Entry{Key: key, Value: value}})
	}

	slices.SortFunc(entries, func(a, b sortable) int {
		return strings.Compare(a.text, b.text)
	})

	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.entry
	}
	return Map(out...), nil
}

func structValue(rv reflect.Value) (Value, error) {
	fields := cachedFields(rv.Type())
	out := make([]Field, 0, len(fields))

	for _, f := range fields {
		fv, err := rv.FieldByIndexErr(f.index)
		if err != nil {
			// Promoted through a nil embedded pointer.
			continue
		}
		if f.omitEmpty && isEmptyValue(fv) {
			continue
		}

		v, err := valueOf(fv)
		if err != nil {
			return Value{}, err
		}
		switch {
		case f.path:
			v, err = mapText(v, pathValue)
		case f.literal:
			v, err = mapText(v, literalValue)
		}
		if err != nil {
			return Value{}, err
		}
		out = append(out, Field{Name: f.name, Value: v})
	}
	return Record(out...), nil
}

// mapText applies conv to the text of v, or of each element when v is a
// seq. Null passes through so optional fields stay null.
func mapText(v Value, conv func(string) (Value, error)) (Value, error) {
	switch v.kind {
	case KindNull:
		return v, nil
	case KindSeq:
		items := make([]Value, len(v.items))
		for i, item := range v.items {
			converted, err := mapText(item, conv)
			if err != nil {
				return Value{}, err
			}
			items[i] = converted
		}
		return Seq(items...), nil
	}
	text, err := rawText(v)
	if err != nil {
		return Value{}, err
	}
	return conv(text)
}

func pathValue(s string) (Value, error) {
	if !utf8.ValidString(s) {
		return Value{}, ErrInvalidUTF8Path
	}
	return PathLiteral(s), nil
}

func literalValue(s string) (Value, error) {
	return RawLiteral(s), nil
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

type fieldInfo struct {
	name      string
	index     []int
	depth     int
	tagged    bool
	omitEmpty bool
	path      bool
	literal   bool
}

var fieldCache sync.Map // map[reflect.Type][]fieldInfo

func cachedFields(t reflect.Type) []fieldInfo {
	if f, ok := fieldCache.Load(t); ok {
		return f.([]fieldInfo)
	}
	f, _ := fieldCache.LoadOrStore(t, typeFields(t))
	return f.([]fieldInfo)
}

// typeFields lists the encoded fields of struct type t in declaration order,
// with embedded struct fields promoted in place.
func typeFields(t reflect.Type) []fieldInfo {
	var all []fieldInfo
	collectFields(t, nil, map[reflect.Type]bool{}, &all)

	// Resolve name collisions: the shallowest field wins, a tagged field
	// wins a tie, and an unresolved tie drops the name entirely.
	byName := make(map[string][]int)
	for i, f := range all {
		byName[f.name] = append(byName[f.name], i)
	}
	keep := make([]bool, len(all))
	for _, idx := range byName {
		if winner, ok := dominantField(all, idx); ok {
			keep[winner] = true
		}
	}

	fields := make([]fieldInfo, 0, len(all))
	for i, f := range all {
		if keep[i] {
			fields = append(fields, f)
		}
	}
	return fields
}

func dominantField(all []fieldInfo, idx []int) (int, bool) {
	best := idx[0]
	for _, i := range idx[1:] {
		if all[i].depth < all[best].depth {
			best = i
		}
	}
	var candidates []int
	for _, i := range idx {
		if all[i].depth == all[best].depth {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}
	var tagged []int
	for _, i := range candidates {
		if all[i].tagged {
			tagged = append(tagged, i)
		}
	}
	if len(tagged) == 1 {
		return tagged[0], true
	}
	return 0, false
}

func collectFields(t reflect.Type, index []int, visited map[reflect.Type]bool, out *[]fieldInfo) {
	if visited[t] {
		return
	}
	visited[t] = true
	defer delete(visited, t)

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("nix")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		fieldIndex := make([]int, len(index)+1)
		copy(fieldIndex, index)
		fieldIndex[len(index)] = i

		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && !implementsMarshaler(ft) {
				collectFields(ft, fieldIndex, visited, out)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}

		f := fieldInfo{
			name:   sf.Name,
			index:  fieldIndex,
			depth:  len(index),
			tagged: name != "",
		}
		if name != "" {
			f.name = name
		}
		for opt := range strings.SplitSeq(opts, ",") {
			switch opt {
			case "omitempty":
				f.omitEmpty = true
			case "path":
				f.path = true
			case "literal":
				f.literal = true
			}
		}
		*out = append(*out, f)
	}
}
