package config

import (
	"github.com/openfroyo/nixser/pkg/nix"
)

// Plain converts a Nix value tree into plain Go data: maps become
// map[string]any, sequences []any, paths and literals their text. Variants
// become a single-entry map keyed by the tag.
func Plain(v nix.Value) any {
	switch v.Kind() {
	case nix.KindNull:
		return nil
	case nix.KindBool:
		return v.AsBool()
	case nix.KindInt:
		return v.AsInt()
	case nix.KindUint:
		return v.AsUint()
	case nix.KindFloat:
		return v.AsFloat()
	case nix.KindChar, nix.KindString, nix.KindRawLiteral, nix.KindPathLiteral, nix.KindUnitVariant:
		return v.Text()
	case nix.KindBytes:
		return v.AsBytes()
	case nix.KindSeq, nix.KindTuple:
		return plainItems(v.Items())
	case nix.KindMap:
		out := make(map[string]any, len(v.Entries()))
		for _, e := range v.Entries() {
			out[keyText(e.Key)] = Plain(e.Value)
		}
		return out
	case nix.KindRecord:
		return plainFields(v.Fields())
	case nix.KindNewtypeVariant:
		return map[string]any{v.Tag(): Plain(v.Payload())}
	case nix.KindTupleVariant:
		return map[string]any{v.Tag(): plainItems(v.Items())}
	case nix.KindStructVariant:
		return map[string]any{v.Tag(): plainFields(v.Fields())}
	}
	return nil
}

func plainItems(items []nix.Value) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = Plain(item)
	}
	return out
}

func plainFields(fields []nix.Field) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f.Name] = Plain(f.Value)
	}
	return out
}

// keyText returns the attribute name a map key encodes to.
func keyText(k nix.Value) string {
	switch k.Kind() {
	case nix.KindString, nix.KindChar:
		return k.Text()
	}
	s, err := nix.Encode(k)
	if err != nil {
		return k.Kind().String()
	}
	return s
}
