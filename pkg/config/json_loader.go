package config

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/openfroyo/nixser/pkg/nix"
)

// JSONDecoder decodes JSON documents with object key order preserved.
// Integers that fit int64 or uint64 stay integers; everything else with a
// fraction or exponent is a float.
type JSONDecoder struct{}

// NewJSONDecoder creates a new JSON decoder.
func NewJSONDecoder() *JSONDecoder {
	return &JSONDecoder{}
}

// Decode parses a single JSON value.
func (d *JSONDecoder) Decode(ctx context.Context, src Source) (nix.Value, error) {
	if !json.Valid(src.Data) {
		var probe any
		err := json.Unmarshal(src.Data, &probe)
		if err == nil {
			err = fmt.Errorf("invalid JSON")
		}
		return nix.Value{}, LoadError{File: src.Name, Message: err.Error()}
	}

	dec := json.NewDecoder(bytes.NewReader(src.Data))
	dec.UseNumber()

	v, err := decodeJSON(dec, "")
	if err != nil {
		if le, ok := err.(LoadError); ok {
			le.File = src.Name
			return nix.Value{}, le
		}
		return nix.Value{}, LoadError{File: src.Name, Message: err.Error()}
	}
	return v, nil
}

func decodeJSON(dec *json.Decoder, path string) (nix.Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nix.Value{}, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeJSONObject(dec, path)
		case '[':
			return decodeJSONArray(dec, path)
		}
		return nix.Value{}, LoadError{Path: path, Message: fmt.Sprintf("unexpected delimiter %s", t)}
	case string:
		return nix.String(t), nil
	case json.Number:
		return jsonNumber(string(t), path)
	case float64:
		return nix.Float(t), nil
	case bool:
		return nix.Bool(t), nil
	case nil:
		return nix.Null(), nil
	}
	return nix.Value{}, LoadError{Path: path, Message: fmt.Sprintf("unexpected token %v", tok)}
}

// decodeJSONObject reads members after the opening brace. Keys and values
// arrive as separate tokens and are paired by a MapBuilder.
func decodeJSONObject(dec *json.Decoder, path string) (nix.Value, error) {
	var b nix.MapBuilder
	seen := make(map[string]bool)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nix.Value{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return nix.Value{}, LoadError{Path: path, Message: fmt.Sprintf("object key must be a string, got %v", tok)}
		}
		if seen[key] {
			return nix.Value{}, LoadError{Path: path, Message: fmt.Sprintf("duplicate key %q", key)}
		}
		seen[key] = true

		if err := b.Key(nix.String(key)); err != nil {
			return nix.Value{}, err
		}

		fieldPath := key
		if path != "" {
			fieldPath = path + "." + key
		}
		v, err := decodeJSON(dec, fieldPath)
		if err != nil {
			return nix.Value{}, err
		}
		if err := b.Value(v); err != nil {
			return nix.Value{}, err
		}
	}

	// closing brace
	if _, err := dec.Token(); err != nil {
		return nix.Value{}, err
	}
	return b.Build()
}

func decodeJSONArray(dec *json.Decoder, path string) (nix.Value, error) {
	var items []nix.Value
	for i := 0; dec.More(); i++ {
		v, err := decodeJSON(dec, path+"["+strconv.Itoa(i)+"]")
		if err != nil {
			return nix.Value{}, err
		}
		items = append(items, v)
	}
	if _, err := dec.Token(); err != nil {
		return nix.Value{}, err
	}
	return nix.Seq(items...), nil
}

func jsonNumber(s, path string) (nix.Value, error) {
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return nix.Int(i), nil
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return nix.Uint(u), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return nix.Value{}, LoadError{Path: path, Message: fmt.Sprintf("number %s out of range", s)}
	}
	return nix.Float(f), nil
}
