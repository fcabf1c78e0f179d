package config

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/nixser/pkg/nix"
	"gopkg.in/yaml.v3"
)

// Local YAML tags understood by YAMLDecoder.
const (
	yamlTagPath    = "!path"
	yamlTagLiteral = "!nix"
)

// YAMLDecoder decodes YAML documents. Mapping order is preserved, merge keys
// (<<) are expanded, !path scalars become Nix paths, !nix scalars raw Nix
// expressions and !!binary scalars byte lists.
type YAMLDecoder struct{}

// NewYAMLDecoder creates a new YAML decoder.
func NewYAMLDecoder() *YAMLDecoder {
	return &YAMLDecoder{}
}

// Decode parses the first document of the source.
func (d *YAMLDecoder) Decode(ctx context.Context, src Source) (nix.Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(src.Data, &doc); err != nil {
		return nix.Value{}, LoadError{File: src.Name, Message: err.Error()}
	}
	v, err := yamlToValue(&doc, "")
	if err != nil {
		if le, ok := err.(LoadError); ok {
			le.File = src.Name
			return nix.Value{}, le
		}
		return nix.Value{}, err
	}
	return v, nil
}

func yamlToValue(n *yaml.Node, path string) (nix.Value, error) {
	switch n.Kind {
	case 0:
		return nix.Null(), nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nix.Null(), nil
		}
		return yamlToValue(n.Content[0], path)
	case yaml.AliasNode:
		return yamlToValue(n.Alias, path)
	case yaml.SequenceNode:
		items := make([]nix.Value, len(n.Content))
		for i, c := range n.Content {
			item, err := yamlToValue(c, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nix.Value{}, err
			}
			items[i] = item
		}
		return nix.Seq(items...), nil
	case yaml.MappingNode:
		m := &yamlMapping{index: make(map[string]int), explicit: make(map[string]bool)}
		if err := m.add(n, path, true); err != nil {
			return nix.Value{}, err
		}
		return nix.Map(m.entries...), nil
	case yaml.ScalarNode:
		return yamlScalar(n, path)
	}
	return nix.Value{}, yamlError(n, path, fmt.Sprintf("unsupported node kind %d", n.Kind))
}

// yamlMapping accumulates mapping entries, resolving merge keys. A key
// written in the mapping itself replaces a merged one, but may appear only
// once.
type yamlMapping struct {
	entries  []nix.Entry
	index    map[string]int
	explicit map[string]bool
}

func (m *yamlMapping) add(n *yaml.Node, path string, explicit bool) error {
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]

		if k.Kind == yaml.ScalarNode && k.ShortTag() == "!!merge" {
			if err := m.merge(v, path); err != nil {
				return err
			}
			continue
		}

		key, err := yamlScalar(k, path)
		if err != nil {
			return err
		}
		name := keyText(key)
		fieldPath := name
		if path != "" {
			fieldPath = path + "." + name
		}
		value, err := yamlToValue(v, fieldPath)
		if err != nil {
			return err
		}
		if explicit && m.explicit[name] {
			return yamlError(k, fieldPath, fmt.Sprintf("duplicate key %q", name))
		}
		m.set(key, name, value, explicit)
	}
	return nil
}

// merge adds the entries of a merged mapping (or list of mappings) without
// overriding keys set explicitly.
func (m *yamlMapping) merge(v *yaml.Node, path string) error {
	if v.Kind == yaml.AliasNode {
		v = v.Alias
	}
	switch v.Kind {
	case yaml.MappingNode:
		return m.add(v, path, false)
	case yaml.SequenceNode:
		for _, c := range v.Content {
			if err := m.merge(c, path); err != nil {
				return err
			}
		}
		return nil
	}
	return yamlError(v, path, "merge value must be a mapping or a list of mappings")
}

func (m *yamlMapping) set(key nix.Value, name string, value nix.Value, override bool) {
	if override {
		m.explicit[name] = true
	}
	if i, ok := m.index[name]; ok {
		if override {
			m.entries[i].Value = value
		}
		return
	}
	m.index[name] = len(m.entries)
	m.entries = append(m.entries, nix.Entry{Key: key, Value: value})
}

func yamlScalar(n *yaml.Node, path string) (nix.Value, error) {
	if n.Kind == yaml.AliasNode {
		return yamlToValue(n.Alias, path)
	}
	if n.Kind != yaml.ScalarNode {
		return nix.Value{}, yamlError(n, path, "mapping keys must be scalars")
	}

	switch n.Tag {
	case yamlTagPath:
		p, err := nix.NewPath(n.Value)
		if err != nil {
			return nix.Value{}, yamlError(n, path, err.Error())
		}
		return p.MarshalNix()
	case yamlTagLiteral:
		return nix.RawLiteral(n.Value), nil
	}

	switch n.ShortTag() {
	case "!!null":
		return nix.Null(), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nix.Value{}, yamlError(n, path, err.Error())
		}
		return nix.Bool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err == nil {
			return nix.Int(i), nil
		}
		var u uint64
		if err := n.Decode(&u); err != nil {
			return nix.Value{}, yamlError(n, path, err.Error())
		}
		return nix.Uint(u), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nix.Value{}, yamlError(n, path, err.Error())
		}
		return nix.Float(f), nil
	case "!!binary":
		b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(n.Value), ""))
		if err != nil {
			return nix.Value{}, yamlError(n, path, "invalid !!binary: "+err.Error())
		}
		return nix.Bytes(b), nil
	case "!!str", "!!timestamp":
		return nix.String(n.Value), nil
	}
	return nix.Value{}, yamlError(n, path, fmt.Sprintf("unsupported tag %s", n.Tag))
}

func yamlError(n *yaml.Node, path, msg string) LoadError {
	return LoadError{Line: n.Line, Column: n.Column, Path: path, Message: msg}
}
