/*
Package config loads source documents and converts them into Nix value trees.

# Formats

Five source formats are supported. The format is detected from the file
extension unless Options.Format forces one:

  - CUE (.cue), or a directory holding a CUE package. The value must be
    concrete. A string field tagged @nix(path) becomes a path literal and
    @nix(literal) a raw Nix expression.
  - Starlark (.star, .bzl, .sky). Every global not starting with an
    underscore becomes an attribute. The predeclared struct(), path() and
    literal() builtins build records, paths and raw expressions.
  - YAML (.yaml, .yml). The !path and !nix tags mark paths and raw
    expressions. Merge keys are honoured.
  - JSON (.json). Duplicate keys are rejected.
  - WASI command modules (.wasm). The module runs sandboxed, with no
    filesystem or network, and must print a JSON document to stdout.

Field and key order follow the source wherever the language preserves it.

# Usage

	loader, err := config.NewLoader(config.DefaultOptions(), logger)
	if err != nil {
		return err
	}

	doc, err := loader.Load(ctx, "hosts/web.cue")
	if err != nil {
		return err
	}

	out, err := nix.Encode(doc.Value)

# Schemas

A SchemaRegistry holds CUE schemas documents of any format can be checked
against. Each schema defines #Schema; the built-in ones are "module",
"package" and "flake".

# Watching

Watcher reports edits to source files and directories after a short
debounce so callers can re-render.
*/
package config
