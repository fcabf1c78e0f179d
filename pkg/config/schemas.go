package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// schemaDef is the definition a schema source must declare. Documents are
// unified with it.
const schemaDef = "#Schema"

// SchemaRegistry manages CUE schemas that loaded documents can be checked
// against, whatever their source format.
type SchemaRegistry struct {
	mu      sync.Mutex
	ctx     *cue.Context
	schemas map[string]cue.Value
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	for name, src := range map[string]string{
		"module":  builtinModuleSchema,
		"package": builtinPackageSchema,
		"flake":   builtinFlakeSchema,
	} {
		if err := sr.RegisterSchema(name, src); err != nil {
			panic(fmt.Sprintf("built-in schema %s: %v", name, err))
		}
	}
}

// RegisterSchema compiles a CUE schema and registers it under name. The
// source must define #Schema.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(schemaDef))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, schemaDef)
	}

	sr.schemas[name] = def
	return nil
}

// RegisterSchemaFile registers the schema in a .cue file under the file's
// base name and returns that name.
func (sr *SchemaRegistry) RegisterSchemaFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read schema: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := sr.RegisterSchema(name, string(data)); err != nil {
		return "", err
	}
	return name, nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Validate checks plain Go data (see Plain) against a named schema.
func (sr *SchemaRegistry) Validate(ctx context.Context, schemaName string, data any) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[schemaName]
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema %s: %w", schemaName, convertCUEErrors(err))
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

const builtinModuleSchema = `
// NixOS module file
#Schema: {
	imports?: [...string]
	options?: {...}
	config?: {...}
	...
}
`

const builtinPackageSchema = `
// Arguments for a mkDerivation call
#Schema: {
	pname:   string & =~"^[a-zA-Z0-9_+.-]+$"
	version: string
	src?:    string
	buildInputs?: [...string]
	nativeBuildInputs?: [...string]
	meta?: {
		description?: string
		license?:     string
		platforms?: [...string]
		...
	}
	...
}
`

const builtinFlakeSchema = `
// Flake inputs and description
#Schema: {
	description?: string
	inputs?: [string]: {
		url?:    string
		follows?: string
		flake?:  bool
		inputs?: {...}
	}
	...
}
`
