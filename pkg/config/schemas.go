package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/mbedconf/mbedconf/pkg/engine"
)

// Schema names.
const (
	SchemaLibrary     = "library"
	SchemaApplication = "application"
	SchemaTarget      = "target"
)

// SchemaRegistry manages CUE schemas for document validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
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
	// Built-in schemas compile or the binary is broken
	for name, def := range map[string]string{
		SchemaLibrary:     "#Library",
		SchemaApplication: "#Application",
		SchemaTarget:      "#Target",
	} {
		if err := sr.RegisterSchema(name, builtinSchemas, def); err != nil {
			panic(err)
		}
	}
}

// RegisterSchema compiles source and registers the definition def under
// name. An empty def registers the whole value.
func (sr *SchemaRegistry) RegisterSchema(name, source, def string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	if def != "" {
		val = val.LookupPath(cue.ParsePath(def))
		if !val.Exists() {
			return fmt.Errorf("schema %s has no definition %s", name, def)
		}
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates a decoded document against a named schema.
// The returned error carries one ValidationError per violation.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data engine.OrderedMap) error {
	// A cue.Context is not safe for concurrent use
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[schemaName]
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(plain(data))
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// plain converts ordered documents into the maps and slices CUE encodes.
func plain(v interface{}) interface{} {
	switch val := v.(type) {
	case engine.OrderedMap:
		out := make(map[string]interface{}, len(val))
		for _, e := range val {
			out[e.Key] = plain(e.Value)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = plain(item)
		}
		return out
	default:
		return val
	}
}

// Built-in schema definitions

const builtinSchemas = `
// A parameter is declared either with a bare value or with a definition
#Parameter: null | bool | number | string | [...] | #ParameterDef

#ParameterDef: {
	help?:       string
	value?:      _
	required?:   bool
	macro_name?: string & =~"^[A-Za-z_][A-Za-z0-9_]*$"
}

// Override sections are keyed by "*" or by a target label
#TargetOverrides: {[string]: {[string]: _}}

#Library: {
	name:              string & =~"^[A-Za-z0-9_-]+$"
	config?:           {[string]: #Parameter}
	target_overrides?: #TargetOverrides
	macros?:           [...string]
}

#Application: {
	config?:           {[string]: #Parameter}
	target_overrides?: #TargetOverrides
	macros?:           [...string]
	artifact_name?:    string
	custom_targets?:   {[string]: #Target}
}

// Targets carry arbitrary attributes besides the ones checked here
#Target: {
	inherits?:             [...string]
	public?:               bool
	core?:                 null | string
	device_name?:          string
	bootloader_supported?: bool
	config?:               {[string]: #Parameter}
	overrides?:            {[string]: _}
	...
}
`
