package toolcatalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaCache compiles and memoizes each tool's input_schema. Compilation is
// relatively expensive (ref resolution, vocabulary loading); tool metadata is
// itself cached by Catalog, but a fresh ToolMeta value after a cache
// invalidation shouldn't force a recompile of an unchanged schema.
type schemaCache struct {
	mu    sync.Mutex
	byKey map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{byKey: make(map[string]*jsonschema.Schema)}
}

// compile returns the compiled schema for raw, keyed by name so distinct
// tools never collide in the compiler's resource namespace.
func (c *schemaCache) compile(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	key := name + ":" + string(raw)
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.byKey[key]; ok {
		return s, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("toolcatalog: unmarshal input_schema for %q: %w", name, err)
	}
	comp := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := comp.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("toolcatalog: add schema resource for %q: %w", name, err)
	}
	schema, err := comp.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("toolcatalog: compile input_schema for %q: %w", name, err)
	}
	c.byKey[key] = schema
	return schema, nil
}

// validate checks args against name's input_schema. A tool with no schema
// (empty/absent input_schema) is treated as unconstrained.
func (c *schemaCache) validate(name string, schemaRaw json.RawMessage, args json.RawMessage) error {
	if len(schemaRaw) == 0 {
		return nil
	}
	schema, err := c.compile(name, schemaRaw)
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(args)))
	if err != nil {
		return fmt.Errorf("toolcatalog: unmarshal args for %q: %w", name, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("toolcatalog: args for %q failed input_schema: %w", name, err)
	}
	return nil
}
