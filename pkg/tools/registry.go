package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Handler executes a tool call. Expected failure modes ("not found",
// "unavailable") must come back as explanatory text, not panics.
type Handler func(ctx context.Context, args map[string]interface{}) string

// Parameter describes one tool argument.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Definition describes a tool's contract and its handler.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Spec is the platform-facing description of a registered tool.
type Spec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Registry maps tool names to handlers with compiled argument schemas.
type Registry struct {
	defs    map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:    make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool. Registering a duplicate name is an error.
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	r.defs[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns platform-facing descriptions for the named tools. Unknown
// names are skipped. An empty names slice means all registered tools.
func (r *Registry) Specs(names []string) []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		names = make([]string, 0, len(r.defs))
		for name := range r.defs {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	specs := make([]Spec, 0, len(names))
	for _, name := range names {
		def, ok := r.defs[name]
		if !ok {
			continue
		}
		specs = append(specs, Spec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: inputSchema(def),
		})
	}
	return specs
}

// Invoke runs a tool and always returns displayable text. Lookup misses,
// argument validation failures and handler panics become result text so the
// remote agent can react to them.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) (result string) {
	r.mu.RLock()
	def := r.defs[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if def == nil {
		log.Warn().Str("tool", name).Msg("Tool not found")
		return fmt.Sprintf("tool not found: %s", name)
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	if err := validateArgs(schema, args); err != nil {
		log.Warn().Str("tool", name).Err(err).Msg("Tool argument validation failed")
		return fmt.Sprintf("invalid arguments for %s: %v", name, err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("tool", name).Interface("panic", rec).Msg("Tool handler panicked")
			result = fmt.Sprintf("tool %s failed unexpectedly: %v", name, rec)
		}
	}()

	log.Debug().Str("tool", name).Msg("Invoking tool")

	return def.Handler(ctx, args)
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
	}

	return nil
}

// inputSchema builds the JSON-schema object sent to the platform.
func inputSchema(def *Definition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		properties[param.Name] = map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	schemaMap := inputSchema(&def)
	schemaMap["additionalProperties"] = false

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := []string{}
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}
