package tool

import (
	"errors"
	"fmt"
)

// Builder errors.
var (
	ErrMissingName        = errors.New("tool name is required")
	ErrMissingDescription = errors.New("tool description is required")
	ErrMissingExecutor    = errors.New("tool executor is required")
)

type property struct {
	name   string
	schema map[string]any
}

// Builder assembles a FunctionTool fluently.
//
//	weather, err := tool.NewBuilder().
//		Name("get_weather").
//		Description("Get the current weather for a city").
//		Property("city", "string", "Name of the city").
//		Required("city").
//		Executor(fn).
//		Build()
type Builder struct {
	name        string
	description string
	properties  []property
	required    []string
	executor    Func
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Name sets the tool name. Required.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// Description sets the tool description. Required.
func (b *Builder) Description(desc string) *Builder {
	b.description = desc
	return b
}

// Property declares an argument with a JSON schema type and description.
// Declaring the same name twice replaces the earlier declaration.
func (b *Builder) Property(name, typ, description string) *Builder {
	schema := map[string]any{"type": typ}
	if description != "" {
		schema["description"] = description
	}
	return b.PropertySchema(name, schema)
}

// PropertySchema declares an argument with a full JSON schema fragment.
func (b *Builder) PropertySchema(name string, schema map[string]any) *Builder {
	for i := range b.properties {
		if b.properties[i].name == name {
			b.properties[i].schema = schema
			return b
		}
	}
	b.properties = append(b.properties, property{name: name, schema: schema})
	return b
}

// Required marks arguments as mandatory.
func (b *Builder) Required(names ...string) *Builder {
	b.required = append(b.required, names...)
	return b
}

// Executor sets the function run when the tool is called. Required.
func (b *Builder) Executor(fn Func) *Builder {
	b.executor = fn
	return b
}

// Build validates the configuration and returns the tool.
func (b *Builder) Build() (*FunctionTool, error) {
	switch {
	case b.name == "":
		return nil, ErrMissingName
	case b.description == "":
		return nil, ErrMissingDescription
	case b.executor == nil:
		return nil, ErrMissingExecutor
	}

	props := make(map[string]any, len(b.properties))
	for _, p := range b.properties {
		props[p.name] = p.schema
	}

	params := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(b.required) > 0 {
		params["required"] = append([]string(nil), b.required...)
	}

	ft := NewFunctionTool(b.name, b.description, params, b.executor)
	if ft.schemaErr != nil {
		return nil, fmt.Errorf("tool %s: %w", b.name, ft.schemaErr)
	}
	return ft, nil
}
