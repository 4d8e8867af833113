// Package schema validates structured model output against a JSON Schema and
// decodes it into caller types.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/internal/util"
)

// ErrInvalidSchema reports a schema that cannot be compiled.
var ErrInvalidSchema = errors.New("invalid json schema")

// Validator checks content against a compiled JSON Schema. It is immutable
// and safe for concurrent use.
type Validator struct {
	schema   map[string]any
	resolved *jsonschema.Resolved
}

// Compile builds a validator. A "$schema" declaration is ignored; schemas are
// interpreted as draft 2020-12.
func Compile(schema map[string]any) (*Validator, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("%w: empty schema", ErrInvalidSchema)
	}

	clean := make(map[string]any, len(schema))
	for k, v := range schema {
		if k == "$schema" {
			continue
		}
		clean[k] = v
	}

	raw, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	var js jsonschema.Schema
	if err := json.Unmarshal(raw, &js); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	resolved, err := js.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	return &Validator{schema: schema, resolved: resolved}, nil
}

// Schema returns the schema the validator was compiled from.
func (v *Validator) Schema() map[string]any { return v.schema }

// Validate parses content as JSON and validates it. JSON wrapped in prose or
// code fences is extracted first. Failures are *core.StructuredOutputError.
func (v *Validator) Validate(content string) (string, error) {
	doc := util.ExtractJSON(content)

	var instance any
	if err := json.Unmarshal([]byte(doc), &instance); err != nil {
		return "", &core.StructuredOutputError{Content: content, Err: fmt.Errorf("not valid json: %w", err)}
	}

	if err := v.resolved.Validate(instance); err != nil {
		return "", &core.StructuredOutputError{Content: content, Err: err}
	}

	return doc, nil
}

// ValidateValue validates an already decoded JSON value.
func (v *Validator) ValidateValue(instance any) error {
	return v.resolved.Validate(instance)
}

// Decode unmarshals a JSON document into T. Failures are
// *core.DeserializationError.
func Decode[T any](content string) (T, error) {
	var out T
	doc := util.ExtractJSON(content)
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		var zero T
		return zero, &core.DeserializationError{Target: typeName[T](), Content: content, Err: err}
	}
	return out, nil
}

// Parse validates content with v and decodes it into T.
func Parse[T any](v *Validator, content string) (T, error) {
	doc, err := v.Validate(content)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](doc)
}

// For derives a JSON Schema from T using its json tags. Struct fields without
// omitempty are required and unknown properties are rejected.
func For[T any]() (map[string]any, error) {
	js, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	raw, err := json.Marshal(js)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	return out, nil
}

// MustFor is like For but panics on error. Intended for package level
// declarations with static types.
func MustFor[T any]() map[string]any {
	s, err := For[T]()
	if err != nil {
		panic(err)
	}
	return s
}

func typeName[T any]() string {
	t := reflect.TypeFor[T]()
	if t == nil {
		return "interface {}"
	}
	return t.String()
}
