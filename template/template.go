// Package template renders prompts from text/template sources whose values
// come from caller data and an optional dynamic DataSource.
package template

import (
	"context"
	"fmt"

	"github.com/hupe1980/reagent/internal/util"
)

// DataSource supplies dynamic template values. It is consulted once per
// rendering, before the prompt is finalized.
type DataSource interface {
	Values(ctx context.Context) (map[string]any, error)
}

// DataSourceFunc adapts a function to DataSource.
type DataSourceFunc func(ctx context.Context) (map[string]any, error)

// Values implements DataSource.
func (f DataSourceFunc) Values(ctx context.Context) (map[string]any, error) { return f(ctx) }

// StaticSource is a DataSource returning fixed values.
type StaticSource map[string]any

// Values implements DataSource.
func (s StaticSource) Values(context.Context) (map[string]any, error) {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// Template is a prompt template using text/template syntax ({{.key}}).
// Referencing a key that neither the source nor the caller provides fails.
type Template struct {
	text   string
	source DataSource
}

// New parses text eagerly so syntax errors surface at construction.
func New(text string, source DataSource) (*Template, error) {
	if err := util.ParseTemplate(text); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Template{text: text, source: source}, nil
}

// Must is like New but panics on error.
func Must(text string, source DataSource) *Template {
	t, err := New(text, source)
	if err != nil {
		panic(err)
	}
	return t
}

// Text returns the raw template text.
func (t *Template) Text() string { return t.text }

// Compile renders the template. Caller data takes precedence over values of
// the data source.
func (t *Template) Compile(ctx context.Context, data map[string]any) (string, error) {
	values := map[string]any{}

	if t.source != nil {
		generated, err := t.source.Values(ctx)
		if err != nil {
			return "", fmt.Errorf("template data source: %w", err)
		}
		for k, v := range generated {
			values[k] = v
		}
	}

	for k, v := range data {
		values[k] = v
	}

	out, err := util.RenderTemplate(t.text, values)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}

	return out, nil
}
