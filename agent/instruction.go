package agent

import (
	"context"

	"github.com/hupe1980/reagent/template"
)

// Provider supplies dynamic instruction text when the agent is built.
// Implementations can derive instructions from environment, files, etc.
type Provider interface {
	Instruction(ctx context.Context) (string, error)
}

// InstructionFunc is a functional adapter to allow ordinary functions to be
// used as Providers.
type InstructionFunc func(ctx context.Context) (string, error)

// Instruction implements Provider.
func (f InstructionFunc) Instruction(ctx context.Context) (string, error) { return f(ctx) }

// Instruction represents either a static system prompt or a dynamic provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ctx context.Context) (string, error)) Instruction {
	return Instruction{provider: InstructionFunc(f)}
}

// NewInstructionFromTemplate renders t with data when the agent is built.
func NewInstructionFromTemplate(t *template.Template, data map[string]any) Instruction {
	return NewInstructionFromFunc(func(ctx context.Context) (string, error) {
		return t.Compile(ctx, data)
	})
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(ctx context.Context) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ctx)
	}
	return i.text, nil
}
