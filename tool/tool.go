// Package tool implements the function / tool calling subsystem that lets agents
// invoke structured capabilities (APIs, computations, side‑effects) with schema
// validated arguments and consistent error handling.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/reagent/core"
)

// Tool defines the interface for extending agent capabilities with external functions.
//
// Tools are registered with an agent's Registry and advertised to the model.
// When the model requests a call, the flow resolves the tool by name and
// invokes Call with the decoded arguments. Implementations must be safe for
// concurrent use: calls of one turn run in parallel.
type Tool interface {
	// Name returns the unique identifier for this tool.
	// Names should be descriptive and follow function naming conventions (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the LLM to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool and returns the text handed back to the model.
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Definition converts a tool into the declaration sent to providers.
func Definition(t Tool) core.ToolDefinition {
	return core.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}

// ValidationError reports arguments that do not satisfy a tool's parameter
// schema.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Tool error codes.
const (
	CodeArgumentParsing = "ARGUMENT_PARSING_ERROR"
	CodeExecution       = "EXECUTION_ERROR"
	CodeNotFound        = "TOOL_NOT_FOUND"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap exposes an underlying error stored in Details.
func (e *ToolError) Unwrap() error {
	if err, ok := e.Details.(error); ok {
		return err
	}
	return nil
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// NotFound reports a call to a tool that is not registered.
func NotFound(name string) *ToolError {
	return NewToolError(name, fmt.Sprintf("tool %q is not available", name), CodeNotFound)
}

// NotFoundPayload renders the tool message content recorded for a call to an
// unknown tool so the model can recover.
func NotFoundPayload(name string) string {
	b, _ := json.Marshal(map[string]string{
		"error":   "tool_not_found",
		"tool":    name,
		"message": NotFound(name).Message,
	})
	return string(b)
}
