package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/reagent/internal/util"
	"github.com/hupe1980/reagent/logging"
	"github.com/hupe1980/reagent/schema"
)

// Func is the signature of a plain Go function exposed as a tool. The result
// is stringified (strings verbatim, everything else JSON encoded).
type Func func(ctx context.Context, args map[string]any) (any, error)

// FunctionTool is a generic adapter that exposes a plain Go function as a tool.
//
// Responsibilities:
//   - Holds a lightweight JSON schema describing its parameters
//   - Compiles that schema once and validates model supplied arguments against
//     it before execution
//   - Normalizes error handling so callers receive *ToolError with consistent codes:
//     ARGUMENT_PARSING_ERROR -> schema / argument mismatch
//     EXECUTION_ERROR        -> underlying function returned an error (non-ToolError)
//     (custom codes preserved if the function returns *ToolError directly)
//
// A FunctionTool has no internal mutable state after construction and is safe for
// concurrent use by multiple goroutines.
type FunctionTool struct {
	// Tool identifier (snake_case recommended)
	name string
	// Human-readable description shown to models
	description string
	// JSON schema describing accepted arguments
	parameters map[string]any
	// Compiled parameters; nil when schemaErr is set
	validator *schema.Validator
	schemaErr error
	// User supplied implementation
	fn Func
	// Optional logger (NoOp by default)
	logger logging.Logger
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(name, description string, parameters map[string]any, fn Func) *FunctionTool {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	validator, err := schema.Compile(parameters)
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		validator:   validator,
		schemaErr:   err,
		fn:          fn,
		logger:      logging.NoOpLogger{},
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using reflection.
//
// Example:
//
//	type SumArgs struct {
//	  A float64 `json:"a" description:"First addend"`
//	  B float64 `json:"b" description:"Second addend"`
//	}
//
//	sumTool := NewFunctionToolFromStruct("calculate_sum", "Calculate the sum of two numbers", SumArgs{}, fn)
func NewFunctionToolFromStruct(name, description string, structType any, fn Func) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// WithLogger sets the logger used for call diagnostics and returns the tool.
func (t *FunctionTool) WithLogger(l logging.Logger) *FunctionTool {
	t.logger = logging.OrNoOp(l)
	return t
}

// Name returns the unique tool name used in function call declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the (minimal) JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates the provided args against the declared schema then invokes the
// underlying function.
//
// Error Semantics:
//
//	*ToolError (returned directly)  -> forwarded unchanged
//	validation failure              -> *ToolError{Code: "ARGUMENT_PARSING_ERROR"}
//	invalid parameter schema        -> *ToolError{Code: "EXECUTION_ERROR"}
//	other error                     -> *ToolError{Code: "EXECUTION_ERROR"}
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (string, error) {
	start := time.Now()

	t.logger.Debug("tool.call.start", "tool", t.name)

	if args == nil {
		args = map[string]any{}
	}

	if t.schemaErr != nil {
		return "", &ToolError{Tool: t.name, Message: t.schemaErr.Error(), Code: CodeExecution, Details: t.schemaErr}
	}

	if err := t.validate(args); err != nil {
		t.logger.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())
		return "", &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeArgumentParsing,
			Details: err,
		}
	}

	result, err := t.fn(ctx, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) { // Already a ToolError -> just log and forward
			t.logger.Error("tool.call.error", "tool", t.name, "error", toolErr.Message)
			return "", toolErr
		}

		t.logger.Error("tool.call.error", "tool", t.name, "error", err.Error())

		return "", &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    CodeExecution,
			Details: err,
		}
	}

	out, err := util.Stringify(result)
	if err != nil {
		return "", &ToolError{Tool: t.name, Message: err.Error(), Code: CodeExecution, Details: err}
	}

	t.logger.Info("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return out, nil
}

// validate checks args in their JSON form, so Go callers passing ints or
// typed slices see the same result as decoded model arguments.
func (t *FunctionTool) validate(args map[string]any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return &ValidationError{Tool: t.name, Err: err}
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return &ValidationError{Tool: t.name, Err: err}
	}
	if err := t.validator.ValidateValue(instance); err != nil {
		return &ValidationError{Tool: t.name, Err: err}
	}
	return nil
}
