// Package core provides the foundational domain types shared by every reagent
// package:
//
//   - Message / ToolCall (the role-tagged conversation model)
//   - ToolDefinition (tool metadata exposed to providers)
//   - the error taxonomy (ProviderError, StructuredOutputError,
//     DeserializationError, BuildError and sentinel errors)
//   - IterationLimiter (bounded tool-loop iterations)
//
// The package has no dependencies on providers, transports or flows so that
// every other package can build on it without import cycles.
package core
