// Package model defines the provider-agnostic contract between the engine and
// language model backends.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool call representation (core.ToolDefinition, core.ToolCall)
//   - Carry the immutable invocation options snapshot with every request
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI-compatible backends, Anthropic) implement Model in
// sub-packages so agents and flows remain decoupled from vendor SDKs.
package model
