package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateTool is returned when two tools share a name.
	ErrDuplicateTool = errors.New("duplicate tool name")
	// ErrMissingModel is returned when an agent is built without a model.
	ErrMissingModel = errors.New("model is required")
	// ErrIterationsExhausted marks a flow that hit its iteration bound. It is
	// reported through notifications only; invoke still returns the last reply.
	ErrIterationsExhausted = errors.New("max iterations exhausted")
	// ErrEmptyResponse is returned by a provider that closed its stream without
	// a final message.
	ErrEmptyResponse = errors.New("provider returned no final message")
)

// ProviderErrorKind classifies provider failures.
type ProviderErrorKind string

const (
	// ProviderErrorTransport covers network and connection failures.
	ProviderErrorTransport ProviderErrorKind = "transport"
	// ProviderErrorAuth covers rejected credentials (401/403).
	ProviderErrorAuth ProviderErrorKind = "auth"
	// ProviderErrorModel covers model side rejections (4xx/5xx, unknown model, rate limit).
	ProviderErrorModel ProviderErrorKind = "model"
	// ProviderErrorProtocol covers malformed or incomplete provider payloads.
	ProviderErrorProtocol ProviderErrorKind = "protocol"
)

// ProviderError is a terminal failure of the provider round-trip.
type ProviderError struct {
	Kind     ProviderErrorKind `json:"kind"`
	Provider string            `json:"provider"`
	Err      error             `json:"-"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error [%s] from %s: %v", e.Kind, e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err with a provider failure classification.
func NewProviderError(provider string, kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Err: err}
}

// ClassifyStatus maps an HTTP status code to a provider error kind.
func ClassifyStatus(status int) ProviderErrorKind {
	switch {
	case status == 401 || status == 403:
		return ProviderErrorAuth
	case status == 0:
		return ProviderErrorTransport
	default:
		return ProviderErrorModel
	}
}

// StructuredOutputError reports a final reply that does not satisfy the
// configured response schema.
type StructuredOutputError struct {
	Content string `json:"content"`
	Err     error  `json:"-"`
}

func (e *StructuredOutputError) Error() string {
	return fmt.Sprintf("structured output does not match schema: %v", e.Err)
}

func (e *StructuredOutputError) Unwrap() error { return e.Err }

// DeserializationError reports schema-valid JSON that could not populate the
// caller's type.
type DeserializationError struct {
	Target  string `json:"target"`
	Content string `json:"content"`
	Err     error  `json:"-"`
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("failed to deserialize structured output into %s: %v", e.Target, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// BuildError reports a construction time misconfiguration. Agents are never
// returned alongside a BuildError.
type BuildError struct {
	Op  string `json:"op"`
	Err error  `json:"-"`
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s: %v", e.Op, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// NewBuildError wraps err as a BuildError for the given construction step.
func NewBuildError(op string, err error) *BuildError {
	return &BuildError{Op: op, Err: err}
}
