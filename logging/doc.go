// Package logging provides a minimal logging interface and adapters for reagent.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that agents, flows and tool dispatch use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZapAdapter wrapping go.uber.org/zap
//   - StructuredLogger with agent / component context
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	a, err := agent.New(ctx, "assistant", m, agent.WithLogger(logger))
package logging
